package inference

import (
	"github.com/influix/influix/internal/provider"
	"github.com/influix/influix/internal/schema"
)

// Reason classifies a failed analysis.
type Reason string

const (
	// ReasonUnknownTemplate means the template id is not in the catalog.
	// No model call was made.
	ReasonUnknownTemplate Reason = "unknown_template"
	// ReasonInvalidInput means the request itself could not be turned into a
	// prompt, for example metadata that does not encode as JSON. No model
	// call was made.
	ReasonInvalidInput Reason = "invalid_input"
	// ReasonModelError means the model could not be reached after retries.
	ReasonModelError Reason = "model_error"
	// ReasonSchemaViolation means the model answered but the answer broke
	// the output contract. It is not retried.
	ReasonSchemaViolation Reason = "schema_violation"
)

// TemplateRef identifies the template version an outcome was produced with.
type TemplateRef struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// Failure describes why an analysis did not produce a result.
type Failure struct {
	Reason Reason `json:"reason"`
	Detail string `json:"detail"`
	// Violation is set for ReasonSchemaViolation and tells a non-JSON reply
	// apart from a contract breach.
	Violation *schema.ValidationError `json:"-"`
}

func (f *Failure) Error() string {
	return string(f.Reason) + ": " + f.Detail
}

// Outcome is the result of one analysis run. Exactly one of Result and
// Failure is set.
type Outcome struct {
	Template  TemplateRef
	Result    schema.Output
	Failure   *Failure
	Usage     *provider.Usage
	LatencyMs int64
	Attempts  int
}

// OK reports whether the run produced a validated result.
func (o Outcome) OK() bool { return o.Failure == nil && o.Result != nil }

// Analysis returns the result as a full content analysis, if it is one.
func (o Outcome) Analysis() (*schema.InsightAnalysis, bool) {
	a, ok := o.Result.(*schema.InsightAnalysis)
	return a, ok
}

// ViolationKind returns the validator's classification for schema
// violations and an empty string otherwise.
func (o Outcome) ViolationKind() schema.ErrorKind {
	if o.Failure == nil || o.Failure.Violation == nil {
		return ""
	}
	return o.Failure.Violation.Kind
}
