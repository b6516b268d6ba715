// Package inference turns a prompt template and a piece of content into a
// validated, typed analysis result.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/influix/influix/internal/completion"
	"github.com/influix/influix/internal/prompts"
	"github.com/influix/influix/internal/provider"
	"github.com/influix/influix/internal/schema"
)

// DefaultTemplate is the template used by Analyze.
const DefaultTemplate = "content-analysis"

// ComparisonTemplate is the template used by Compare.
const ComparisonTemplate = "comparison"

// Completer sends chat messages to a model.
type Completer interface {
	Complete(ctx context.Context, messages []provider.Message, opts completion.Options) completion.Result
}

// Templates resolves prompt templates.
type Templates interface {
	Get(id string) (prompts.Template, error)
	GetVersion(id string, version int) (prompts.Template, error)
}

// Engine runs analyses. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	templates Templates
	client    Completer
	logger    *slog.Logger
}

// New creates an Engine.
func New(templates Templates, client Completer) *Engine {
	return &Engine{templates: templates, client: client, logger: slog.Default()}
}

// Analyze runs the default content-analysis template.
func (e *Engine) Analyze(ctx context.Context, content string, metadata map[string]any) Outcome {
	return e.Run(ctx, DefaultTemplate, content, metadata)
}

// Run analyzes content with the latest version of the named template.
func (e *Engine) Run(ctx context.Context, templateID, content string, metadata map[string]any) Outcome {
	tmpl, err := e.templates.Get(templateID)
	if err != nil {
		return unknownTemplate(templateID, err)
	}
	return e.run(ctx, tmpl, content, metadata)
}

// RunVersion analyzes content with an exact template version.
func (e *Engine) RunVersion(ctx context.Context, templateID string, version int, content string, metadata map[string]any) Outcome {
	tmpl, err := e.templates.GetVersion(templateID, version)
	if err != nil {
		return unknownTemplate(templateID, err)
	}
	return e.run(ctx, tmpl, content, metadata)
}

// Compare runs the comparison template over two pieces of content.
func (e *Engine) Compare(ctx context.Context, contentA, contentB string, metadata map[string]any) Outcome {
	return e.Run(ctx, ComparisonTemplate, ComparisonInput(contentA, contentB), metadata)
}

func (e *Engine) run(ctx context.Context, tmpl prompts.Template, content string, metadata map[string]any) Outcome {
	ref := TemplateRef{ID: tmpl.ID, Version: tmpl.Version}

	contract, err := schema.LookupRevision(tmpl.Contract, tmpl.ContractRevision)
	if err != nil {
		return Outcome{Template: ref, Failure: &Failure{Reason: ReasonUnknownTemplate, Detail: err.Error()}}
	}
	messages, err := BuildMessages(tmpl, content, metadata)
	if err != nil {
		return Outcome{Template: ref, Failure: &Failure{Reason: ReasonInvalidInput, Detail: err.Error()}}
	}

	res := e.client.Complete(ctx, messages, completion.Options{JSONMode: true})
	if !res.Success {
		e.logger.Warn("analysis model call failed",
			"template", tmpl.ID, "version", tmpl.Version, "attempts", res.Attempts, "error", res.Error)
		return Outcome{
			Template:  ref,
			LatencyMs: res.LatencyMs,
			Attempts:  res.Attempts,
			Failure:   &Failure{Reason: ReasonModelError, Detail: res.Error},
		}
	}

	out, err := contract.Validate(res.Content)
	if err != nil {
		f := &Failure{Reason: ReasonSchemaViolation, Detail: err.Error()}
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			f.Violation = verr
		}
		e.logger.Warn("analysis output rejected",
			"template", tmpl.ID, "version", tmpl.Version, "error", err)
		return Outcome{
			Template:  ref,
			Usage:     res.Usage,
			LatencyMs: res.LatencyMs,
			Attempts:  res.Attempts,
			Failure:   f,
		}
	}

	return Outcome{
		Template:  ref,
		Result:    out,
		Usage:     res.Usage,
		LatencyMs: res.LatencyMs,
		Attempts:  res.Attempts,
	}
}

func unknownTemplate(id string, err error) Outcome {
	return Outcome{Failure: &Failure{
		Reason: ReasonUnknownTemplate,
		Detail: fmt.Sprintf("template %q: %v", id, err),
	}}
}

// BuildMessages assembles the system and user messages for a template.
func BuildMessages(tmpl prompts.Template, content string, metadata map[string]any) ([]provider.Message, error) {
	var sys strings.Builder
	sys.WriteString(tmpl.SystemIntent)
	sys.WriteString("\n\n")
	sys.WriteString(tmpl.AnalysisInstruction)
	sys.WriteString("\n\nYou MUST respond with valid JSON matching this exact schema:\n")
	sys.WriteString(tmpl.OutputSchemaDescription)

	var user strings.Builder
	user.WriteString("Content to analyze:\n---\n")
	user.WriteString(content)
	user.WriteString("\n---")
	if len(metadata) > 0 {
		b, err := json.MarshalIndent(metadata, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		user.WriteString("\n\nAdditional context:\n")
		user.Write(b)
	}

	return []provider.Message{
		{Role: provider.RoleSystem, Content: sys.String()},
		{Role: provider.RoleUser, Content: user.String()},
	}, nil
}

// ComparisonInput lays two pieces of content out as one labelled payload.
func ComparisonInput(contentA, contentB string) string {
	return "Content A:\n" + contentA + "\n\nContent B:\n" + contentB
}
