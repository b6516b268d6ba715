package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Contract ids. Prompt templates reference one of these.
const (
	ContractContentAnalysis = "content-analysis"
	ContractHookDetection   = "hook-detection"
	ContractComparison      = "comparison"
)

// Output is a validated, typed model result.
type Output interface {
	ContractID() string
}

// Contract binds a node tree to the typed structure it decodes into.
// Prompt template versions pin a contract revision, so a published revision
// is never edited: a different shape is appended as the next revision.
type Contract struct {
	ID       string
	Revision int
	Root     *Node
	decode   func([]byte) (Output, error)
}

// Describe renders the contract's shape description.
func (c *Contract) Describe() string {
	return Describe(c.Root)
}

// Validate checks raw against the contract and, on success, returns the
// typed output. Failures are *ValidationError.
func (c *Contract) Validate(raw string) (Output, error) {
	if err := Check(c.Root, raw); err != nil {
		return nil, err
	}
	out, err := c.decode([]byte(raw))
	if err != nil {
		return nil, &ValidationError{Kind: ContractViolation, Message: "decoding validated output", Err: err}
	}
	return out, nil
}

var (
	hookTypes      = []string{"question", "statistic", "story", "controversy", "promise", "curiosity", "pain-point", "other"}
	strengths      = []string{"strong", "moderate", "weak"}
	tones          = []string{"educational", "entertaining", "inspirational", "conversational", "professional", "urgent", "calm", "provocative"}
	narrativeTypes = []string{"linear", "problem-solution", "before-after", "list", "story-arc", "comparison"}
	applicability  = []string{"high", "medium", "low"}
	winners        = []string{"A", "B", "tie"}
)

// registry lists every revision of each contract in ascending order.
var registry = map[string][]*Contract{
	ContractContentAnalysis: {{
		ID:       ContractContentAnalysis,
		Revision: 1,
		Root:     insightAnalysisNode(),
		decode:   decodeInto[InsightAnalysis],
	}},
	ContractHookDetection: {{
		ID:       ContractHookDetection,
		Revision: 1,
		Root:     hookDetectionNode(),
		decode:   decodeInto[HookDetection],
	}},
	ContractComparison: {{
		ID:       ContractComparison,
		Revision: 1,
		Root:     comparisonNode(),
		decode:   decodeInto[Comparison],
	}},
}

// Lookup returns the latest revision of the contract registered under id.
func Lookup(id string) (*Contract, error) {
	revs, ok := registry[id]
	if !ok || len(revs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContract, id)
	}
	return revs[len(revs)-1], nil
}

// LookupRevision returns one exact revision of a contract.
func LookupRevision(id string, revision int) (*Contract, error) {
	for _, c := range registry[id] {
		if c.Revision == revision {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q revision %d", ErrUnknownContract, id, revision)
}

// Contracts returns the registered contract ids in sorted order.
func Contracts() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks raw model output against the contract registered under
// contractID.
func Validate(contractID, raw string) (Output, error) {
	c, err := Lookup(contractID)
	if err != nil {
		return nil, err
	}
	return c.Validate(raw)
}

func decodeInto[T any, P interface {
	*T
	Output
}](data []byte) (Output, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return P(&v), nil
}

func insightAnalysisNode() *Node {
	pattern := Object(
		Required("name", String("Name of the pattern")),
		Required("description", String("What this pattern does")),
		Optional("examples", Array(String("Example of the pattern in use"))),
		Required("applicability", Enum("How applicable this pattern is", applicability...)),
	)
	toneShift := Object(
		Optional("timestamp", Number("When the shift occurs, in seconds")),
		Required("from", Enum("Original tone", tones...)),
		Required("to", Enum("New tone", tones...)),
		Optional("purpose", String("Why this shift was made")),
	)
	phase := Object(
		Required("name", String("Name of this narrative phase")),
		Required("description", String("What happens in this phase")),
		Optional("durationPercent", Range(0, 100, "Share of the content")),
	)
	return Object(
		Required("summary", String("1-2 sentence summary of the content and its core appeal")),
		Required("whyItWorks", Array(String("Specific reason this content is effective"))),
		Required("patterns", Array(pattern)),
		Required("reuseStrategy", String("Concrete advice on how to adapt these techniques")),
		Optional("hookAnalysis", Object(
			Required("type", Enum("Type of hook used", hookTypes...)),
			Required("strength", Enum("How effective the hook is", strengths...)),
			Required("elements", Array(String("Element that makes the hook work"))),
			Optional("suggestion", String("How to improve the hook")),
		)),
		Optional("toneAnalysis", Object(
			Required("primary", Enum("Primary tone of the content", tones...)),
			Optional("secondary", Enum("Secondary tone if present", tones...)),
			Required("consistency", Range(0, 1, "How consistent the tone is")),
			Optional("shifts", Array(toneShift)),
		)),
		Optional("narrativeStructure", Object(
			Required("type", Enum("Type of narrative structure", narrativeTypes...)),
			Required("phases", Array(phase)),
			Required("effectiveness", Range(0, 1, "How effective the structure is")),
		)),
		Optional("engagementLogic", Object(
			Required("primaryDrivers", Array(String("Main engagement driver"))),
			Required("emotionalTriggers", Array(String("Emotional trigger used"))),
			Optional("callToAction", String("Call to action if present")),
			Required("retentionTechniques", Array(String("Technique used to retain attention"))),
		)),
	)
}

func hookDetectionNode() *Node {
	return Object(
		Required("hookType", Enum("Type of hook used", hookTypes...)),
		Required("strength", Enum("How effective the hook is", strengths...)),
		Required("elements", Array(String("Specific element that works"))),
		Required("whyItWorks", String("Explanation of why this hook is effective")),
		Optional("improvement", String("Specific suggestion to make it stronger")),
		Optional("examples", Array(String("Alternative hook option"))),
	)
}

func comparisonNode() *Node {
	return Object(
		Required("winner", Enum("Which content is more effective", winners...)),
		Required("contentAStrengths", Array(String("Strength of content A"))),
		Required("contentBStrengths", Array(String("Strength of content B"))),
		Required("keyDifferences", Array(Object(
			Required("aspect", String("What is being compared")),
			Required("contentA", String("How A handles it")),
			Required("contentB", String("How B handles it")),
			Optional("recommendation", String("What to do")),
		))),
		Required("lessonsLearned", Array(String("Lesson learned"))),
	)
}
