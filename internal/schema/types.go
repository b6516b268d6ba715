package schema

// Optional fields keep the difference between absent and present-but-empty:
// strings are pointers and slices use omitzero, so an output re-encodes to
// the same document the model returned.

// InsightAnalysis is the full content-analysis result.
type InsightAnalysis struct {
	Summary            string              `json:"summary"`
	WhyItWorks         []string            `json:"whyItWorks"`
	Patterns           []Pattern           `json:"patterns"`
	ReuseStrategy      string              `json:"reuseStrategy"`
	HookAnalysis       *HookAnalysis       `json:"hookAnalysis,omitempty"`
	ToneAnalysis       *ToneAnalysis       `json:"toneAnalysis,omitempty"`
	NarrativeStructure *NarrativeStructure `json:"narrativeStructure,omitempty"`
	EngagementLogic    *EngagementLogic    `json:"engagementLogic,omitempty"`
}

func (*InsightAnalysis) ContractID() string { return ContractContentAnalysis }

type Pattern struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Examples      []string `json:"examples,omitzero"`
	Applicability string   `json:"applicability"`
}

type HookAnalysis struct {
	Type       string   `json:"type"`
	Strength   string   `json:"strength"`
	Elements   []string `json:"elements"`
	Suggestion *string  `json:"suggestion,omitempty"`
}

type ToneAnalysis struct {
	Primary     string      `json:"primary"`
	Secondary   *string     `json:"secondary,omitempty"`
	Consistency float64     `json:"consistency"`
	Shifts      []ToneShift `json:"shifts,omitzero"`
}

type ToneShift struct {
	Timestamp *float64 `json:"timestamp,omitempty"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Purpose   *string  `json:"purpose,omitempty"`
}

type NarrativeStructure struct {
	Type          string           `json:"type"`
	Phases        []NarrativePhase `json:"phases"`
	Effectiveness float64          `json:"effectiveness"`
}

type NarrativePhase struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	DurationPercent *float64 `json:"durationPercent,omitempty"`
}

type EngagementLogic struct {
	PrimaryDrivers      []string `json:"primaryDrivers"`
	EmotionalTriggers   []string `json:"emotionalTriggers"`
	CallToAction        *string  `json:"callToAction,omitempty"`
	RetentionTechniques []string `json:"retentionTechniques"`
}

// HookDetection is the narrow hook-only result.
type HookDetection struct {
	HookType    string   `json:"hookType"`
	Strength    string   `json:"strength"`
	Elements    []string `json:"elements"`
	WhyItWorks  string   `json:"whyItWorks"`
	Improvement *string  `json:"improvement,omitempty"`
	Examples    []string `json:"examples,omitzero"`
}

func (*HookDetection) ContractID() string { return ContractHookDetection }

// Comparison is the two-input comparison result.
type Comparison struct {
	Winner            string          `json:"winner"`
	ContentAStrengths []string        `json:"contentAStrengths"`
	ContentBStrengths []string        `json:"contentBStrengths"`
	KeyDifferences    []KeyDifference `json:"keyDifferences"`
	LessonsLearned    []string        `json:"lessonsLearned"`
}

func (*Comparison) ContractID() string { return ContractComparison }

type KeyDifference struct {
	Aspect         string  `json:"aspect"`
	ContentA       string  `json:"contentA"`
	ContentB       string  `json:"contentB"`
	Recommendation *string `json:"recommendation,omitempty"`
}
