package model

// Complexity buckets drive whether the planning stage runs.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Classification is the output of the classify stage.
type Classification struct {
	Category          string     `json:"category"`
	Urgency           Priority   `json:"urgency"`
	Complexity        Complexity `json:"complexity"`
	InvolvesVIP       bool       `json:"involves_vip"`
	InvolvesFinancial bool       `json:"involves_financial"`
	NeedsResponse     bool       `json:"needs_response"`
	Confidence        float64    `json:"confidence"`
	DetectedLanguage  string     `json:"detected_language"`
}

// Plan is the optional output of the planning stage for non-simple events.
type Plan struct {
	IntendedActions []string `json:"intended_actions"`
	ToolsNeeded     []string `json:"tools_needed"`
	Reasoning       string   `json:"reasoning"`
	Risks           []string `json:"risks"`
}
