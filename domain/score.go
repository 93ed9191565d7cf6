package domain

// ResumeFields is the structured output of the parsing stage.
type ResumeFields struct {
	Name       string            `json:"name,omitempty"`
	Email      string            `json:"email,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Skills     []string          `json:"skills,omitempty"`
	Sections   map[string]string `json:"sections,omitempty"`
	TextLength int               `json:"text_length"`
}

// TokenUsage is what the scoring backend reports about one call.
type TokenUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// DimensionScore is one rubric dimension of the overall score.
type DimensionScore struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback,omitempty"`
}

// ScorePayload is the result of one scoring call. Raw keeps the scorer's
// unmodified JSON so the cache stays decoupled from schema changes; Cached
// marks payloads that were served from the cache rather than recomputed.
type ScorePayload struct {
	OverallScore float64                   `json:"overall_score"`
	Summary      string                    `json:"summary,omitempty"`
	Dimensions   map[string]DimensionScore `json:"dimensions,omitempty"`
	Model        string                    `json:"model,omitempty"`
	Usage        TokenUsage                `json:"usage"`
	Cached       bool                      `json:"cached"`
	Raw          []byte                    `json:"raw,omitempty"`
}

// ExtractResult is the output of text extraction, before parsing.
type ExtractResult struct {
	Text     string
	Method   string
	Pages    int
	Metadata map[string]string
}
