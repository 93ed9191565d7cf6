package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resume-pipeline/domain"
)

// scoringModels is tried in order; the first model that answers wins.
var scoringModels = []string{
	"gemini-2.0-flash-001",
	"gemini-2.0-flash",
	"gemini-2.5-flash",
	"gemini-flash-latest",
}

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"

// GeminiScorer rates parsed resume fields with the Gemini API.
type GeminiScorer struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewGeminiScorer(apiKey string) (*GeminiScorer, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}
	return &GeminiScorer{
		apiKey:   apiKey,
		endpoint: geminiEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Score sends the parsed fields (and the job description when given) to
// Gemini and decodes its strict-JSON verdict. No retries beyond the model
// fallback list.
func (g *GeminiScorer) Score(ctx context.Context, fields *domain.ResumeFields, jobDescription string) (*domain.ScorePayload, error) {
	prompt, err := buildScoringPrompt(fields, jobDescription)
	if err != nil {
		return nil, err
	}

	var lastError error
	for _, model := range scoringModels {
		payload, err := g.callModel(ctx, prompt, model)
		if err == nil {
			return payload, nil
		}
		lastError = err
	}
	return nil, fmt.Errorf("all models failed: %w", lastError)
}

func buildScoringPrompt(fields *domain.ResumeFields, jobDescription string) (string, error) {
	fieldsJSON, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode resume fields: %w", err)
	}

	jdBlock := "No specific job description was provided; score the resume on general quality."
	if strings.TrimSpace(jobDescription) != "" {
		jdBlock = "Job Description:\n" + jobDescription
	}

	prompt := fmt.Sprintf(
		`You are a resume evaluator. Evaluate the structured resume below.

%s

Resume (structured fields):
%s

Score these dimensions from 0 to 100: skills, experience, education, clarity, relevance.

Return strict JSON with structure:
{
  "overall_score": float,
  "summary": string,
  "dimensions": {
    "skills": {"score": float, "feedback": string},
    "experience": {"score": float, "feedback": string},
    "education": {"score": float, "feedback": string},
    "clarity": {"score": float, "feedback": string},
    "relevance": {"score": float, "feedback": string}
  }
}

IMPORTANT: overall_score and every dimension score are between 0-100. Return ONLY the raw JSON without any markdown formatting, code blocks, or additional text.`,
		jdBlock, fieldsJSON)
	return prompt, nil
}

func (g *GeminiScorer) callModel(ctx context.Context, prompt, model string) (*domain.ScorePayload, error) {
	requestBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature": 0.1,
			"topP":        0.8,
			"topK":        40,
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(g.endpoint, model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var apiResponse map[string]interface{}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("parse API response: %w", err)
	}

	text, err := extractTextFromResponse(apiResponse)
	if err != nil {
		return nil, err
	}

	cleaned := cleanJSONResponse(text)
	var verdict struct {
		OverallScore float64                          `json:"overall_score"`
		Summary      string                           `json:"summary"`
		Dimensions   map[string]domain.DimensionScore `json:"dimensions"`
	}
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, fmt.Errorf("parse JSON verdict: %w\nResponse: %s", err, cleaned)
	}

	return &domain.ScorePayload{
		OverallScore: verdict.OverallScore,
		Summary:      verdict.Summary,
		Dimensions:   verdict.Dimensions,
		Model:        model,
		Usage:        extractUsage(apiResponse),
		Raw:          []byte(cleaned),
	}, nil
}

func extractTextFromResponse(apiResponse map[string]interface{}) (string, error) {
	candidates, ok := apiResponse["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	firstCandidate, ok := candidates[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid candidate format")
	}
	content, ok := firstCandidate["content"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid content format")
	}

	parts, ok := content["parts"].([]interface{})
	if !ok || len(parts) == 0 {
		return "", fmt.Errorf("no parts in content")
	}

	firstPart, ok := parts[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid part format")
	}
	text, ok := firstPart["text"].(string)
	if !ok {
		return "", fmt.Errorf("no text in part")
	}
	return text, nil
}

func extractUsage(apiResponse map[string]interface{}) domain.TokenUsage {
	meta, ok := apiResponse["usageMetadata"].(map[string]interface{})
	if !ok {
		return domain.TokenUsage{}
	}
	count := func(key string) int {
		if v, ok := meta[key].(float64); ok {
			return int(v)
		}
		return 0
	}
	return domain.TokenUsage{
		PromptTokens: count("promptTokenCount"),
		OutputTokens: count("candidatesTokenCount"),
		TotalTokens:  count("totalTokenCount"),
	}
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	if strings.HasSuffix(content, "```") {
		content = strings.TrimSuffix(content, "```")
	}

	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end != -1 && end > start {
		content = content[start : end+1]
	}
	return strings.TrimSpace(content)
}
