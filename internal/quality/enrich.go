package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Enricher refines a baseline quality report through an OpenAI-compatible
// chat completions endpoint. Every failure degrades to the baseline.
type Enricher struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewEnricher(baseURL, apiKey, model string, timeout time.Duration) *Enricher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Enricher{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// enrichedPayload mirrors the JSON shape the model is asked to produce.
type enrichedPayload struct {
	Score                 *float64 `json:"score"`
	MissingInformation    []Item   `json:"missing_information"`
	Questions             []string `json:"questions"`
	Risks                 []string `json:"risks"`
	SuggestedImprovements []string `json:"suggested_improvements"`
}

// Enrich asks the model to evaluate the decision and merges its answer over
// the baseline: non-empty lists replace, a numeric score overrides after
// clamping. On any error the baseline is returned unchanged.
func (e *Enricher) Enrich(ctx context.Context, in Input, baseline Result) Result {
	owner := "no"
	if in.HasAssignee {
		owner = "yes"
	}
	due := in.DueDate
	if due == "" {
		due = "none"
	}
	tags := strings.TrimSpace(in.Tags)
	if tags == "" {
		tags = "none"
	}

	prompt := fmt.Sprintf(
		"You are a Decision Governance assistant. Evaluate the decision quality and completeness. "+
			"Return ONLY valid JSON with keys: score (0-100), missing_information (list of {item, why}), "+
			"questions (list), risks (list), suggested_improvements (list).\n\n"+
			"Decision Title: %s\nDescription: %s\nPriority: %s\nStatus: %s\n"+
			"Has owner: %s\nDue date: %s\nTags: %s\nOptions count: %d\n\n"+
			"Be concrete and actionable. If information is missing, ask targeted questions.",
		in.Title, in.Description, in.Priority, in.Status, owner, due, tags, in.OptionsCount)

	content, err := e.chat(ctx, "You are a strict JSON-only assistant.", prompt, true)
	if err != nil {
		log.Printf("quality: enrich failed: %v", err)
		return baseline
	}

	var enriched enrichedPayload
	if err := json.Unmarshal([]byte(content), &enriched); err != nil {
		log.Printf("quality: parse enrich payload: %v", err)
		return baseline
	}

	out := baseline
	if len(enriched.MissingInformation) > 0 {
		out.MissingInformation = enriched.MissingInformation
	}
	if len(enriched.Questions) > 0 {
		out.Questions = enriched.Questions
	}
	if len(enriched.Risks) > 0 {
		out.Risks = enriched.Risks
	}
	if len(enriched.SuggestedImprovements) > 0 {
		out.SuggestedImprovements = enriched.SuggestedImprovements
	}
	if enriched.Score != nil {
		out.Score = clampScore(int(*enriched.Score))
	}
	return out
}

// Summarize asks the model for a short plain-text summary. Unlike Enrich,
// the error surfaces so the caller can fall back to its own truncation.
func (e *Enricher) Summarize(ctx context.Context, title, description string) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize this decision in 2-3 plain sentences for a team dashboard.\n\nTitle: %s\nDescription: %s",
		title, description)

	content, err := e.chat(ctx, "You are a concise assistant. Reply with plain text only.", prompt, false)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("empty summary")
	}
	return content, nil
}

func (e *Enricher) chat(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	req := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
	}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chat.Choices[0].Message.Content, nil
}
