package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/groundlab/webgrounder/internal/llm"
	"github.com/groundlab/webgrounder/internal/planner"
)

// Decision is the evidence gate's verdict over the currently selected chunks.
type Decision struct {
	EnoughEvidence   bool     `json:"enough_evidence"`
	SuggestedQueries []string `json:"suggested_queries,omitempty"`
}

// Excerpt is the chunk view handed to the judge.
type Excerpt struct {
	Text  string `json:"text"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Judge decides whether the retrieved chunks justify answering without
// further search. An error means the verdict is unavailable; callers treat
// that as insufficient evidence with no suggested queries.
type Judge interface {
	Judge(ctx context.Context, prompt string, previousQueries []string, excerpts []Excerpt) (Decision, error)
}

const systemMessage = "You are an evidence sufficiency judge. Given a user prompt and web evidence excerpts, respond with strict JSON only: {\"enough_evidence\": boolean, \"suggested_queries\": string[0..3]}. Set enough_evidence to true only when the excerpts contain the facts needed to answer the prompt with citations. When insufficient, suggest new search queries that were not tried before."

// excerptCharCap bounds each excerpt shown to the judge.
const excerptCharCap = 600

// LLMJudge implements Judge against an OpenAI-compatible chat endpoint with
// a JSON-only contract, in the same shape as the query planner.
type LLMJudge struct {
	Client llm.Client
	Model  string
}

func (j *LLMJudge) Judge(ctx context.Context, prompt string, previousQueries []string, excerpts []Excerpt) (Decision, error) {
	if j.Client == nil || j.Model == "" {
		return Decision{}, errors.New("judge not configured")
	}
	resp, err := j.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(prompt, previousQueries, excerpts)},
		},
		Temperature: 0,
		N:           1,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("judge call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Decision{}, errors.New("no choices")
	}
	var d Decision
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("parse judge json: %w", err)
	}
	d.SuggestedQueries = planner.SanitizeQueries(d.SuggestedQueries)
	return d, nil
}

func buildUserPrompt(prompt string, previousQueries []string, excerpts []Excerpt) string {
	var sb strings.Builder
	sb.WriteString("Prompt: ")
	sb.WriteString(prompt)
	if len(previousQueries) > 0 {
		sb.WriteString("\nQueries already tried: ")
		sb.WriteString(strings.Join(previousQueries, "; "))
	}
	sb.WriteString("\nEvidence excerpts:\n")
	for i, e := range excerpts {
		text := e.Text
		if len(text) > excerptCharCap {
			text = text[:excerptCharCap]
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, e.URL, text)
	}
	if len(excerpts) == 0 {
		sb.WriteString("(none)\n")
	}
	return sb.String()
}
