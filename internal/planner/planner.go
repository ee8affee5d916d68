package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/groundlab/webgrounder/internal/llm"
)

// Plan is the structured result from the query planning step.
type Plan struct {
	Queries      []string `json:"queries"`
	UseWebSearch bool     `json:"use_web_search"`
	Reason       string   `json:"reason,omitempty"`
}

// Request carries the user prompt plus context hints for planning.
type Request struct {
	Prompt         string
	RecentMessages []string
	CurrentDate    string
	LocationHint   string
}

// Planner turns a user prompt into search queries, and decides whether web
// search is needed at all.
type Planner interface {
	Plan(ctx context.Context, req Request) (Plan, error)
}

const systemMessage = "You are a search planning assistant. Respond with strict JSON only, no narration. The JSON schema is {\"use_web_search\": boolean, \"queries\": string[1..5], \"reason\": string}. Set use_web_search to false only when the prompt needs no current or factual web evidence. Queries must be concise keyword searches a search engine handles well, not questions addressed to a person."

// LLMPlanner calls an OpenAI-compatible endpoint and enforces a JSON-only
// contract. If the model returns non-JSON or an empty query list while
// requesting search, an error is returned so callers can fall back.
type LLMPlanner struct {
	Client     llm.Client
	Model      string
	QueryCount int
}

func (p *LLMPlanner) Plan(ctx context.Context, req Request) (Plan, error) {
	if p.Client == nil || p.Model == "" {
		return Plan{}, errors.New("planner not configured")
	}
	resp, err := p.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req, p.QueryCount)},
		},
		Temperature: 0.1,
		N:           1,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("planner call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Plan{}, errors.New("no choices")
	}
	var plan Plan
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, fmt.Errorf("parse planner json: %w", err)
	}
	plan.Queries = SanitizeQueries(plan.Queries)
	if n := p.QueryCount; n > 0 && len(plan.Queries) > n {
		plan.Queries = plan.Queries[:n]
	}
	if plan.UseWebSearch && len(plan.Queries) == 0 {
		return Plan{}, errors.New("planner requested search without queries")
	}
	return plan, nil
}

func buildUserPrompt(req Request, queryCount int) string {
	var sb strings.Builder
	sb.WriteString("Prompt: ")
	sb.WriteString(req.Prompt)
	if queryCount > 0 {
		fmt.Fprintf(&sb, "\nMax queries: %d", queryCount)
	}
	if req.CurrentDate != "" {
		sb.WriteString("\nCurrent date: ")
		sb.WriteString(req.CurrentDate)
	}
	if req.LocationHint != "" {
		sb.WriteString("\nUser location: ")
		sb.WriteString(req.LocationHint)
	}
	if len(req.RecentMessages) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, m := range req.RecentMessages {
			sb.WriteString("- ")
			sb.WriteString(m)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FallbackPlanner produces deterministic queries from the prompt when the
// LLM planner is unavailable or returns invalid output. It always opts into
// web search: when planning itself failed there is no basis for skipping.
type FallbackPlanner struct {
	QueryCount int
}

func (p *FallbackPlanner) Plan(_ context.Context, req Request) (Plan, error) {
	base := strings.Join(strings.Fields(strings.TrimSpace(req.Prompt)), " ")
	if base == "" {
		return Plan{UseWebSearch: false, Reason: "empty prompt"}, nil
	}
	n := p.QueryCount
	if n <= 0 {
		n = 3
	}
	suffixes := []string{"", "latest", "overview", "details", "official"}
	queries := make([]string, 0, n)
	for _, s := range suffixes {
		q := strings.TrimSpace(base + " " + s)
		queries = append(queries, q)
		if len(queries) >= n {
			break
		}
	}
	return Plan{Queries: SanitizeQueries(queries), UseWebSearch: true, Reason: "fallback"}, nil
}

// SanitizeQueries trims, strips trailing punctuation, and drops duplicates
// case-insensitively while preserving order.
func SanitizeQueries(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, q := range in {
		s := strings.TrimSpace(q)
		s = strings.TrimSuffix(s, ".")
		s = strings.TrimSuffix(s, "?")
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
