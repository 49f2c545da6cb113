package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/braidhq/braid/internal/connector"
)

// Suggester proposes a merged item for a pending conflict using the
// Claude API. Entirely optional: `braid resolve` only constructs one when
// an API key is configured, and the suggestion is always shown to the
// user for approval, never applied on its own.
type Suggester struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewSuggester creates a suggester. apiKey defaults to the
// ANTHROPIC_API_KEY env var; model defaults to Claude Sonnet.
func NewSuggester(apiKey, model string) (*Suggester, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	inner := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	m := anthropic.ModelClaudeSonnet4_5
	if model != "" {
		m = anthropic.Model(model)
	}
	return &Suggester{inner: inner, model: m}, nil
}

const suggestMergePrompt = `You are resolving a sync conflict in a personal task tracker. The same task was edited both locally and in an external service since the last sync.

Combine the two versions into one. Rules:
- Keep every change that only one side made.
- When both sides changed the same field, prefer the more specific or more complete value.
- The name must stay a single short line.
- Completion is a ratio between 0 and 1; take the larger one.

Return ONLY a JSON object with this exact structure, no markdown fences, no commentary:
{"name": "...", "description": "...", "completion": 0.0, "due_at": null, "done": false}
`

// SuggestMerge asks for a combined version of the two sides of rec.
func (s *Suggester) SuggestMerge(ctx context.Context, local, remote connector.Item) (*connector.Item, error) {
	localJSON, err := json.MarshalIndent(local, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal local item: %w", err)
	}
	remoteJSON, err := json.MarshalIndent(remote, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal remote item: %w", err)
	}

	prompt := fmt.Sprintf("%s\nLocal version:\n%s\n\nRemote version:\n%s\n",
		suggestMergePrompt, localJSON, remoteJSON)

	resp, err := s.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: int64(1024),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API call: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	text = stripJSONFences(text)

	var merged connector.Item
	if err := json.Unmarshal([]byte(text), &merged); err != nil {
		return nil, fmt.Errorf("parse claude response: %w\nraw: %s", err, text)
	}
	return &merged, nil
}

// stripJSONFences removes markdown code fences that Claude sometimes adds.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
