package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// prompts maps agent names to their generation instructions. The model is
// asked for a bare JSON array so parseItems can decode it directly.
var prompts = map[string]string{
	NameEpic:    "You are a product strategist. Decompose the product vision below into epics. Respond with only a JSON array of objects with fields: title, description, priority (0=critical to 4=backlog).",
	NameFeature: "You are a product manager. Decompose the epic below into features. Respond with only a JSON array of objects with fields: title, description.",
	NameStory:   "You are an agile business analyst. Decompose the feature below into user stories. Respond with only a JSON array of objects with fields: title, description, acceptance_criteria.",
	NameTask:    "You are a tech lead. Break the user story below into implementation tasks. Respond with only a JSON array of objects with fields: title, description, estimate_hours.",
	NameTest:    "You are a QA engineer. Write test cases for the user story below. Respond with only a JSON array of objects with fields: title, steps (array of strings), expected.",
}

// AnthropicAgent generates backlog items through the Anthropic Messages
// API. One instance serves all agent names; the prompt is selected from
// the constraint's Kind.
type AnthropicAgent struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicAgent builds an agent for the given model. The API key is
// read from keyEnv (default ANTHROPIC_API_KEY).
func NewAnthropicAgent(model, keyEnv string) (*AnthropicAgent, error) {
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("agents: %s is not set", keyEnv)
	}
	return &AnthropicAgent{
		client: anthropic.NewClient(option.WithAPIKey(key)),
		model:  anthropic.Model(model),
	}, nil
}

// Generate asks the model for items and parses the JSON array from its
// reply. Truncates to c.MaxItems when the model over-produces.
func (a *AnthropicAgent) Generate(ctx context.Context, parentContext string, c Constraints) ([]Item, error) {
	prompt, ok := prompts[c.Kind]
	if !ok {
		return nil, fmt.Errorf("agents: no prompt for kind %q", c.Kind)
	}
	if c.MaxItems > 0 {
		prompt = fmt.Sprintf("%s Produce at most %d items.", prompt, c.MaxItems)
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt + "\n\n" + parentContext)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("agents: %s generation: %w", c.Kind, err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("agents: %s generation: empty response", c.Kind)
	}

	items, err := parseItems(msg.Content[0].Text)
	if err != nil {
		return nil, fmt.Errorf("agents: %s generation: %w", c.Kind, err)
	}
	if c.MaxItems > 0 && len(items) > c.MaxItems {
		items = items[:c.MaxItems]
	}
	return items, nil
}

// parseItems extracts a JSON array of items from model output, tolerating
// surrounding prose and markdown code fences.
func parseItems(text string) ([]Item, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var items []Item
	if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}
