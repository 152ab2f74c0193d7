// Package ai is the AI-assisted fallback: field extraction from cleaned
// HTML, qualitative structure comparison and selector generation.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"imovel-scraper/config"
)

// ErrNoAPIKey is returned by NewAnthropicOracle without a configured key.
var ErrNoAPIKey = errors.New("ai: ANTHROPIC_API_KEY is not set")

// Oracle turns a prompt into a text reply.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicOracle calls the Anthropic messages API.
type AnthropicOracle struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicOracle creates an oracle from the AI settings of cfg.
func NewAnthropicOracle(cfg *config.Config) (*AnthropicOracle, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, ErrNoAPIKey
	}
	return &AnthropicOracle{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:       cfg.AIModel,
		maxTokens:   int64(cfg.AIMaxTokens),
		temperature: cfg.AITemperature,
	}, nil
}

// Complete sends prompt as a single user message and joins the text blocks
// of the reply.
func (o *AnthropicOracle) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(o.model),
		MaxTokens:   o.maxTokens,
		Temperature: anthropic.Float(o.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("ai: messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
