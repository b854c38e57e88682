package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-h/chatrelay/models"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1024
	DefaultTimeout   = 2 * time.Minute
)

// temperature is Anthropic's own default. langchaingo always sends a
// temperature, so leaving it unset would send 0.
const temperature = 1.0

// ErrMalformedProviderResponse is returned when the provider reports success
// but sends back no content.
var ErrMalformedProviderResponse = errors.New("relay: provider returned no content")

// ProviderError wraps a failed call to the completion provider.
type ProviderError struct {
	Err error
}

func (pe ProviderError) Error() string {
	return fmt.Sprintf("relay: provider call failed: %v", pe.Err)
}

func (pe ProviderError) Unwrap() error {
	return pe.Err
}

func New(log *slog.Logger, llm llms.Model, model string, maxTokens int, timeout time.Duration) Relay {
	return Relay{
		log:       log,
		llm:       llm,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
	}
}

// Relay forwards conversations to a completion provider. It holds no mutable
// state, so one value can be shared by every request.
type Relay struct {
	log       *slog.Logger
	llm       llms.Model
	model     string
	maxTokens int
	timeout   time.Duration
}

func (r Relay) Relay(ctx context.Context, turns []models.ChatMessage) (resp models.ChatPostResponse, err error) {
	msgs := make([]llms.MessageContent, len(turns))
	for i, turn := range turns {
		mt, err := messageType(turn.Role)
		if err != nil {
			return resp, fmt.Errorf("turn %d: %w", i, err)
		}
		msgs[i] = llms.TextParts(mt, turn.Content)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.log.Debug("relaying turns", slog.String("model", r.model), slog.Int("turns", len(msgs)))
	result, err := r.llm.GenerateContent(ctx, msgs,
		llms.WithModel(r.model),
		llms.WithMaxTokens(r.maxTokens),
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return resp, ProviderError{Err: err}
	}
	if result == nil || len(result.Choices) == 0 || result.Choices[0] == nil {
		return resp, ErrMalformedProviderResponse
	}
	resp.Response = result.Choices[0].Content
	return resp, nil
}

func messageType(role models.ChatRole) (llms.ChatMessageType, error) {
	switch role {
	case models.ChatRoleUser:
		return llms.ChatMessageTypeHuman, nil
	case models.ChatRoleAssistant:
		return llms.ChatMessageTypeAI, nil
	}
	return "", fmt.Errorf("relay: unknown role %q", role)
}
