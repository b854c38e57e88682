package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/chatrelay/auth"
	"github.com/a-h/chatrelay/handlers"
	"github.com/a-h/chatrelay/relay"
	"github.com/tmc/langchaingo/llms/anthropic"
)

type ServeCommand struct {
	AnthropicAPIKey string        `help:"The Anthropic API key." env:"ANTHROPIC_API_KEY" default:""`
	AnthropicURL    string        `help:"Override the Anthropic API base URL." env:"ANTHROPIC_URL" default:""`
	Model           string        `help:"The model to relay chats to." env:"CHAT_MODEL" default:"claude-sonnet-4-20250514"`
	MaxTokens       int           `help:"The maximum number of tokens in each reply." env:"MAX_TOKENS" default:"1024"`
	ProviderTimeout time.Duration `help:"The maximum time to wait for the provider to reply." env:"PROVIDER_TIMEOUT" default:"2m"`
	ListenAddr      string        `help:"The address to listen on." env:"LISTEN_ADDR" default:"localhost:8000"`
	TLSCertFile     string        `help:"The TLS certificate file." env:"TLS_CERT_FILE" default:""`
	TLSKeyFile      string        `help:"The TLS key file." env:"TLS_KEY_FILE" default:""`
	APIKeysFile     string        `help:"The file containing a JSON map of API keys to usernames. If empty, requests are not authenticated." env:"API_KEYS_FILE" default:""`
	LogLevel        string        `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

var errMissingAPIKey = errors.New("an Anthropic API key is required, set ANTHROPIC_API_KEY or --anthropic-api-key")

func (c ServeCommand) validate() error {
	if c.AnthropicAPIKey == "" {
		return errMissingAPIKey
	}
	if c.Model == "" {
		return fmt.Errorf("a model is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be greater than zero, got %d", c.MaxTokens)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be greater than zero, got %v", c.ProviderTimeout)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("both a TLS certificate file and key file are required to enable TLS")
	}
	return nil
}

func (c ServeCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)
	if err = c.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info("creating LLM client", slog.String("model", c.Model), slog.Int("maxTokens", c.MaxTokens))
	opts := []anthropic.Option{
		anthropic.WithToken(c.AnthropicAPIKey),
		anthropic.WithModel(c.Model),
		anthropic.WithHTTPClient(&http.Client{}),
	}
	if c.AnthropicURL != "" {
		opts = append(opts, anthropic.WithBaseURL(c.AnthropicURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create LLM: %w", err)
	}
	r := relay.New(log, llm, c.Model, c.MaxTokens, c.ProviderTimeout)

	var keys auth.Keys
	if c.APIKeysFile != "" {
		keys, err = auth.LoadFromFile(c.APIKeysFile)
		if err != nil {
			return fmt.Errorf("failed to load API keys: %w", err)
		}
		log.Info("API key authentication enabled", slog.Int("keys", len(keys)))
	}

	log.Info("Listening", slog.String("addr", c.ListenAddr))
	s := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           handlers.New(log, r, keys),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		log.Info("Enabling TLS mode")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load cert: %w", err)
		}
		s.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		return s.ListenAndServeTLS(c.TLSCertFile, c.TLSKeyFile)
	}
	return s.ListenAndServe()
}
