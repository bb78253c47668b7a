// Package llm provides the multi-backend generation capability. Each
// configured model maps to a provider speaking either the OpenAI-compatible
// chat API or the Ollama generate API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/config"
)

const (
	retryBase        = 2 * time.Second
	retryCap         = 10 * time.Second
	retryMaxAttempts = 3
)

// ErrUnknownModel is returned when a model name has no initialized provider.
var ErrUnknownModel = errors.New("model not initialized")

// ErrProviderUnavailable wraps transport-level failures so callers can tell
// a dead backend apart from a well-formed empty answer.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Provider is a single generation backend.
type Provider interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Result carries a generated answer plus its accounting.
type Result struct {
	Answer       string
	LatencyMS    float64
	CostUSD      float64
	InputTokens  int
	OutputTokens int
}

type openAIProvider struct {
	client  *resty.Client
	modelID string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func newOpenAIProvider(desc config.ModelDescriptor, timeout time.Duration) (*openAIProvider, error) {
	if desc.Endpoint == "" {
		return nil, fmt.Errorf("openai provider requires an endpoint")
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(desc.Endpoint, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if desc.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+desc.APIKey)
	}
	return &openAIProvider{client: client, modelID: desc.ModelID}, nil
}

func (p *openAIProvider) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	var parsed chatResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       p.modelID,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}).
		SetResult(&parsed).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrProviderUnavailable, resp.StatusCode(), resp.String())
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrProviderUnavailable)
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

type ollamaProvider struct {
	client  *resty.Client
	modelID string
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func newOllamaProvider(desc config.ModelDescriptor, timeout time.Duration) (*ollamaProvider, error) {
	if desc.Endpoint == "" {
		return nil, fmt.Errorf("ollama provider requires an endpoint")
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(desc.Endpoint, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &ollamaProvider{client: client, modelID: desc.ModelID}, nil
}

func (p *ollamaProvider) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	var parsed ollamaResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(ollamaRequest{Model: p.modelID, Prompt: prompt, Stream: false}).
		SetResult(&parsed).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrProviderUnavailable, resp.StatusCode(), resp.String())
	}
	return strings.TrimSpace(parsed.Response), nil
}

// Registry holds the initialized providers and their cost descriptors.
type Registry struct {
	providers map[string]Provider
	models    map[string]config.ModelDescriptor
	retryBase time.Duration
	logger    *zap.Logger
}

// NewRegistry initializes a provider for every configured model. A model
// whose provider fails to initialize is skipped and logged; routing treats
// it as absent rather than failing startup.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]config.ModelDescriptor),
		retryBase: retryBase,
		logger:    logger,
	}
	for _, name := range cfg.ModelNames() {
		desc := cfg.Models[name]
		var (
			provider Provider
			err      error
		)
		switch desc.Provider {
		case "openai", "groq":
			provider, err = newOpenAIProvider(desc, cfg.GenerationTimeout)
		case "ollama":
			provider, err = newOllamaProvider(desc, cfg.GenerationTimeout)
		default:
			err = fmt.Errorf("unknown provider %q", desc.Provider)
		}
		if err != nil {
			logger.Warn("skipping model", zap.String("model", name), zap.Error(err))
			continue
		}
		r.providers[name] = provider
		r.models[name] = desc
		logger.Info("initialized model",
			zap.String("model", name),
			zap.String("provider", desc.Provider),
			zap.Float64("cost_per_1k", desc.CostPer1KTokens))
	}
	return r
}

// Available reports whether a model's provider initialized successfully.
func (r *Registry) Available(model string) bool {
	_, ok := r.providers[model]
	return ok
}

// Descriptor returns the descriptor for an initialized model.
func (r *Registry) Descriptor(model string) (config.ModelDescriptor, bool) {
	desc, ok := r.models[model]
	return desc, ok
}

// Generate invokes the named model and returns the answer with latency and
// cost accounting. Provider failures are retried with bounded exponential
// backoff before the error surfaces. Tokens are estimated at four characters
// each, matching the descriptors' cost-per-1k basis.
func (r *Registry) Generate(ctx context.Context, model, prompt string, maxTokens int, temperature float64) (*Result, error) {
	provider, ok := r.providers[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	desc := r.models[model]

	start := time.Now()
	var answer string
	backoff := retry.WithMaxRetries(retryMaxAttempts-1,
		retry.WithCappedDuration(retryCap, retry.NewExponential(r.retryBase)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		answer, callErr = provider.Complete(ctx, prompt, maxTokens, temperature)
		if callErr != nil {
			r.logger.Warn("completion attempt failed, retrying",
				zap.String("model", model), zap.Error(callErr))
			return retry.RetryableError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	latency := float64(time.Since(start).Microseconds()) / 1000.0

	inputTokens := len(prompt) / 4
	outputTokens := len(answer) / 4
	cost := float64(inputTokens+outputTokens) / 1000.0 * desc.CostPer1KTokens

	return &Result{
		Answer:       answer,
		LatencyMS:    latency,
		CostUSD:      cost,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}
