// Package llm is the completion service: one system prompt plus one user
// message in, response text out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dcui26/multiagent-coding-assistant/internal/logging"
)

// Completer is the only capability stages need from a language model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CompleterFunc adapts a function into a Completer.
type CompleterFunc func(ctx context.Context, system, user string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	DefaultModel     = "claude-3-haiku-20240307"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
	defaultRateLimit = 2.0
	defaultBurst     = 1
)

type Config struct {
	Provider    string
	Model       string
	APIKey      string `json:"-"`
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// RateLimit is the sustained calls per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// DefaultConfig mirrors the assistant's stock model settings.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderAnthropic,
		Model:     DefaultModel,
		MaxTokens: defaultMaxTokens,
		Timeout:   defaultTimeout,
		RateLimit: defaultRateLimit,
		Burst:     defaultBurst,
	}
}

// APIKeyEnv returns the conventional key variable for a provider.
func APIKeyEnv(provider string) string {
	switch normalizeProvider(provider) {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// NewModel builds the langchaingo model for cfg.Provider.
func NewModel(cfg Config) (llms.Model, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Message: fmt.Sprintf("%s is not set", APIKeyEnv(cfg.Provider))}
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch normalizeProvider(cfg.Provider) {
	case ProviderAnthropic, "":
		opts := []anthropic.Option{
			anthropic.WithModel(cfg.Model),
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, &ConfigurationError{Message: fmt.Sprintf("unknown provider %q (want anthropic or openai)", cfg.Provider)}
	}
}

// Client wraps a langchaingo model with rate limiting, a per-call timeout
// and error classification.
type Client struct {
	model   llms.Model
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New reads nothing from the environment; callers resolve the API key.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = withDefaults(cfg)
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, cfg, logger), nil
}

// NewFromEnv resolves the API key from envVar (or the provider default).
func NewFromEnv(cfg Config, envVar string, logger *zap.Logger) (*Client, error) {
	if envVar == "" {
		envVar = APIKeyEnv(cfg.Provider)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(envVar)
	}
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Message: envVar + " is not set"}
	}
	return New(cfg, logger)
}

// NewWithModel wires an existing model, used by tests and custom providers.
func NewWithModel(model llms.Model, cfg Config, logger *zap.Logger) *Client {
	cfg = withDefaults(cfg)
	c := &Client{model: model, cfg: cfg, logger: logging.OrNop(logger)}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	return c
}

func withDefaults(cfg Config) Config {
	if cfg.Provider == "" {
		cfg.Provider = ProviderAnthropic
	}
	cfg.Provider = normalizeProvider(cfg.Provider)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	return cfg
}

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", classify(c.cfg.Provider, fmt.Errorf("rate limiter: %w", err))
		}
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	start := time.Now()
	resp, err := c.model.GenerateContent(cctx, msgs,
		llms.WithModel(c.cfg.Model),
		llms.WithMaxTokens(c.cfg.MaxTokens),
		llms.WithTemperature(c.cfg.Temperature),
	)
	if err != nil {
		if cctx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("completion timed out after %s: %w", c.cfg.Timeout, context.DeadlineExceeded)
		}
		ce := classify(c.cfg.Provider, err)
		c.logger.Warn("completion failed",
			zap.String("provider", c.cfg.Provider),
			zap.String("kind", string(ce.Kind)),
			zap.Error(err))
		return "", ce
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &CollaboratorError{Provider: c.cfg.Provider, Kind: KindEmpty, Err: errors.New("no choices in response")}
	}
	text := resp.Choices[0].Content
	c.logger.Debug("completion finished",
		zap.String("provider", c.cfg.Provider),
		zap.String("model", c.cfg.Model),
		zap.Int("response_chars", len(text)),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}
