// Package gateway wraps one inference-service call: a prompt, one page image
// and the stage schema as the response-format directive. It returns the raw
// text payload and never parses or validates it.
package gateway

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/config"
	"github.com/sells-group/menu-extractor/internal/model"
	"github.com/sells-group/menu-extractor/internal/schema"
	"github.com/sells-group/menu-extractor/pkg/anthropic"
	"github.com/sells-group/menu-extractor/pkg/openai"
)

// Request is a single inference call.
type Request struct {
	Prompt string
	Image  model.PageImage
	Schema schema.Descriptor
}

// Gateway invokes the inference service. Implementations are stateless and
// safe for concurrent use.
type Gateway interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// defaultBaseURLs are the OpenAI-compatible endpoints of each chat service.
var defaultBaseURLs = map[string]string{
	config.ServiceOpenRouter: "https://openrouter.ai/api/v1",
	config.ServiceGroq:       "https://api.groq.com/openai/v1",
	config.ServiceGemini:     "https://generativelanguage.googleapis.com/v1beta/openai/",
}

// Client is the configured Gateway: a backend behind an optional rate
// limiter and circuit breaker. Every error it returns is a transport error.
type Client struct {
	service string
	model   string
	backend Gateway
	limiter *rate.Limiter                     // nil when rate limiting is disabled
	breaker *gobreaker.CircuitBreaker[string] // nil when the breaker is disabled
}

// New selects the backend for cfg.Service.
func New(cfg config.InferenceConfig) (*Client, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, apperr.Configuration("no API key configured for inference service %q", cfg.Service)
	}
	if cfg.Model == "" {
		return nil, apperr.Configuration("no model configured for inference service %q", cfg.Service)
	}

	var backend Gateway
	switch cfg.Service {
	case config.ServiceOpenRouter, config.ServiceGroq, config.ServiceGemini:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[cfg.Service]
		}
		backend = &chatBackend{
			client:    openai.NewClient(key, baseURL, cfg.Timeout()),
			model:     cfg.Model,
			maxTokens: cfg.MaxTokens,
		}
	case config.ServiceAnthropic:
		backend = &toolBackend{
			client:    anthropic.NewClient(key, cfg.BaseURL, cfg.Timeout()),
			model:     cfg.Model,
			maxTokens: cfg.MaxTokens,
		}
	default:
		return nil, apperr.Configuration("unknown inference service %q", cfg.Service)
	}

	zap.L().Info("inference gateway configured",
		zap.String("service", cfg.Service),
		zap.String("model", cfg.Model),
		zap.Float64("requests_per_second", cfg.RequestsPerSecond),
		zap.Int("breaker_failures", cfg.BreakerFailures),
	)
	return Wrap(backend, cfg), nil
}

// Wrap applies the rate limiter and circuit breaker configured in cfg to
// backend. Both are skipped when their setting is zero.
func Wrap(backend Gateway, cfg config.InferenceConfig) *Client {
	c := &Client{service: cfg.Service, model: cfg.Model, backend: backend}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if cfg.BreakerFailures > 0 {
		reset := cfg.BreakerReset()
		if reset <= 0 {
			reset = 30 * time.Second
		}
		c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        cfg.Service,
			MaxRequests: 1,
			Timeout:     reset,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return int(counts.ConsecutiveFailures) >= cfg.BreakerFailures
			},
			// Only failures that may clear on their own count toward tripping.
			IsSuccessful: func(err error) bool {
				return err == nil || !IsTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				zap.L().Warn("inference circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return c
}

// Invoke sends req to the backend and returns the raw response text.
func (c *Client) Invoke(ctx context.Context, req Request) (string, error) {
	call := func() (string, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", &CanceledError{Err: eris.Wrap(err, "gateway: rate limit wait")}
			}
		}
		start := time.Now()
		out, err := c.backend.Invoke(ctx, req)
		zap.L().Debug("inference call",
			zap.String("service", c.service),
			zap.String("schema", req.Schema.Name),
			zap.Int("page", req.Image.PageNumber),
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("ok", err == nil),
		)
		if err != nil && ctx.Err() != nil {
			return "", &CanceledError{Err: err}
		}
		return out, err
	}

	var (
		out string
		err error
	)
	if c.breaker != nil {
		out, err = c.breaker.Execute(call)
	} else {
		out, err = call()
	}
	if err != nil {
		return "", apperr.At(
			apperr.Transport(err, "%s call for %s failed (%s)", c.service, req.Schema.Name, Classify(err)),
			0, req.Image.PageNumber, "",
		)
	}
	return out, nil
}

// State reports the circuit breaker state: "closed", "half-open", "open", or
// "disabled" when no breaker is configured.
func (c *Client) State() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Service returns the configured service identifier.
func (c *Client) Service() string { return c.service }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }
