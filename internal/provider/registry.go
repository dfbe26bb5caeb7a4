// Package provider maps provider ids to configured clients. The set of
// providers is fixed at compile time; each entry carries its base URL, its
// API key environment variable and a default model as data, so dispatch is
// over a closed set rather than arbitrary strings.
package provider

import (
	"context"
	"log/slog"
	"os"

	"github.com/reviewrelay/reviewrelay/internal/domain"
	"github.com/reviewrelay/reviewrelay/internal/provider/anthropic"
	"github.com/reviewrelay/reviewrelay/internal/provider/openaicompat"
)

// Provider is the capability every configured LLM vendor exposes.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *domain.Request) (*domain.Response, error)
	Stream(ctx context.Context, req *domain.Request) (<-chan domain.Event, error)
}

// ID identifies one configured provider.
type ID string

const (
	OpenAI     ID = "openai"
	Anthropic  ID = "anthropic"
	OpenRouter ID = "openrouter"
	Groq       ID = "groq"

	// Default is used when a request names no provider.
	Default = OpenAI
)

type entry struct {
	envVar       string
	defaultModel string
	factory      func(apiKey string, logger *slog.Logger) Provider
}

var entries = map[ID]entry{
	OpenAI: {
		envVar:       "OPENAI_API_KEY",
		defaultModel: "gpt-4o-mini",
		factory: func(apiKey string, logger *slog.Logger) Provider {
			return openaicompat.New("openai", apiKey, "https://api.openai.com/v1",
				openaicompat.WithLogger(logger))
		},
	},
	Anthropic: {
		envVar:       "ANTHROPIC_API_KEY",
		defaultModel: "claude-sonnet-4-20250514",
		factory: func(apiKey string, logger *slog.Logger) Provider {
			return anthropic.New(apiKey)
		},
	},
	OpenRouter: {
		envVar:       "OPENROUTER_API_KEY",
		defaultModel: "openai/gpt-4o-mini",
		factory: func(apiKey string, logger *slog.Logger) Provider {
			// The gateway provider understands fallback-model routing.
			return openaicompat.New("openrouter", apiKey, "https://openrouter.ai/api/v1",
				openaicompat.WithFallbackRouting(),
				openaicompat.WithLogger(logger))
		},
	},
	Groq: {
		envVar:       "GROQ_API_KEY",
		defaultModel: "llama-3.3-70b-versatile",
		factory: func(apiKey string, logger *slog.Logger) Provider {
			return openaicompat.New("groq", apiKey, "https://api.groq.com/openai/v1",
				openaicompat.WithLogger(logger))
		},
	},
}

// Registry resolves provider ids to configured clients.
type Registry struct {
	logger *slog.Logger

	// lookupEnv is swappable for tests; defaults to os.LookupEnv.
	lookupEnv func(string) (string, bool)
}

// NewRegistry creates a registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger, lookupEnv: os.LookupEnv}
}

// IsRegistered reports whether id names a configured provider.
func (r *Registry) IsRegistered(id ID) bool {
	_, ok := entries[id]
	return ok
}

// DefaultModel returns the provider's default model id.
func (r *Registry) DefaultModel(id ID) (string, error) {
	e, ok := entries[id]
	if !ok {
		return "", domain.ErrInvalidProvider(string(id))
	}
	return e.defaultModel, nil
}

// EnvVar returns the environment variable holding the provider's API key.
func (r *Registry) EnvVar(id ID) string {
	return entries[id].envVar
}

// ResolveAPIKey resolves the key for a provider: an explicit key always
// wins, otherwise the provider's own environment variable is consulted.
// Keys never leak across providers. Returns empty when nothing resolves.
func (r *Registry) ResolveAPIKey(id ID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	e, ok := entries[id]
	if !ok {
		return ""
	}
	if v, ok := r.lookupEnv(e.envVar); ok {
		return v
	}
	return ""
}

// Resolve builds a client for the provider using the given key.
func (r *Registry) Resolve(id ID, apiKey string) (Provider, error) {
	e, ok := entries[id]
	if !ok {
		return nil, domain.ErrInvalidProvider(string(id))
	}
	return e.factory(apiKey, r.logger), nil
}
