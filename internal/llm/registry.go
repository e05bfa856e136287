package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/logging"
)

// ErrNoProvider means a model name matched no provider and no default is
// set.
var ErrNoProvider = errors.New("no LLM provider")

// ProviderError is a failure reported by a provider. Code carries the HTTP
// status when there is one.
type ProviderError struct {
	Provider string
	Message  string
	Code     int
}

func (e *ProviderError) Error() string {
	if e.Code == 0 {
		return e.Provider + ": " + e.Message
	}
	return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
}

// Retryable reports whether err is worth retrying on another provider:
// auth, throttling and server-side status codes, or a message that reads
// like a capacity problem.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout,
			http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, 529:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"overloaded", "rate limit", "capacity", "timeout"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// Registry maps model names to providers. A name resolves to the provider
// of that name, then to the provider that lists it as an alias, then to
// the default provider.
type Registry struct {
	log *logging.Logger

	mu        sync.RWMutex
	providers map[string]Client
	aliases   map[string]string
	def       string
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		log:       log.Sub("llm"),
		providers: make(map[string]Client),
		aliases:   make(map[string]string),
	}
}

// Register adds c under name and claims each alias for it.
func (r *Registry) Register(name string, c Client, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = c
	for _, a := range aliases {
		r.aliases[a] = name
	}
	r.log.Debug().Str("provider", name).Strs("aliases", aliases).Msg("provider registered")
}

// SetDefault names the provider for otherwise unknown models.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	r.def = name
	r.mu.Unlock()
}

func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range []string{model, r.aliases[model], r.def} {
		if name == "" {
			continue
		}
		if c, ok := r.providers[name]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w for model %q", ErrNoProvider, model)
}

// Providers lists registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Chain returns a Client that tries primary and then each fallback,
// moving on only after a Retryable error.
func (r *Registry) Chain(primary string, fallbacks ...string) Client {
	return &chain{reg: r, models: append([]string{primary}, fallbacks...)}
}

type chain struct {
	reg    *Registry
	models []string
}

func (c *chain) Name() string { return "chain:" + strings.Join(c.models, ",") }

func (c *chain) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var errs []error
	for _, model := range c.models {
		client, err := c.reg.Resolve(model)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		req.Model = model
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !Retryable(err) {
			return nil, err
		}
		errs = append(errs, err)
		c.reg.log.Warn().Err(err).Str("model", model).Str("provider", client.Name()).Msg("provider failed, trying next")
	}
	return nil, errors.Join(errs...)
}

// NewRegistryFromConfig registers an OpenAI-compatible client for every
// configured provider. The offline scripted client is always present and
// is the default unless cfg names a configured provider.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)
	scripted := NewScriptedClient()
	reg.Register(scripted.Name(), scripted)
	reg.SetDefault(scripted.Name())

	for name, p := range cfg.Providers {
		reg.Register(name, NewOpenAIClient(OpenAIConfig{
			Name:      name,
			APIKey:    p.APIKey,
			BaseURL:   p.BaseURL,
			Model:     p.Model,
			MaxTokens: p.MaxTokens,
		}), p.Aliases...)
	}

	switch _, ok := cfg.Providers[cfg.Default]; {
	case ok:
		reg.SetDefault(cfg.Default)
	case cfg.Default != "" && cfg.Default != scripted.Name():
		reg.log.Warn().Str("provider", cfg.Default).Msg("default provider is not configured; replies are scripted")
	}
	return reg
}
