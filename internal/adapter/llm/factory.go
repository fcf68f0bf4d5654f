package llm

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

// Client libraries a descriptor can name in requires_library.
const (
	LibOpenAISDK    = "openai-sdk"
	LibAnthropicSDK = "anthropic-sdk"
	LibOllamaAPI    = "ollama-api"
	LibAWSBedrock   = "aws-bedrock"
)

// LinkedLibraries reports the client libraries compiled into this binary.
func LinkedLibraries() []string {
	libs := []string{LibAnthropicSDK, LibOllamaAPI, LibOpenAISDK}
	if bedrockLinked {
		libs = append(libs, LibAWSBedrock)
	}
	sort.Strings(libs)
	return libs
}

// Factory turns descriptors into adapters. It never touches the network:
// availability is decided from the environment and the linked libraries.
type Factory struct {
	lookupEnv func(string) (string, bool)
	libraries map[string]bool
	providers map[string]config.ProviderConfig
	breaker   config.CircuitBreakerConfig
	logger    *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLookupEnv replaces os.LookupEnv as the credential source.
func WithLookupEnv(fn func(string) (string, bool)) FactoryOption {
	return func(f *Factory) { f.lookupEnv = fn }
}

// WithProviders supplies per-provider transport settings keyed by provider name.
func WithProviders(providers []config.ProviderConfig) FactoryOption {
	return func(f *Factory) {
		for _, p := range providers {
			f.providers[p.Name] = p
		}
	}
}

// WithCircuitBreaker wraps every adapter in a BreakerAdapter when cfg is enabled.
func WithCircuitBreaker(cfg config.CircuitBreakerConfig) FactoryOption {
	return func(f *Factory) { f.breaker = cfg }
}

// WithLibraries replaces the linked-library set.
func WithLibraries(libs ...string) FactoryOption {
	return func(f *Factory) {
		f.libraries = make(map[string]bool, len(libs))
		for _, l := range libs {
			f.libraries[l] = true
		}
	}
}

// WithDisabledLibraries treats the named libraries as not linked.
func WithDisabledLibraries(libs []string) FactoryOption {
	return func(f *Factory) {
		for _, l := range libs {
			delete(f.libraries, l)
		}
	}
}

// NewFactory creates a Factory. Options apply in order.
func NewFactory(logger *slog.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		lookupEnv: os.LookupEnv,
		providers: make(map[string]config.ProviderConfig),
		logger:    logger,
	}
	WithLibraries(LinkedLibraries()...)(f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Libraries returns the libraries this factory considers linked.
func (f *Factory) Libraries() []string {
	libs := make([]string, 0, len(f.libraries))
	for l := range f.libraries {
		libs = append(libs, l)
	}
	sort.Strings(libs)
	return libs
}

// Check validates desc and reports whether an adapter could be built for it.
// It returns an error wrapping domain.ErrConfiguration for a malformed
// descriptor and domain.ErrUnavailable when a library or credential is missing.
func (f *Factory) Check(desc domain.ProviderDescriptor) error {
	_, err := f.check(desc)
	return err
}

func (f *Factory) check(desc domain.ProviderDescriptor) (string, error) {
	if desc.Provider == "" || desc.Model == "" {
		return "", fmt.Errorf("%w: descriptor needs provider and model (got %q)", domain.ErrConfiguration, desc.Key())
	}
	if !desc.Kind.Valid() {
		return "", fmt.Errorf("%w: %s: unknown kind %q", domain.ErrConfiguration, desc.Key(), desc.Kind)
	}
	for _, t := range desc.Tasks {
		if !t.Valid() {
			return "", fmt.Errorf("%w: %s: unknown task kind %q", domain.ErrConfiguration, desc.Key(), t)
		}
		if !KindServes(desc.Kind, t) {
			return "", fmt.Errorf("%w: %s: %s adapters cannot serve %q", domain.ErrConfiguration, desc.Key(), desc.Kind, t)
		}
	}

	if desc.RequiresLibrary != "" && !f.libraries[desc.RequiresLibrary] {
		return "", fmt.Errorf("%w: %s: library %q is not linked", domain.ErrUnavailable, desc.Key(), desc.RequiresLibrary)
	}
	if desc.CredentialEnv == "" {
		return "", nil
	}
	val, ok := f.lookupEnv(desc.CredentialEnv)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: %s: %s is not set", domain.ErrUnavailable, desc.Key(), desc.CredentialEnv)
	}
	return val, nil
}

// Create builds the adapter for desc. Errors wrap domain.ErrConfiguration or
// domain.ErrUnavailable, as for Check.
func (f *Factory) Create(desc domain.ProviderDescriptor) (domain.Adapter, error) {
	credential, err := f.check(desc)
	if err != nil {
		return nil, err
	}

	pc := f.providers[desc.Provider]
	pc.Name = desc.Provider
	baseURL := firstNonEmpty(pc.BaseURL, desc.BaseURL)
	logger := f.logger.With("provider", desc.Provider, "model", desc.Model)

	var adapter domain.Adapter
	switch desc.Kind {
	case domain.KindOpenAI:
		adapter = NewOpenAIAdapter(desc, credential, baseURL, NewHTTPClient(pc), logger)
	case domain.KindCompatible:
		adapter = NewCompatibleAdapter(desc, credential, baseURL, NewHTTPClient(pc), logger)
	case domain.KindOpenRouter:
		pc.BaseURL = baseURL
		adapter = NewOpenRouterAdapter(desc, credential, pc, logger)
	case domain.KindAnthropic:
		adapter = NewAnthropicAdapter(desc, credential, baseURL, NewHTTPClient(pc), logger)
	case domain.KindGemini:
		adapter = NewGeminiAdapter(desc, credential, baseURL, NewHTTPClient(pc), logger)
	case domain.KindOllama:
		host := firstNonEmpty(pc.BaseURL, credential, desc.BaseURL)
		client := NewHTTPClient(pc, ollamaDefaultConnTimeout, ollamaDefaultRespTimeout)
		adapter, err = NewOllamaAdapter(desc, host, client, logger)
	case domain.KindBedrock:
		adapter, err = newBedrockAdapter(desc, pc, logger)
	default:
		err = fmt.Errorf("%w: %s: unknown kind %q", domain.ErrConfiguration, desc.Key(), desc.Kind)
	}
	if err != nil {
		return nil, err
	}

	if f.breaker.Enabled {
		adapter = NewBreakerAdapter(adapter, f.breaker, logger)
	}
	return adapter, nil
}

// Availability is the outcome of Check for one descriptor.
type Availability struct {
	Descriptor domain.ProviderDescriptor
	Err        error
}

// Survey runs Check over descs in order.
func (f *Factory) Survey(descs []domain.ProviderDescriptor) []Availability {
	out := make([]Availability, 0, len(descs))
	for _, d := range descs {
		d.Tasks = slices.Clone(d.Tasks)
		out = append(out, Availability{Descriptor: d, Err: f.Check(d)})
	}
	return out
}
