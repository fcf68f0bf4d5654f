package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrelay/internal/domain"
	"genrelay/internal/infra/config"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFactoryCreatesEachKind(t *testing.T) {
	f := NewFactory(newTestLogger(), WithLookupEnv(envMap(map[string]string{
		"KEY":         "secret",
		"OLLAMA_HOST": "127.0.0.1:11434",
	})))

	tests := []struct {
		kind domain.ProviderKind
		want any
	}{
		{domain.KindOpenAI, &OpenAIAdapter{}},
		{domain.KindCompatible, &CompatibleAdapter{}},
		{domain.KindOpenRouter, &CompatibleAdapter{}},
		{domain.KindAnthropic, &AnthropicAdapter{}},
		{domain.KindGemini, &GeminiAdapter{}},
		{domain.KindOllama, &OllamaAdapter{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			desc := testDescriptor(tt.kind)
			desc.CredentialEnv = "KEY"
			if tt.kind == domain.KindOllama {
				desc.CredentialEnv = "OLLAMA_HOST"
			}
			a, err := f.Create(desc)
			require.NoError(t, err)
			assert.IsType(t, tt.want, a)
			assert.Equal(t, desc.Key(), a.Descriptor().Key())
		})
	}
}

func TestFactoryOllamaUsesCredentialAsHost(t *testing.T) {
	f := NewFactory(newTestLogger(), WithLookupEnv(envMap(map[string]string{"OLLAMA_HOST": "gpu-box:11434"})))
	desc := testDescriptor(domain.KindOllama)
	desc.CredentialEnv = "OLLAMA_HOST"

	a, err := f.Create(desc)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", a.(*OllamaAdapter).host)
}

func TestFactoryProviderConfigOverridesBaseURL(t *testing.T) {
	f := NewFactory(newTestLogger(),
		WithLookupEnv(envMap(map[string]string{"KEY": "k"})),
		WithProviders([]config.ProviderConfig{{Name: "compatible", BaseURL: "http://override.test/v1"}}),
	)
	desc := testDescriptor(domain.KindCompatible)
	desc.CredentialEnv = "KEY"
	desc.BaseURL = "http://catalog.test/v1"

	a, err := f.Create(desc)
	require.NoError(t, err)
	assert.Equal(t, "http://override.test/v1", a.(*CompatibleAdapter).baseURL)
}

func TestFactoryUnavailable(t *testing.T) {
	f := NewFactory(newTestLogger(),
		WithLookupEnv(envMap(map[string]string{"EMPTY": ""})),
		WithLibraries(LibOpenAISDK),
	)

	tests := []struct {
		name string
		desc domain.ProviderDescriptor
	}{
		{"credential unset", domain.ProviderDescriptor{Provider: "a", Model: "m", Kind: domain.KindGemini, CredentialEnv: "MISSING"}},
		{"credential empty", domain.ProviderDescriptor{Provider: "a", Model: "m", Kind: domain.KindGemini, CredentialEnv: "EMPTY"}},
		{"library not linked", domain.ProviderDescriptor{Provider: "a", Model: "m", Kind: domain.KindAnthropic, RequiresLibrary: LibAnthropicSDK}},
		{"unknown library", domain.ProviderDescriptor{Provider: "a", Model: "m", Kind: domain.KindCompatible, RequiresLibrary: "libfoo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Create(tt.desc)
			assert.ErrorIs(t, err, domain.ErrUnavailable)
			assert.NotErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestFactoryConfiguration(t *testing.T) {
	f := NewFactory(newTestLogger(), WithLookupEnv(envMap(nil)))

	tests := []struct {
		name string
		desc domain.ProviderDescriptor
	}{
		{"missing provider", domain.ProviderDescriptor{Model: "m", Kind: domain.KindOpenAI}},
		{"missing model", domain.ProviderDescriptor{Provider: "p", Kind: domain.KindOpenAI}},
		{"unknown kind", domain.ProviderDescriptor{Provider: "p", Model: "m", Kind: "carrier-pigeon"}},
		{"unknown task", domain.ProviderDescriptor{Provider: "p", Model: "m", Kind: domain.KindOpenAI, Tasks: []domain.TaskKind{"video"}}},
		{"task kind cannot serve", domain.ProviderDescriptor{Provider: "p", Model: "m", Kind: domain.KindAnthropic, Tasks: []domain.TaskKind{domain.TaskSpeech}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Configuration problems are reported even when the credential is missing.
			tt.desc.CredentialEnv = "MISSING"
			_, err := f.Create(tt.desc)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestFactoryDisabledLibraries(t *testing.T) {
	f := NewFactory(newTestLogger(), WithDisabledLibraries([]string{LibOpenAISDK}))
	assert.NotContains(t, f.Libraries(), LibOpenAISDK)
	assert.Contains(t, f.Libraries(), LibAnthropicSDK)

	err := f.Check(domain.ProviderDescriptor{Provider: "openai", Model: "m", Kind: domain.KindOpenAI, RequiresLibrary: LibOpenAISDK})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestFactoryBedrockWithoutTag(t *testing.T) {
	if bedrockLinked {
		t.Skip("built with bedrock support")
	}
	assert.NotContains(t, LinkedLibraries(), LibAWSBedrock)

	// Even with the library claimed, the stub constructor reports unavailability.
	f := NewFactory(newTestLogger(), WithLibraries(LibAWSBedrock), WithLookupEnv(envMap(map[string]string{"AWS_ACCESS_KEY_ID": "x"})))
	_, err := f.Create(domain.ProviderDescriptor{
		Provider: "bedrock", Model: "m", Kind: domain.KindBedrock,
		CredentialEnv: "AWS_ACCESS_KEY_ID", RequiresLibrary: LibAWSBedrock,
	})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestFactoryWrapsBreaker(t *testing.T) {
	f := NewFactory(newTestLogger(),
		WithLookupEnv(envMap(map[string]string{"KEY": "k"})),
		WithCircuitBreaker(config.CircuitBreakerConfig{Enabled: true, MaxFailures: 2, Timeout: time.Second}),
	)
	desc := testDescriptor(domain.KindGemini)
	desc.CredentialEnv = "KEY"

	a, err := f.Create(desc)
	require.NoError(t, err)
	b, ok := a.(*BreakerAdapter)
	require.True(t, ok)
	assert.IsType(t, &GeminiAdapter{}, b.Unwrap())
}

func TestFactorySurvey(t *testing.T) {
	f := NewFactory(newTestLogger(), WithLookupEnv(envMap(map[string]string{"KEY": "k"})))
	descs := []domain.ProviderDescriptor{
		{Provider: "a", Model: "m", Kind: domain.KindGemini, CredentialEnv: "KEY"},
		{Provider: "b", Model: "m", Kind: domain.KindGemini, CredentialEnv: "NOPE"},
	}
	got := f.Survey(descs)
	require.Len(t, got, 2)
	assert.NoError(t, got[0].Err)
	assert.ErrorIs(t, got[1].Err, domain.ErrUnavailable)
}
