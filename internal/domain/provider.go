package domain

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// ProviderKind selects the adapter constructor for a descriptor.
type ProviderKind string

const (
	KindOpenAI     ProviderKind = "openai"
	KindCompatible ProviderKind = "compatible"
	KindOpenRouter ProviderKind = "openrouter"
	KindAnthropic  ProviderKind = "anthropic"
	KindGemini     ProviderKind = "gemini"
	KindOllama     ProviderKind = "ollama"
	KindBedrock    ProviderKind = "bedrock"
)

// ProviderKinds lists every kind the factory knows how to build.
var ProviderKinds = []ProviderKind{
	KindOpenAI, KindCompatible, KindOpenRouter, KindAnthropic, KindGemini, KindOllama, KindBedrock,
}

// Valid reports whether k is a known kind.
func (k ProviderKind) Valid() bool { return slices.Contains(ProviderKinds, k) }

// TaskKind is the category of generation work a request asks for.
type TaskKind string

const (
	TaskText       TaskKind = "text"
	TaskStructured TaskKind = "structured"
	TaskSpeech     TaskKind = "speech"
)

// TaskKinds lists every known task kind.
var TaskKinds = []TaskKind{TaskText, TaskStructured, TaskSpeech}

// Valid reports whether t is a known task kind.
func (t TaskKind) Valid() bool { return slices.Contains(TaskKinds, t) }

// DescriptorKey identifies a (provider, model) pair.
type DescriptorKey struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (k DescriptorKey) String() string {
	return k.Provider + "/" + k.Model
}

// ParseDescriptorKey parses "provider/model". The model part may itself
// contain slashes (openrouter model ids do), so only the first one splits.
func ParseDescriptorKey(ref string) (DescriptorKey, error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(ref), "/")
	if !ok || provider == "" || model == "" {
		return DescriptorKey{}, NewDomainError("ParseDescriptorKey", ErrConfiguration,
			fmt.Sprintf("reference %q is not of the form provider/model", ref))
	}
	return DescriptorKey{Provider: provider, Model: model}, nil
}

// ProviderDescriptor is the static description of one (provider, model)
// pair: what it needs to be usable and which tasks it can serve.
type ProviderDescriptor struct {
	Provider        string       `yaml:"provider" json:"provider"`
	Model           string       `yaml:"model" json:"model"`
	Kind            ProviderKind `yaml:"kind" json:"kind"`
	CredentialEnv   string       `yaml:"credential_env,omitempty" json:"credential_env,omitempty"`
	RequiresLibrary string       `yaml:"requires_library,omitempty" json:"requires_library,omitempty"`
	BaseURL         string       `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Region          string       `yaml:"region,omitempty" json:"region,omitempty"`
	Tasks           []TaskKind   `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

// Key returns the descriptor's identity.
func (d ProviderDescriptor) Key() DescriptorKey {
	return DescriptorKey{Provider: d.Provider, Model: d.Model}
}

// Serves reports whether the descriptor declares the task kind. A descriptor
// with no declared tasks serves text only.
func (d ProviderDescriptor) Serves(kind TaskKind) bool {
	if len(d.Tasks) == 0 {
		return kind == TaskText
	}
	return slices.Contains(d.Tasks, kind)
}

// TaskPayload carries the task-specific inputs of a generation request.
type TaskPayload struct {
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	Schema      []byte            `json:"schema,omitempty"` // JSON schema for structured output
	Voice       string            `json:"voice,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// GenerationRequest is one unit of generation work.
type GenerationRequest struct {
	ID      string      `json:"id,omitempty"`
	Kind    TaskKind    `json:"kind"`
	Payload TaskPayload `json:"payload"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResponse is what a single adapter call returns.
type GenerationResponse struct {
	Content  string `json:"content,omitempty"`
	Audio    []byte `json:"audio,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Usage    Usage  `json:"usage"`
}

// Adapter is the uniform interface over one backend model. Implementations
// must be safe for concurrent use and keep no per-call state.
type Adapter interface {
	// Descriptor returns the descriptor the adapter was built from.
	Descriptor() ProviderDescriptor
	// Supports reports whether the adapter can service the task kind.
	Supports(kind TaskKind) bool
	// Send performs one generation call.
	Send(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
	// Classify maps an error returned by Send to transient or fatal.
	Classify(err error) Classification
}

// FailureClass tells the dispatcher whether to retry the same adapter.
type FailureClass int

const (
	// Transient failures consume one retry attempt on the same adapter.
	Transient FailureClass = iota
	// Fatal failures move straight to the next adapter.
	Fatal
)

func (c FailureClass) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "transient"
}

// Classification is the verdict on one failed call.
type Classification struct {
	Class      FailureClass
	Sentinel   error // matched domain sentinel, nil when unclassified
	StatusCode int   // HTTP status when known
	// Unclassified is set when no rule matched; such failures are treated
	// as transient.
	Unclassified bool
}
