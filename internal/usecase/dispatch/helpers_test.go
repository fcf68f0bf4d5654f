package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"genrelay/internal/adapter/llm"
	"genrelay/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepFunc scripts one call to a fakeAdapter.
type stepFunc func(ctx context.Context) (*domain.GenerationResponse, error)

func reply(content string) stepFunc {
	return func(context.Context) (*domain.GenerationResponse, error) {
		return &domain.GenerationResponse{Content: content}, nil
	}
}

func fail(err error) stepFunc {
	return func(context.Context) (*domain.GenerationResponse, error) { return nil, err }
}

func block() stepFunc {
	return func(ctx context.Context) (*domain.GenerationResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// fakeAdapter plays back steps in order; the last step repeats.
type fakeAdapter struct {
	desc  domain.ProviderDescriptor
	steps []stepFunc

	mu    sync.Mutex
	calls int
}

func newFake(provider string, steps ...stepFunc) *fakeAdapter {
	return &fakeAdapter{
		desc:  domain.ProviderDescriptor{Provider: provider, Model: provider + "-m", Kind: domain.KindCompatible},
		steps: steps,
	}
}

func (f *fakeAdapter) withTasks(tasks ...domain.TaskKind) *fakeAdapter {
	f.desc.Tasks = tasks
	return f
}

func (f *fakeAdapter) Descriptor() domain.ProviderDescriptor    { return f.desc }
func (f *fakeAdapter) Supports(kind domain.TaskKind) bool       { return f.desc.Serves(kind) }
func (f *fakeAdapter) Classify(err error) domain.Classification { return llm.ClassifyError(err) }

func (f *fakeAdapter) Send(ctx context.Context, _ domain.GenerationRequest) (*domain.GenerationResponse, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if len(f.steps) == 0 {
		return &domain.GenerationResponse{Content: "ok"}, nil
	}
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	return f.steps[i](ctx)
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFactory builds fakeAdapters, returning a preset error per provider.
type fakeFactory struct {
	errs    map[string]error
	created []domain.DescriptorKey
}

func (f *fakeFactory) Create(desc domain.ProviderDescriptor) (domain.Adapter, error) {
	if err := f.errs[desc.Provider]; err != nil {
		return nil, err
	}
	f.created = append(f.created, desc.Key())
	return &fakeAdapter{desc: desc}, nil
}

type recordedAttempt struct {
	key     domain.DescriptorKey
	outcome domain.Outcome
}

type fakeRecorder struct {
	mu        sync.Mutex
	attempts  []recordedAttempt
	fallbacks []domain.DescriptorKey
	exhausted []string
}

func (r *fakeRecorder) ObserveAttempt(key domain.DescriptorKey, outcome domain.Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, recordedAttempt{key, outcome})
}

func (r *fakeRecorder) ObserveFallback(key domain.DescriptorKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, key)
}

func (r *fakeRecorder) ObserveExhausted(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = append(r.exhausted, reason)
}

// eventSink collects notifications.
type eventSink struct {
	ch chan domain.DispatchEvent
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan domain.DispatchEvent, 16)}
}

func (s *eventSink) Notify(_ context.Context, ev domain.DispatchEvent) error {
	s.ch <- ev
	return nil
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Base: time.Millisecond, Multiplier: 2, Max: 4 * time.Millisecond}
}

func textRequest(prompt string) domain.GenerationRequest {
	return domain.GenerationRequest{Kind: domain.TaskText, Payload: domain.TaskPayload{Prompt: prompt}}
}
