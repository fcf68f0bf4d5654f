package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"

	"genrelay/internal/domain"
	"genrelay/internal/infra/tracer"
)

// Recorder receives dispatch measurements. The metrics package implements it.
type Recorder interface {
	ObserveAttempt(key domain.DescriptorKey, outcome domain.Outcome, latency time.Duration)
	ObserveFallback(key domain.DescriptorKey)
	ObserveExhausted(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(domain.DescriptorKey, domain.Outcome, time.Duration) {}
func (nopRecorder) ObserveFallback(domain.DescriptorKey)                               {}
func (nopRecorder) ObserveExhausted(string)                                            {}

const defaultNotifyTimeout = 10 * time.Second

// Options configures a Dispatcher. Zero values get sensible defaults.
type Options struct {
	Retry         RetryPolicy
	Timeout       time.Duration // applied when the caller's context has no deadline
	Notifier      domain.Notifier
	NotifyTimeout time.Duration
	Recorder      Recorder
	Logger        *slog.Logger
}

// Dispatcher walks the chain for each request: strict priority, bounded
// retries per adapter, first success wins.
type Dispatcher struct {
	chain         *Chain
	retry         RetryPolicy
	timeout       time.Duration
	notifier      domain.Notifier
	notifyTimeout time.Duration
	recorder      Recorder
	logger        *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher over chain.
func New(chain *Chain, opts Options) *Dispatcher {
	d := &Dispatcher{
		chain:         chain,
		retry:         opts.Retry,
		timeout:       opts.Timeout,
		notifier:      opts.Notifier,
		notifyTimeout: opts.NotifyTimeout,
		recorder:      opts.Recorder,
		logger:        opts.Logger,
	}
	if d.retry == (RetryPolicy{}) {
		d.retry = DefaultRetryPolicy()
	}
	if d.notifyTimeout <= 0 {
		d.notifyTimeout = defaultNotifyTimeout
	}
	if d.recorder == nil {
		d.recorder = nopRecorder{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Chain returns the chain this dispatcher walks.
func (d *Dispatcher) Chain() *Chain { return d.chain }

// GenerateTask is the plain-value form of Generate. A zero deadline means
// the dispatcher's configured timeout.
func (d *Dispatcher) GenerateTask(ctx context.Context, kind domain.TaskKind, payload domain.TaskPayload, deadline time.Time) (string, domain.DescriptorKey, error) {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	res, err := d.Generate(ctx, domain.GenerationRequest{Kind: kind, Payload: payload})
	if err != nil {
		return "", domain.DescriptorKey{}, err
	}
	return res.Content, res.ProviderUsed, nil
}

// Generate serves req from the first adapter in the chain that can. It
// returns an error wrapping domain.ErrInvalidInput for a malformed request,
// or a *domain.AggregateFailure when no adapter succeeded.
func (d *Dispatcher) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	schema, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	if _, ok := ctx.Deadline(); !ok && d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	ctx, span := tracer.StartSpan(ctx, "dispatch.generate",
		trace.WithAttributes(
			tracer.StringAttr("dispatch.request_id", req.ID),
			tracer.StringAttr("dispatch.task", string(req.Kind)),
			tracer.IntAttr("dispatch.chain_length", d.chain.Len()),
		),
	)
	defer span.End()

	logger := d.logger.With("request_id", req.ID, "task", string(req.Kind))
	var (
		attempts []domain.AttemptRecord
		skipped  []domain.DescriptorKey
	)

	for pos, entry := range d.chain.entries {
		if ctx.Err() != nil {
			break
		}
		key := entry.Key()
		if !entry.Adapter.Supports(req.Kind) {
			logger.Debug("adapter skipped", "provider", key.Provider, "model", key.Model, "position", pos)
			skipped = append(skipped, key)
			continue
		}

		rec, resp := d.tryAdapter(ctx, logger, pos, entry.Adapter, req, schema)
		if len(rec.Tries) > 0 {
			attempts = append(attempts, rec)
		}
		if resp == nil {
			continue
		}

		result := &domain.GenerationResult{
			RequestID:    req.ID,
			Content:      resp.Content,
			Audio:        resp.Audio,
			MimeType:     resp.MimeType,
			ProviderUsed: key,
			Position:     pos,
			Usage:        resp.Usage,
			Attempts:     attempts,
			Skipped:      skipped,
		}
		span.SetAttributes(
			tracer.StringAttr("dispatch.provider_used", key.String()),
			tracer.IntAttr("dispatch.position", pos),
		)
		tracer.SetOK(span)
		if pos > 0 {
			logger.Info("served by fallback", "provider", key.Provider, "model", key.Model, "position", pos)
			d.recorder.ObserveFallback(key)
			d.notify(fallbackEvent(req, d.chain.Len(), result))
		}
		return result, nil
	}

	failure := &domain.AggregateFailure{
		RequestID: req.ID,
		Attempts:  attempts,
		Skipped:   skipped,
	}
	reason := "exhausted"
	if err := ctx.Err(); err != nil {
		failure.TimedOut = true
		failure.Cause = err
		reason = "timeout"
		if errors.Is(err, context.Canceled) {
			reason = "canceled"
		}
	}
	logger.Error("dispatch failed", "reason", reason, "attempted", len(attempts), "skipped", len(skipped))
	tracer.RecordError(span, failure)
	d.recorder.ObserveExhausted(reason)
	d.notify(exhaustedEvent(req, d.chain.Len(), failure, reason))
	return nil, failure
}

// tryAdapter makes up to MaxAttempts calls to one adapter. It returns the
// response on success, nil otherwise.
func (d *Dispatcher) tryAdapter(ctx context.Context, logger *slog.Logger, pos int, adapter domain.Adapter, req domain.GenerationRequest, schema *jsonschema.Schema) (domain.AttemptRecord, *domain.GenerationResponse) {
	key := adapter.Descriptor().Key()
	rec := domain.AttemptRecord{Provider: key.Provider, Model: key.Model, Position: pos}
	start := time.Now()

	bo := d.retry.newBackOff()
	for n := 1; n <= d.retry.attempts(); n++ {
		if n > 1 {
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		resp, try := d.call(ctx, adapter, req, schema, n)
		rec.Tries = append(rec.Tries, try)
		rec.Outcome = try.Outcome
		rec.ErrorDetail = try.Error
		rec.Unclassified = rec.Unclassified || try.Unclassified
		d.recorder.ObserveAttempt(key, try.Outcome, try.Latency)

		if resp != nil {
			rec.ErrorDetail = ""
			logger.Debug("attempt succeeded", "provider", key.Provider, "model", key.Model, "attempt", n, "latency", try.Latency)
			return finishRecord(rec, start), resp
		}
		logger.Warn("attempt failed",
			"provider", key.Provider,
			"model", key.Model,
			"attempt", n,
			"outcome", string(try.Outcome),
			"code", string(try.Code),
			"error", try.Error,
		)
		if try.Outcome == domain.OutcomeFatal {
			break
		}
	}
	return finishRecord(rec, start), nil
}

// finishRecord fills the summary fields of rec.
func finishRecord(rec domain.AttemptRecord, start time.Time) domain.AttemptRecord {
	rec.Latency = time.Since(start)
	rec.AttemptNumber = len(rec.Tries)
	return rec
}

// call performs a single Send and classifies the outcome.
func (d *Dispatcher) call(ctx context.Context, adapter domain.Adapter, req domain.GenerationRequest, schema *jsonschema.Schema, n int) (*domain.GenerationResponse, domain.TryRecord) {
	key := adapter.Descriptor().Key()
	ctx, span := tracer.StartSpan(ctx, "dispatch.attempt",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", key.Provider),
			tracer.StringAttr("llm.model", key.Model),
			tracer.IntAttr("dispatch.attempt", n),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := adapter.Send(ctx, req)
	if err == nil {
		err = checkResponse(req, resp, schema)
	}
	try := domain.TryRecord{Number: n, Latency: time.Since(start)}

	if err == nil {
		try.Outcome = domain.OutcomeSuccess
		tracer.SetOK(span)
		return resp, try
	}

	cls := adapter.Classify(err)
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	try.Outcome = domain.OutcomeTransient
	if cls.Class == domain.Fatal {
		try.Outcome = domain.OutcomeFatal
	}
	try.Error = err.Error()
	try.Code = domain.ErrorCodeOf(err)
	try.Unclassified = cls.Unclassified
	span.SetAttributes(tracer.StringAttr("dispatch.outcome", string(try.Outcome)))
	tracer.RecordError(span, err)
	return nil, try
}

func validateRequest(req domain.GenerationRequest) (*jsonschema.Schema, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown task kind %q", domain.ErrInvalidInput, req.Kind)
	}
	if strings.TrimSpace(req.Payload.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}
	if req.Payload.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: negative max_tokens", domain.ErrInvalidInput)
	}
	if req.Kind != domain.TaskStructured || len(req.Payload.Schema) == 0 {
		return nil, nil
	}
	return compileSchema(req.Payload.Schema)
}

func checkResponse(req domain.GenerationRequest, resp *domain.GenerationResponse, schema *jsonschema.Schema) error {
	if resp == nil {
		return fmt.Errorf("%w: adapter returned no response", domain.ErrInvalidOutput)
	}
	switch req.Kind {
	case domain.TaskStructured:
		return checkStructured(resp.Content, schema)
	case domain.TaskSpeech:
		if len(resp.Audio) == 0 {
			return fmt.Errorf("%w: no audio in response", domain.ErrInvalidOutput)
		}
	}
	return nil
}

// notify hands ev to the notifier on its own goroutine. Errors and panics
// are logged and swallowed.
func (d *Dispatcher) notify(ev domain.DispatchEvent) {
	if d.notifier == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notifier panicked", "event", string(ev.Type), "request_id", ev.RequestID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.notifyTimeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, ev); err != nil {
			d.logger.Warn("notify failed", "event", string(ev.Type), "request_id", ev.RequestID, "error", err)
		}
	}()
}

// Close stops further notifications and waits for in-flight ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func fallbackEvent(req domain.GenerationRequest, chainLen int, res *domain.GenerationResult) domain.DispatchEvent {
	used := res.ProviderUsed
	reason := "earlier providers skipped"
	if n := len(res.Attempts); n > 1 {
		prev := res.Attempts[n-2]
		reason = fmt.Sprintf("%s %s: %s", prev.Key(), prev.Outcome, prev.ErrorDetail)
	}
	return domain.DispatchEvent{
		Type:         domain.EventDispatchFallback,
		RequestID:    req.ID,
		TaskKind:     req.Kind,
		Position:     res.Position,
		ChainLength:  chainLen,
		ProviderUsed: &used,
		Attempts:     res.Attempts,
		Skipped:      res.Skipped,
		Reason:       reason,
		Summary:      fmt.Sprintf("request %s served by %s at position %d of %d", req.ID, used, res.Position, chainLen),
		Timestamp:    time.Now(),
	}
}

func exhaustedEvent(req domain.GenerationRequest, chainLen int, f *domain.AggregateFailure, reason string) domain.DispatchEvent {
	pos := -1
	if n := len(f.Attempts); n > 0 {
		pos = f.Attempts[n-1].Position
	}
	return domain.DispatchEvent{
		Type:        domain.EventDispatchExhausted,
		RequestID:   req.ID,
		TaskKind:    req.Kind,
		Position:    pos,
		ChainLength: chainLen,
		Attempts:    f.Attempts,
		Skipped:     f.Skipped,
		TimedOut:    f.TimedOut,
		Reason:      reason,
		Summary:     f.Error(),
		Timestamp:   time.Now(),
	}
}
