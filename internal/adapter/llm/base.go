package llm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/trace"

	"genrelay/internal/domain"
	"genrelay/internal/infra/tracer"
)

// kindTasks lists what each adapter kind can service at all. A descriptor
// may narrow this further but never widen it.
var kindTasks = map[domain.ProviderKind][]domain.TaskKind{
	domain.KindOpenAI:     {domain.TaskText, domain.TaskStructured},
	domain.KindCompatible: {domain.TaskText, domain.TaskStructured, domain.TaskSpeech},
	domain.KindOpenRouter: {domain.TaskText, domain.TaskStructured},
	domain.KindAnthropic:  {domain.TaskText},
	domain.KindGemini:     {domain.TaskText, domain.TaskStructured},
	domain.KindOllama:     {domain.TaskText, domain.TaskStructured},
	domain.KindBedrock:    {domain.TaskText},
}

// KindServes reports whether an adapter of the given kind can service task.
func KindServes(kind domain.ProviderKind, task domain.TaskKind) bool {
	return slices.Contains(kindTasks[kind], task)
}

// adapterBase carries what every adapter shares: its descriptor, a logger,
// and the default Supports/Classify behavior.
type adapterBase struct {
	desc   domain.ProviderDescriptor
	logger *slog.Logger
}

func newBase(desc domain.ProviderDescriptor, logger *slog.Logger) adapterBase {
	desc.Tasks = slices.Clone(desc.Tasks)
	return adapterBase{desc: desc, logger: logger}
}

// Descriptor implements domain.Adapter.
func (b *adapterBase) Descriptor() domain.ProviderDescriptor {
	d := b.desc
	d.Tasks = slices.Clone(d.Tasks)
	return d
}

// Supports implements domain.Adapter.
func (b *adapterBase) Supports(kind domain.TaskKind) bool {
	return b.desc.Serves(kind) && KindServes(b.desc.Kind, kind)
}

// Classify implements domain.Adapter.
func (b *adapterBase) Classify(err error) domain.Classification {
	return ClassifyError(err)
}

// begin opens the per-call span and rejects task kinds this adapter cannot
// serve. Callers must end the span.
func (b *adapterBase) begin(ctx context.Context, req domain.GenerationRequest) (context.Context, trace.Span, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.send",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", b.desc.Provider),
			tracer.StringAttr("llm.model", b.desc.Model),
			tracer.StringAttr("llm.task", string(req.Kind)),
		),
	)
	if !b.Supports(req.Kind) {
		err := fmt.Errorf("%w: %s cannot serve %q", domain.ErrUnsupportedTask, b.desc.Key(), req.Kind)
		tracer.RecordError(span, err)
		return ctx, span, err
	}
	return ctx, span, nil
}

// finish records the outcome of a call on its span.
func (b *adapterBase) finish(span trace.Span, resp *domain.GenerationResponse, err error) (*domain.GenerationResponse, error) {
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	setUsageAttrs(span, resp.Usage)
	tracer.SetOK(span)
	logSendCompleted(b.logger, b.desc, resp)
	return resp, nil
}

func maxTokensOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}
