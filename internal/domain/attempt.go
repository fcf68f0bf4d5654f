package domain

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the result of one attempt on one adapter.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomeFatal     Outcome = "fatal"
)

// TryRecord is one call to an adapter.
type TryRecord struct {
	Number       int           `json:"number"`
	Outcome      Outcome       `json:"outcome"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
	Code         ErrorCode     `json:"code,omitempty"`
	Unclassified bool          `json:"unclassified,omitempty"`
}

// AttemptRecord summarizes everything that happened on one adapter during
// one dispatch. AttemptNumber is the count of calls made to it.
type AttemptRecord struct {
	Provider      string        `json:"provider"`
	Model         string        `json:"model"`
	Position      int           `json:"position"`
	AttemptNumber int           `json:"attempt_number"`
	Outcome       Outcome       `json:"outcome"`
	Latency       time.Duration `json:"latency"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	Unclassified  bool          `json:"unclassified,omitempty"`
	Tries         []TryRecord   `json:"tries"`
}

// Key returns the (provider, model) pair the record belongs to.
func (r AttemptRecord) Key() DescriptorKey {
	return DescriptorKey{Provider: r.Provider, Model: r.Model}
}

// GenerationResult is the successful outcome of a dispatch.
type GenerationResult struct {
	RequestID    string          `json:"request_id"`
	Content      string          `json:"content,omitempty"`
	Audio        []byte          `json:"audio,omitempty"`
	MimeType     string          `json:"mime_type,omitempty"`
	ProviderUsed DescriptorKey   `json:"provider_used"`
	Position     int             `json:"position"`
	Usage        Usage           `json:"usage"`
	Attempts     []AttemptRecord `json:"attempts"`
	Skipped      []DescriptorKey `json:"skipped,omitempty"`
}

// AggregateFailure is returned when no adapter produced a result. It
// matches ErrExhausted with errors.Is, and ErrTimeout too when the overall
// deadline cut the walk short.
type AggregateFailure struct {
	RequestID string          `json:"request_id"`
	Attempts  []AttemptRecord `json:"attempts"`
	Skipped   []DescriptorKey `json:"skipped,omitempty"`
	TimedOut  bool            `json:"timed_out"`
	Cause     error           `json:"-"`
}

func (e *AggregateFailure) Error() string {
	var b strings.Builder
	if e.TimedOut {
		b.WriteString("dispatch deadline exceeded")
	} else {
		b.WriteString(ErrExhausted.Error())
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s/%s (%d attempts, %s): %s",
			a.Provider, a.Model, a.AttemptNumber, a.Outcome, a.ErrorDetail))
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, ": [%s]", strings.Join(parts, "; "))
	}
	if len(e.Skipped) > 0 {
		keys := make([]string, len(e.Skipped))
		for i, k := range e.Skipped {
			keys[i] = k.String()
		}
		fmt.Fprintf(&b, " skipped: [%s]", strings.Join(keys, ", "))
	}
	return b.String()
}

func (e *AggregateFailure) Unwrap() []error {
	errs := []error{ErrExhausted}
	if e.TimedOut {
		errs = append(errs, ErrTimeout)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
