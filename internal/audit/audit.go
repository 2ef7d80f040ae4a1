// Package audit keeps a per-run trail of reconciliation outcomes.
//
// Loaders report every created, updated, skipped or failed record through a
// Recorder. The Recorder stamps entries with an id, the run and step from the
// context, a severity and a timestamp, then hands them to a Sink. Sinks write
// to PostgreSQL, to a JSON-lines file, to several sinks at once, or nowhere.
//
// Audit failures are logged and never fail a loader.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/provision/internal/logging"
)

// Action is the outcome being audited.
type Action string

const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionSkipped     Action = "skipped"
	ActionFailed      Action = "failed"
	ActionRemoved     Action = "removed"
	ActionSynthesized Action = "synthesized"
	ActionAborted     Action = "aborted"
)

// Severity ranks entries for review.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Entry is one audited outcome.
type Entry struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId,omitempty"`
	Step       string    `json:"step,omitempty"`
	Collection string    `json:"collection"`
	Action     Action    `json:"action"`
	Severity   Severity  `json:"severity"`
	Key        string    `json:"key,omitempty"`
	RecordID   int64     `json:"recordId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	File       string    `json:"file,omitempty"`
	Line       int       `json:"line,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Sink stores entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// determineSeverity returns the severity for an action.
func determineSeverity(action Action) Severity {
	switch action {
	case ActionCreated, ActionUpdated:
		return SeverityLow
	case ActionRemoved, ActionFailed:
		return SeverityHigh
	case ActionAborted:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Recorder stamps entries and forwards them to a sink.
// A nil *Recorder discards everything.
type Recorder struct {
	sink  Sink
	now   func() time.Time
	newID func() string
}

// NewRecorder returns a Recorder writing to sink. A nil sink discards entries.
func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = Nop{}
	}
	return &Recorder{
		sink:  sink,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Record completes e and stores it. Failures are logged, not returned.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	if e.ID == "" {
		e.ID = r.newID()
	}
	if e.RunID == "" {
		e.RunID = logging.RunID(ctx)
	}
	if e.Step == "" {
		e.Step = logging.Step(ctx)
	}
	if e.Severity == "" {
		e.Severity = determineSeverity(e.Action)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	if err := r.sink.Record(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("audit record failed", "collection", e.Collection, "action", string(e.Action), "error", err)
	}
}

// Close closes the underlying sink.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.sink.Close()
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }

// Multi writes every entry to each sink. All sinks are attempted; errors are joined.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
