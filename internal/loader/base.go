// Package loader holds one reconciliation loader per entity type. Each file
// registers its step with the core registry at init time; import the package
// for its side effects to make every step available to the pipeline.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/provision/internal/audit"
	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/logging"
)

// Log messages double as outcome categories, so they are fixed strings.
const (
	tagCreated      = "created"
	tagUpdated      = "updated"
	tagUnchanged    = "unchanged"
	tagFailed       = "failed"
	tagRemoved      = "removed"
	tagSynthesized  = "synthesized"
	tagMalformed    = "skipped: malformed row"
	tagNoProduct    = "skipped: no product"
	tagNoSupplier   = "skipped: no supplier"
	tagNoBOM        = "skipped: no bom"
	tagNoWorkcenter = "skipped: no workcenter"
	tagDuplicate    = "skipped: duplicate"
	tagNoPrice      = "skipped: no price"
	tagNoCategory   = "skipped: no category"
	tagUnresolved   = "skipped: unresolved variable"
	tagInvalidMail  = "skipped: invalid server"
)

// subject identifies the record an outcome is about.
type subject struct {
	collection string
	key        string
	line       int
	id         int64
	// counter names a secondary counter family ("lines" counts lines_created,
	// lines_updated, ...). Empty means the loader's primary counters.
	counter string
}

// base carries what every loader shares: the environment, the result being
// built, the phase tracker and the data file currently read.
type base struct {
	env     core.Env
	client  *erp.Client
	res     *core.Result
	tracker *core.Tracker
	file    string
	start   time.Time
}

func newBase(env core.Env, step string) base {
	return base{
		env:     env,
		client:  env.Client,
		res:     core.NewResult(step),
		tracker: core.NewTracker(),
		start:   time.Now(),
	}
}

// enter advances the phase machine. An invalid transition is a programming
// error in the loader; it is logged and the run continues.
func (b *base) enter(ctx context.Context, p core.Phase) {
	if err := b.tracker.Enter(p); err != nil {
		logging.FromContext(ctx).Error("phase", "error", err)
	}
}

// begin enters PhaseReadingRows unless a previous file already did.
func (b *base) begin(ctx context.Context) {
	if b.tracker.Phase() == core.PhaseNotStarted {
		b.enter(ctx, core.PhaseReadingRows)
	}
}

// resolving marks the start of dependency lookups for the next record.
func (b *base) resolving(ctx context.Context) {
	b.enter(ctx, core.PhaseResolving)
}

// read loads a data file and checks its header against specs.
func (b *base) read(ctx context.Context, key string, specs []core.FieldSpec) (*core.Table, error) {
	b.begin(ctx)

	path, opts := b.env.File(key)
	b.file = filepath.Base(path)

	tbl, err := core.ReadCSV(path, opts)
	if err != nil {
		return nil, err
	}
	if err := core.ValidateHeaders(tbl.Index, specs); err != nil {
		return nil, fmt.Errorf("%s: %w", b.file, err)
	}

	logging.FromContext(ctx).Debug("data file read",
		"file", b.file, "rows", len(tbl.Rows), "bytes", tbl.Bytes, "delimiter", string(tbl.Delimiter))
	return tbl, nil
}

// valid returns the rows that pass specs. The others are skipped with the
// validation message as reason.
func (b *base) valid(ctx context.Context, collection string, tbl *core.Table, specs []core.FieldSpec, keyOf func(core.Row) string) []core.Row {
	rows := make([]core.Row, 0, len(tbl.Rows))
	for _, row := range tbl.Rows {
		if err := core.ValidateRow(row, specs); err != nil {
			b.skip(ctx, tagMalformed, subject{collection: collection, key: keyOf(row), line: row.Line}, err.Error())
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (b *base) logger(ctx context.Context, s subject) *slog.Logger {
	return logging.WithFields(ctx, "collection", s.collection, "key", s.key, "file", b.file, "line", s.line)
}

// ensure runs EnsureRecord and reports the outcome as created, updated, or
// unchanged when a match had nothing to write.
func (b *base) ensure(ctx context.Context, s subject, lookup erp.Domain, create, update *erp.Values) (int64, error) {
	b.enter(ctx, core.PhaseReconciling)

	id, created, err := b.client.EnsureRecord(ctx, s.collection, lookup, create, update)
	if err != nil {
		b.fail(ctx, s, err)
		return 0, err
	}
	s.id = id
	switch {
	case created:
		b.created(ctx, s)
	case update.Clean().Len() == 0:
		b.unchanged(ctx, s)
	default:
		b.updated(ctx, s)
	}
	return id, nil
}

func (b *base) created(ctx context.Context, s subject) {
	b.count(s, "created", &b.res.Created)
	b.outcome(ctx, tagCreated, audit.ActionCreated, s, "")
}

func (b *base) updated(ctx context.Context, s subject) {
	b.count(s, "updated", &b.res.Updated)
	b.outcome(ctx, tagUpdated, audit.ActionUpdated, s, "")
}

// unchanged only counts and logs; nothing was written, so nothing is audited.
func (b *base) unchanged(ctx context.Context, s subject) {
	name := "unchanged"
	if s.counter != "" {
		name = s.counter + "_unchanged"
	}
	b.res.Add(name, 1)
	b.logger(ctx, s).Debug(tagUnchanged, "id", s.id)
}

func (b *base) removed(ctx context.Context, s subject) {
	b.count(s, "removed", nil)
	b.outcome(ctx, tagRemoved, audit.ActionRemoved, s, "")
}

func (b *base) synthesized(ctx context.Context, s subject, counter string) {
	b.res.Add(counter, 1)
	b.outcome(ctx, tagSynthesized, audit.ActionSynthesized, s, "")
}

// skip counts a skipped record. tag is the log message, reason the detail.
func (b *base) skip(ctx context.Context, tag string, s subject, reason string) {
	if s.counter == "" {
		b.res.Skip(core.SkippedRow{File: b.file, Line: s.line, Key: s.key, Reason: tag})
	} else {
		b.res.Add(s.counter+"_skipped", 1)
	}
	b.outcome(ctx, tag, audit.ActionSkipped, s, reason)
}

func (b *base) fail(ctx context.Context, s subject, err error) {
	b.count(s, "failed", &b.res.Failed)
	b.outcome(ctx, tagFailed, audit.ActionFailed, s, err.Error())
}

func (b *base) count(s subject, suffix string, primary *int) {
	if s.counter != "" || primary == nil {
		prefix := s.counter
		if prefix == "" {
			prefix = "records"
		}
		b.res.Add(prefix+"_"+suffix, 1)
		return
	}
	*primary++
}

func (b *base) outcome(ctx context.Context, tag string, action audit.Action, s subject, reason string) {
	log := b.logger(ctx, s)
	switch action {
	case audit.ActionFailed:
		log.Error(tag, "id", s.id, "error", reason)
	case audit.ActionSkipped:
		log.Warn(tag, "reason", reason)
	default:
		log.Info(tag, "id", s.id)
	}

	b.env.Audit.Record(ctx, audit.Entry{
		Collection: s.collection,
		Action:     action,
		Key:        s.key,
		RecordID:   s.id,
		Reason:     reason,
		File:       b.file,
		Line:       s.line,
	})
}

// finish closes the run and returns the result.
func (b *base) finish(ctx context.Context) (*core.Result, error) {
	b.enter(ctx, core.PhaseSummarizing)
	b.res.Duration = time.Since(b.start)
	b.enter(ctx, core.PhaseDone)
	return b.res, nil
}

// abort fails the whole loader with err.
func (b *base) abort(ctx context.Context, err error) (*core.Result, error) {
	b.enter(ctx, core.PhaseFailed)
	b.res.Duration = time.Since(b.start)
	b.env.Audit.Record(ctx, audit.Entry{
		Collection: b.res.Step,
		Action:     audit.ActionAborted,
		Reason:     err.Error(),
		File:       b.file,
	})
	return b.res, err
}
