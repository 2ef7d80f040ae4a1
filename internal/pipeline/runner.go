package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/logging"
)

// Status is the outcome of one step.
type Status string

const (
	StatusOK          Status = "ok"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"     // not selected for this run
	StatusInterrupted Status = "interrupted" // not started because the run was cancelled
)

// StepResult is what one step did.
type StepResult struct {
	Name     string
	Label    string
	Status   Status
	Result   *core.Result
	Err      error
	Duration time.Duration
}

// Summary is the outcome of a pipeline run.
type Summary struct {
	RunID       string
	Steps       []StepResult
	Started     time.Time
	Duration    time.Duration
	Interrupted bool
}

// Failed reports whether any step failed.
func (s *Summary) Failed() bool {
	for _, st := range s.Steps {
		if st.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Totals adds up the primary counters of every step.
func (s *Summary) Totals() (created, updated, skipped, failed int) {
	for _, st := range s.Steps {
		if st.Result == nil {
			continue
		}
		created += st.Result.Created
		updated += st.Result.Updated
		skipped += st.Result.Skipped
		failed += st.Result.Failed
	}
	return created, updated, skipped, failed
}

// Options selects what a run does.
type Options struct {
	// Steps limits the run to these steps. Empty runs every registered step.
	Steps []string
	// RunID identifies the run in logs and the audit trail. Empty generates one.
	RunID string
}

// Runner runs registered steps against one environment.
type Runner struct {
	env  core.Env
	defs []core.StepDefinition
	now  func() time.Time
}

// New returns a runner over defs, usually core.All().
func New(env core.Env, defs []core.StepDefinition) *Runner {
	return &Runner{env: env, defs: defs, now: time.Now}
}

// Run executes the planned steps one after another. It returns an error only
// when no plan can be made; step failures are reported in the summary.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	plan, err := Plan(r.defs, opts.Steps)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.WithRun(logging.WithLogger(ctx, r.env.Log()), runID)
	log := logging.FromContext(ctx)

	sum := &Summary{RunID: runID, Started: r.now()}
	planned := make(map[string]bool, len(plan))
	total := 0
	for _, d := range plan {
		planned[d.Info.Name] = true
		total += d.Info.Weight
	}

	log.Info("pipeline started", "steps", len(plan))

	done := 0
	for _, def := range plan {
		if ctx.Err() != nil {
			sum.Interrupted = true
			sum.Steps = append(sum.Steps, StepResult{Name: def.Info.Name, Label: def.Info.Label, Status: StatusInterrupted})
			continue
		}

		st := r.runStep(ctx, def)
		sum.Steps = append(sum.Steps, st)

		done += def.Info.Weight
		log.Info("step finished",
			"step", def.Info.Name,
			"status", string(st.Status),
			"duration_ms", st.Duration.Milliseconds(),
			"progress", fmt.Sprintf("%d%%", progress(done, total)))
	}

	// Steps left out of a subset run are listed so the summary is complete.
	for _, def := range r.defs {
		if !planned[def.Info.Name] {
			sum.Steps = append(sum.Steps, StepResult{Name: def.Info.Name, Label: def.Info.Label, Status: StatusSkipped})
		}
	}

	sum.Duration = r.now().Sub(sum.Started)
	created, updated, skipped, failed := sum.Totals()
	log.Info("pipeline finished",
		"created", created,
		"updated", updated,
		"skipped", skipped,
		"failed", failed,
		"interrupted", sum.Interrupted,
		"duration_ms", sum.Duration.Milliseconds())
	return sum, nil
}

// runStep builds and runs one loader. The loader gets a context that is not
// cancelled with the run, so an interrupt never stops it between a search
// and the write that depends on it.
func (r *Runner) runStep(ctx context.Context, def core.StepDefinition) (st StepResult) {
	st = StepResult{Name: def.Info.Name, Label: def.Info.Label}
	stepCtx := logging.WithStep(context.WithoutCancel(ctx), def.Info.Name)
	log := logging.FromContext(stepCtx)
	start := r.now()

	defer func() {
		if p := recover(); p != nil {
			st.Status = StatusFailed
			st.Err = fmt.Errorf("step %s panicked: %v", def.Info.Name, p)
			log.Error("step panicked", "panic", p)
		}
		st.Duration = r.now().Sub(start)
	}()

	log.Info("step started", "label", def.Info.Label)

	loader, err := def.New(r.env)
	if err != nil {
		return r.failed(log, st, fmt.Errorf("build %s: %w", def.Info.Name, err))
	}

	res, err := loader.Run(stepCtx)
	st.Result = res
	if err != nil {
		return r.failed(log, st, err)
	}

	st.Status = StatusOK
	if res != nil {
		log.Info("step summary",
			"created", res.Created,
			"updated", res.Updated,
			"skipped", res.Skipped,
			"failed", res.Failed)
	}
	return st
}

func (r *Runner) failed(log *slog.Logger, st StepResult, err error) StepResult {
	st.Status = StatusFailed
	st.Err = err
	msg := core.MapError(err)
	log.Error("step failed", "code", msg.Code, "error", err)
	return st
}

func progress(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
