package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/provision/internal/audit"
	"github.com/JonMunkholm/provision/internal/config"
	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/kpi"
	_ "github.com/JonMunkholm/provision/internal/loader" // register all loaders
	"github.com/JonMunkholm/provision/internal/logging"
	"github.com/JonMunkholm/provision/internal/pipeline"
)

func run(ctx context.Context, app *App, opts *Options, stdout, stderr io.Writer) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return WrapExitError(ExitUsage, "configuration", err)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitUsage, "configuration", err)
	}

	logger := logging.Setup(stderr, cfg.Logging.Level, cfg.Logging.Format)
	ctx = logging.WithLogger(ctx, logger)
	logger.Debug("configuration loaded", "config", cfg.String())

	defaults, err := core.LoadDefaults(cfg.Pipeline.DefaultsFile)
	if err != nil {
		return WrapExitError(ExitUsage, "provisioning defaults", err)
	}

	policy, err := erp.ParseMatchPolicy(cfg.ERP.MatchPolicy)
	if err != nil {
		return WrapExitError(ExitUsage, "configuration", err)
	}
	client := erp.NewClient(app.NewTransport(cfg), erp.Options{
		Database:    cfg.ERP.Database,
		User:        cfg.ERP.User,
		Password:    cfg.ERP.Password,
		SearchLimit: cfg.ERP.SearchLimit,
		BatchSize:   cfg.ERP.BatchSize,
		StripFields: cfg.ERP.StripFields,
		MatchPolicy: policy,
		Retry: erp.RetryPolicy{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay,
			Backoff:  cfg.Retry.Backoff,
			MaxDelay: cfg.Retry.MaxDelay,
		},
	})

	if !opts.KPIOnly {
		recorder, err := openAudit(ctx, cfg.Audit)
		if err != nil {
			return WrapExitError(ExitUsage, "audit", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("closing audit sink failed", "error", err)
			}
		}()

		env := core.Env{
			Client:   client,
			DataDir:  cfg.Pipeline.DataDir,
			Encoding: cfg.Pipeline.CSVEncoding,
			Defaults: defaults,
			Audit:    recorder,
			Logger:   logger,
		}
		sum, err := pipeline.New(env, core.All()).Run(ctx, pipeline.Options{Steps: opts.Steps})
		if err != nil {
			return WrapExitError(ExitUsage, "pipeline", err)
		}
		if err := sum.Render(stdout); err != nil {
			return WrapExitError(ExitFailure, "write summary", err)
		}
		if sum.Interrupted {
			return NewExitError(ExitInterrupted, "interrupted")
		}
		if !opts.SkipKPI {
			fmt.Fprintln(stdout)
			if err := report(ctx, client, cfg, opts, stdout); err != nil {
				return err
			}
		}
		if n := failedSteps(sum); n > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d step(s) failed", n))
		}
		return nil
	}

	return report(ctx, client, cfg, opts, stdout)
}

func report(ctx context.Context, client *erp.Client, cfg *config.Config, opts *Options, w io.Writer) error {
	r, err := kpi.NewExtractor(client, cfg.Pipeline.KPIWindow).Extract(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return WrapExitError(ExitInterrupted, "interrupted", err)
		}
		return WrapExitError(ExitFailure, "kpi report", err)
	}

	switch strings.ToLower(opts.KPIFormat) {
	case "json":
		err = r.WriteJSON(w)
	case "csv":
		err = r.WriteCSV(w)
	default:
		err = r.Render(w)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "write kpi report", err)
	}
	return nil
}

// openAudit builds the configured sinks. A disabled audit trail yields a nil
// recorder, which records nothing.
func openAudit(ctx context.Context, cfg config.AuditConfig) (*audit.Recorder, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var sinks []audit.Sink
	if cfg.DatabaseURL != "" {
		pg, err := audit.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pg)
	}
	if cfg.File != "" {
		f, err := audit.OpenFile(cfg.File)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, f)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return audit.NewRecorder(audit.Multi(sinks...)), nil
}

func failedSteps(sum *pipeline.Summary) int {
	n := 0
	for _, st := range sum.Steps {
		if st.Status == pipeline.StatusFailed {
			n++
		}
	}
	return n
}
