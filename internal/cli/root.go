// Package cli implements the provision command: load configuration, run the
// loader pipeline against the ERP, print the run summary and the KPI report.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/provision/internal/config"
	"github.com/JonMunkholm/provision/internal/erp"
)

// Options holds the command line flags. Empty string flags leave the
// configured value in place.
type Options struct {
	KPIOnly     bool
	SkipKPI     bool
	KPIFormat   string
	DataDir     string
	Steps       []string
	LogLevel    string
	LogFormat   string
	MatchPolicy string
}

// App holds what the command needs from the outside world. Tests replace
// the configuration source and the transport.
type App struct {
	LoadConfig   func() (*config.Config, error)
	NewTransport func(cfg *config.Config) erp.Transport
}

// NewApp returns an App reading the environment and talking JSON-RPC.
func NewApp() *App {
	return &App{
		LoadConfig: config.Load,
		NewTransport: func(cfg *config.Config) erp.Transport {
			return erp.NewJSONRPC(cfg.ERP.URL, cfg.ERP.Timeout)
		},
	}
}

// ValidKPIFormats lists the accepted --kpi-format values.
var ValidKPIFormats = []string{"text", "json", "csv"}

// NewRootCommand creates the provision command.
func NewRootCommand(app *App) *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision ERP master data from CSV files",
		Long: `Provision reconciles products, suppliers, bills of materials, routings,
quality points and warehouse locations from CSV master data into the ERP,
sets up mail servers and manufacturing order numbering from the defaults,
then prints a KPI report.

Every loader is idempotent: running it again updates what exists and
creates only what is missing.

Example:
  provision --data-dir ./data
  provision --steps products,bom
  provision --kpi-only --kpi-format json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return WrapExitError(ExitUsage, "invalid arguments", err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), app, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitUsage, "invalid flags", err)
	})

	f := cmd.Flags()
	f.BoolVar(&opts.KPIOnly, "kpi-only", false, "skip the loaders and only print the KPI report")
	f.BoolVar(&opts.SkipKPI, "skip-kpi", false, "do not extract the KPI report after the loaders")
	f.StringVar(&opts.KPIFormat, "kpi-format", "text", "KPI report format (text|json|csv)")
	f.StringVar(&opts.DataDir, "data-dir", "", "directory holding the CSV files (overrides PROVISION_DATA_DIR)")
	f.StringSliceVar(&opts.Steps, "steps", nil, "comma-separated loaders to run in isolation")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	f.StringVar(&opts.LogFormat, "log-format", "", "log format: text or json (overrides LOG_FORMAT)")
	f.StringVar(&opts.MatchPolicy, "match-policy", "", "when a lookup matches several records: first or error (overrides ODOO_MATCH_POLICY)")

	return cmd
}

func (o *Options) validate() error {
	if o.KPIOnly && o.SkipKPI {
		return NewExitError(ExitUsage, "--kpi-only and --skip-kpi are mutually exclusive")
	}
	if o.KPIOnly && len(o.Steps) > 0 {
		return NewExitError(ExitUsage, "--kpi-only cannot be combined with --steps")
	}
	if !isValidKPIFormat(o.KPIFormat) {
		return NewExitError(ExitUsage, fmt.Sprintf("invalid --kpi-format %q: must be one of %v", o.KPIFormat, ValidKPIFormats))
	}
	if o.MatchPolicy != "" {
		if _, err := erp.ParseMatchPolicy(o.MatchPolicy); err != nil {
			return WrapExitError(ExitUsage, "invalid --match-policy", err)
		}
	}
	return nil
}

// apply overlays the flags that were set on cfg.
func (o *Options) apply(cfg *config.Config) {
	if o.DataDir != "" {
		cfg.Pipeline.DataDir = o.DataDir
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	if o.MatchPolicy != "" {
		cfg.ERP.MatchPolicy = o.MatchPolicy
	}
}

func isValidKPIFormat(format string) bool {
	for _, f := range ValidKPIFormats {
		if f == strings.ToLower(format) {
			return true
		}
	}
	return false
}
