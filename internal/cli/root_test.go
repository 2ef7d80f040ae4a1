package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/provision/internal/config"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/erp/erptest"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(NewApp())
	require.NotNil(t, cmd)
	assert.Equal(t, "provision", cmd.Use)

	flags := map[string]string{
		"kpi-only":     "false",
		"skip-kpi":     "false",
		"kpi-format":   "text",
		"data-dir":     "",
		"steps":        "[]",
		"log-level":    "",
		"log-format":   "",
		"match-policy": "",
	}
	for name, def := range flags {
		t.Run(name, func(t *testing.T) {
			f := cmd.Flags().Lookup(name)
			require.NotNil(t, f, "flag --%s", name)
			assert.Equal(t, def, f.DefValue)
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitUsage, "bad flag"), ExitUsage},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitInterrupted, "stop")), ExitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Message(t *testing.T) {
	err := WrapExitError(ExitUsage, "configuration", errors.New("ODOO_URL is required"))
	assert.Equal(t, "configuration: ODOO_URL is required", err.Error())
	assert.Equal(t, "interrupted", NewExitError(ExitInterrupted, "interrupted").Error())
}

// testEnv is a fake ERP plus a valid configuration pointing at it.
type testEnv struct {
	store *erptest.Store
	cfg   *config.Config
	dir   string
	app   *App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{store: erptest.NewStore(), dir: t.TempDir()}
	e.cfg = &config.Config{
		ERP: config.ERPConfig{
			URL: "http://erp.test", Database: "factory", User: "admin", Password: "admin",
			Timeout: 5 * time.Second, SearchLimit: 100, BatchSize: 500, MatchPolicy: "first",
			StripFields: []string{"detailed_type"},
		},
		Retry:    config.RetryConfig{Attempts: 1, Backoff: 1},
		Pipeline: config.PipelineConfig{DataDir: e.dir, CSVEncoding: "utf-8", KPIWindow: 720 * time.Hour},
		Logging:  config.LoggingConfig{Level: "info", Format: "text"},
	}
	e.app = &App{
		LoadConfig: func() (*config.Config, error) {
			cfg := *e.cfg
			return &cfg, nil
		},
		NewTransport: func(*config.Config) erp.Transport { return e.store },
	}
	return e
}

func (e *testEnv) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644))
}

func (e *testEnv) execute(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	cmd := NewRootCommand(e.app)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestFlagValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"kpi-only with skip-kpi", []string{"--kpi-only", "--skip-kpi"}, "mutually exclusive"},
		{"kpi-only with steps", []string{"--kpi-only", "--steps", "products"}, "cannot be combined"},
		{"bad kpi format", []string{"--kpi-format", "xml"}, "invalid --kpi-format"},
		{"bad match policy", []string{"--match-policy", "last"}, "invalid --match-policy"},
		{"unknown flag", []string{"--dry-run"}, "invalid flags"},
		{"positional argument", []string{"data"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			_, _, err := e.execute(context.Background(), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ExitUsage, GetExitCode(err))
			assert.Empty(t, e.store.Calls())
		})
	}
}

func TestRun_ConfigurationError(t *testing.T) {
	e := newTestEnv(t)
	e.app.LoadConfig = func() (*config.Config, error) {
		return nil, errors.New("required environment variable ODOO_URL is not set")
	}

	_, _, err := e.execute(context.Background())
	assert.Equal(t, ExitUsage, GetExitCode(err))
	assert.Contains(t, err.Error(), "ODOO_URL")
}

func TestRun_InvalidLogLevelFlag(t *testing.T) {
	e := newTestEnv(t)
	_, _, err := e.execute(context.Background(), "--log-level", "loud", "--skip-kpi")
	assert.Equal(t, ExitUsage, GetExitCode(err))
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestRun_UnknownStep(t *testing.T) {
	e := newTestEnv(t)
	_, _, err := e.execute(context.Background(), "--steps", "prodcts", "--skip-kpi")
	assert.Equal(t, ExitUsage, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown step "prodcts"`)
}

func TestRun_StepsOverJSONRPC(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(erptest.NewServer(e.store))
	t.Cleanup(srv.Close)
	e.app.NewTransport = func(cfg *config.Config) erp.Transport {
		return erp.NewJSONRPC(srv.URL, cfg.ERP.Timeout)
	}

	e.write(t, "products.csv", "default_code,name,price\nP-1,Drone,100\nP-2,Rotor,2\n")
	auditFile := filepath.Join(t.TempDir(), "audit.jsonl")
	e.cfg.Audit = config.AuditConfig{Enabled: true, File: auditFile}

	stdout, stderr, err := e.execute(context.Background(), "--steps", "products", "--skip-kpi")
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, GetExitCode(err))

	assert.Len(t, e.store.Records("product.template"), 2)
	assert.Regexp(t, `(?m)^products\s+ok\s+2\s+0\s+0\s+0\s`, stdout)
	assert.Regexp(t, `(?m)^bom\s+skipped\s`, stdout)
	assert.NotContains(t, stdout, "KPI report")
	assert.Contains(t, stderr, `msg="pipeline finished"`)

	raw, err := os.ReadFile(auditFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "created", entry["action"])
	assert.Equal(t, "products", entry["step"])
	assert.NotEmpty(t, entry["runId"])
}

func TestRun_DataDirFlagOverridesConfig(t *testing.T) {
	e := newTestEnv(t)
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "products.csv"),
		[]byte("default_code,name,price\nX-1,Frame,10\n"), 0o644))

	_, _, err := e.execute(context.Background(), "--data-dir", other, "--steps", "products", "--skip-kpi")
	require.NoError(t, err)
	assert.Len(t, e.store.Find("product.template", "default_code", "X-1"), 1)
}

func TestRun_FailedStepExitsNonZero(t *testing.T) {
	e := newTestEnv(t)

	stdout, _, err := e.execute(context.Background(), "--steps", "products")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "1 step(s) failed", err.Error())
	assert.Contains(t, stdout, "(Code: CSV001)")
	// The KPI report still follows a failed step.
	assert.Contains(t, stdout, "KPI report")
}

func TestRun_KPIOnly(t *testing.T) {
	e := newTestEnv(t)
	e.store.Seed("quality.check", map[string]any{"quality_state": "pass"})
	e.store.Seed("quality.check", map[string]any{"quality_state": "fail"})

	stdout, _, err := e.execute(context.Background(), "--kpi-only", "--kpi-format", "json")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "STEP")
	assert.Zero(t, e.store.CallCount("product.template", ""))

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	quality := report["quality"].(map[string]any)
	assert.Equal(t, 2.0, quality["total"])
	assert.Equal(t, 50.0, quality["passRate"])
}

func TestRun_Interrupted(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout, _, err := e.execute(ctx)
	assert.Equal(t, ExitInterrupted, GetExitCode(err))
	assert.Contains(t, stdout, "Run interrupted")
	assert.NotContains(t, stdout, "KPI report")
	assert.Zero(t, e.store.CallCount("", ""))
}

func TestRun_KPIOnlyInterrupted(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.store.Handle("search_count", func(*erptest.Store, string, []any, map[string]any) (any, error) {
		cancel()
		return nil, context.Canceled
	})

	stdout, _, err := e.execute(ctx, "--kpi-only")
	assert.Equal(t, ExitInterrupted, GetExitCode(err))
	assert.NotContains(t, stdout, "KPI report")
}
