package loader_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/provision/internal/audit"
	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/erp/erptest"
	_ "github.com/JonMunkholm/provision/internal/loader"
	"github.com/JonMunkholm/provision/internal/logging"
)

// auditLog collects audit entries in memory.
type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Record(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditLog) Close() error { return nil }

func (a *auditLog) actions(action audit.Action) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// harness runs registered steps against an in-memory ERP.
type harness struct {
	t     *testing.T
	store *erptest.Store
	dir   string
	logs  *bytes.Buffer
	audit *auditLog

	// defaults replaces the built-in defaults when set.
	defaults *core.Defaults
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:     t,
		store: erptest.NewStore(),
		dir:   t.TempDir(),
		logs:  &bytes.Buffer{},
		audit: &auditLog{},
	}
}

// file writes a data file into the harness data directory.
func (h *harness) file(name, content string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(filepath.Join(h.dir, name), []byte(content), 0o644))
}

// run builds the named step from the registry and runs it once with a
// fresh client, as a separate invocation would.
func (h *harness) run(step string) (*core.Result, error) {
	h.t.Helper()
	def, ok := core.Get(step)
	require.True(h.t, ok, "step %s not registered", step)

	defaults := h.defaults
	if defaults == nil {
		defaults = core.MustDefaults()
	}
	env := core.Env{
		Client:   erp.NewClient(h.store, erp.Options{Database: "factory", User: "admin", Password: "admin"}),
		DataDir:  h.dir,
		Defaults: defaults,
		Audit:    audit.NewRecorder(h.audit),
	}
	l, err := def.New(env)
	require.NoError(h.t, err)

	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := logging.WithStep(logging.WithLogger(context.Background(), logger), step)
	return l.Run(ctx)
}

// logged counts log entries with message msg.
func (h *harness) logged(msg string) int {
	key := "msg=" + msg
	if strings.ContainsAny(msg, " =\"") {
		key = "msg=" + strconv.Quote(msg)
	}
	n := 0
	for _, line := range strings.Split(h.logs.String(), "\n") {
		if strings.Contains(line, key+" ") || strings.HasSuffix(line, key) {
			n++
		}
	}
	return n
}

// one returns the single record of model whose field equals value.
func (h *harness) one(model, field string, value any) erp.Record {
	h.t.Helper()
	recs := h.store.Find(model, field, value)
	require.Len(h.t, recs, 1, "%s with %s=%v", model, field, value)
	return recs[0]
}
