package core

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/provision/internal/audit"
	"github.com/JonMunkholm/provision/internal/erp"
)

var (
	// ErrNoCompany aborts a loader that needs a company record when none exists.
	ErrNoCompany = errors.New("no company record found")

	// ErrMissingFile is returned when a loader's data file does not exist.
	ErrMissingFile = errors.New("data file not found")
)

// FieldType represents the expected data type for a CSV field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldNumeric
	FieldInt
	FieldBool
)

// FieldSpec defines validation rules for a single CSV column.
type FieldSpec struct {
	Name       string   // Canonical column header (lowercase)
	Aliases    []string // Alternative headers accepted for the same column
	Type       FieldType
	Required   bool     // Value must be present and non-empty
	EnumValues []string // Valid values for FieldEnum
}

// Names returns the canonical name followed by the aliases.
func (f FieldSpec) Names() []string {
	return append([]string{f.Name}, f.Aliases...)
}

// HeaderIndex maps column names (lowercase) to their position in the CSV row.
type HeaderIndex map[string]int

// Lookup returns the position of the first of names present in the header.
func (h HeaderIndex) Lookup(names ...string) (int, bool) {
	for _, n := range names {
		if pos, ok := h[strings.ToLower(n)]; ok {
			return pos, true
		}
	}
	return 0, false
}

// Row is one data row with its 1-based line number in the source file.
type Row struct {
	Line   int
	Cells  []string
	Header HeaderIndex
}

// Get returns the cleaned value of the first of names present in the row.
// Missing columns read as "".
func (r Row) Get(names ...string) string {
	pos, ok := r.Header.Lookup(names...)
	if !ok || pos >= len(r.Cells) {
		return ""
	}
	return CleanCell(r.Cells[pos])
}

// Field returns the value for spec, trying its aliases.
func (r Row) Field(spec FieldSpec) string {
	return r.Get(spec.Names()...)
}

// SkippedRow records why a row or record was not reconciled.
type SkippedRow struct {
	File   string
	Line   int
	Key    string
	Reason string
}

// Result holds the counters of one loader run.
type Result struct {
	Step     string
	Created  int
	Updated  int
	Skipped  int
	Failed   int
	Counters map[string]int // secondary counters, e.g. lines_created
	Skips    []SkippedRow
	Duration time.Duration
}

// NewResult returns an empty result for step.
func NewResult(step string) *Result {
	return &Result{Step: step, Counters: make(map[string]int)}
}

// Add increments a secondary counter.
func (r *Result) Add(counter string, n int) {
	if r.Counters == nil {
		r.Counters = make(map[string]int)
	}
	r.Counters[counter] += n
}

// Count returns a secondary counter.
func (r *Result) Count(counter string) int {
	return r.Counters[counter]
}

// Skip counts a skipped row and remembers why.
func (r *Result) Skip(s SkippedRow) {
	r.Skipped++
	r.Skips = append(r.Skips, s)
}

// CounterNames returns the secondary counter names in sorted order.
func (r *Result) CounterNames() []string {
	names := make([]string, 0, len(r.Counters))
	for k := range r.Counters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// StepInfo describes a registered pipeline step.
type StepInfo struct {
	Name      string   // Unique key: "products"
	Group     string   // "master data", "manufacturing", "warehouse"
	Label     string   // Display name
	Order     int      // Tie-breaker between steps with no dependency between them
	DependsOn []string // Steps whose records this step looks up
	Weight    int      // Share of overall progress
}

// Loader reconciles one entity type.
type Loader interface {
	Run(ctx context.Context) (*Result, error)
}

// Env is what a step needs to build its loader.
type Env struct {
	Client   *erp.Client
	DataDir  string
	Encoding string
	Defaults *Defaults
	Audit    *audit.Recorder
	Logger   *slog.Logger
}

// Path resolves name inside the data directory.
func (e Env) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(e.DataDir, name)
}

// File returns the path and read options of a loader's data file.
func (e Env) File(key string) (string, CSVOptions) {
	f := e.Defaults.File(key)
	return e.Path(f.Name), CSVOptions{Delimiter: f.Delimiter, Encoding: e.Encoding}
}

// Log returns the injected logger or slog.Default.
func (e Env) Log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Factory builds a step's loader.
type Factory func(Env) (Loader, error)

// StepDefinition is a registered step.
type StepDefinition struct {
	Info StepInfo
	New  Factory
}
