// Package erptest provides an in-memory ERP for tests. Store implements
// erp.Transport with the same verb contract as the real system, counts every
// call, and can inject failures. NewServer exposes a Store over JSON-RPC.
package erptest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/provision/internal/erp"
)

// Call is a recorded execute request, decoded from its wire form.
type Call struct {
	Model  string
	Method string
	Args   []any
	Kwargs map[string]any
}

// Handler serves a method the store does not implement itself.
type Handler func(s *Store, model string, args []any, kwargs map[string]any) (any, error)

// Store is an in-memory ERP. The zero value is not usable; call NewStore.
type Store struct {
	// DB, User and Password are the accepted credentials. Empty fields accept anything.
	DB       string
	User     string
	Password string

	mu       sync.Mutex
	nextID   int64
	records  map[string][]map[string]any
	calls    []Call
	logins   int
	failures []failure
	handlers map[string]Handler
}

type failure struct {
	method string
	err    error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string][]map[string]any),
		handlers: make(map[string]Handler),
	}
}

// Handle registers fn for method on any model.
func (s *Store) Handle(method string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// FailNext makes the next calls of method ("" for any) return errs in order.
func (s *Store) FailNext(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, err := range errs {
		s.failures = append(s.failures, failure{method: method, err: err})
	}
}

// Seed inserts a record directly, bypassing the call log, and returns its id.
func (s *Store) Seed(model string, fields map[string]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals, _ := normalize(fields).(map[string]any)
	return s.insert(model, vals)
}

// SeedRef registers an external reference module.name pointing at id.
func (s *Store) SeedRef(xmlid, model string, id int64) {
	module, name, _ := strings.Cut(xmlid, ".")
	s.Seed("ir.model.data", map[string]any{"module": module, "name": name, "model": model, "res_id": id})
}

// Records returns copies of all records of model in id order, archived ones included.
func (s *Store) Records(model string) []erp.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]erp.Record, 0, len(s.records[model]))
	for _, r := range s.records[model] {
		out = append(out, copyRecord(r))
	}
	return out
}

// Find returns the records of model whose field equals value.
func (s *Store) Find(model, field string, value any) []erp.Record {
	var out []erp.Record
	want := normalize(value)
	for _, r := range s.Records(model) {
		if equal(r[field], want) {
			out = append(out, r)
		}
	}
	return out
}

// Calls returns every recorded execute call.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount counts calls of method on model. Empty arguments match anything.
func (s *Store) CallCount(model, method string) int {
	n := 0
	for _, c := range s.Calls() {
		if (model == "" || c.Model == model) && (method == "" || c.Method == method) {
			n++
		}
	}
	return n
}

// LoginCount returns how many times Login was called.
func (s *Store) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// ResetCalls clears the call log and login counter.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.logins = 0
}

// Login implements erp.Transport.
func (s *Store) Login(_ context.Context, db, user, password string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	if err := s.takeFailure("login"); err != nil {
		return 0, err
	}
	if (s.DB != "" && db != s.DB) || (s.User != "" && user != s.User) || (s.Password != "" && password != s.Password) {
		return 0, nil
	}
	return 2, nil
}

// Execute implements erp.Transport. Arguments are round-tripped through
// JSON so the store sees exactly what would go over the wire.
func (s *Store) Execute(_ context.Context, _ erp.Session, call erp.Call) (json.RawMessage, error) {
	args, kwargs, err := wireForm(call)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Model: call.Model, Method: call.Method, Args: args, Kwargs: kwargs})
	if err := s.takeFailure(call.Method); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	handler := s.handlers[call.Method]
	s.mu.Unlock()

	var result any
	if handler != nil {
		result, err = handler(s, call.Model, args, kwargs)
	} else {
		result, err = s.dispatch(call.Model, call.Method, args, kwargs)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func wireForm(call erp.Call) ([]any, map[string]any, error) {
	var args []any
	var kwargs map[string]any
	raw, err := json.Marshal(call.Args)
	if err != nil {
		return nil, nil, fmt.Errorf("encode args: %w", err)
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, nil, err
	}
	raw, err = json.Marshal(call.Kwargs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode kwargs: %w", err)
	}
	if err := json.Unmarshal(raw, &kwargs); err != nil {
		return nil, nil, err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return args, kwargs, nil
}

// takeFailure pops the first queued failure matching method. Caller holds mu.
func (s *Store) takeFailure(method string) error {
	for i, f := range s.failures {
		if f.method == "" || f.method == method {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
			return f.err
		}
	}
	return nil
}

func remoteErr(name, format string, args ...any) error {
	return &erp.RemoteError{Code: 200, Name: name, Message: fmt.Sprintf(format, args...)}
}

func (s *Store) dispatch(model, method string, args []any, kwargs map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch method {
	case "search":
		dom, err := domainArg(args)
		if err != nil {
			return nil, err
		}
		recs, err := s.query(model, dom, kwargs)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(recs))
		for _, r := range recs {
			ids = append(ids, int64(r["id"].(float64)))
		}
		return ids, nil

	case "search_read":
		dom, err := domainArg(args)
		if err != nil {
			return nil, err
		}
		recs, err := s.query(model, dom, kwargs)
		if err != nil {
			return nil, err
		}
		return project(recs, stringList(kwargs["fields"])), nil

	case "search_count":
		dom, err := domainArg(args)
		if err != nil {
			return nil, err
		}
		recs, err := s.query(model, dom, map[string]any{})
		if err != nil {
			return nil, err
		}
		return len(recs), nil

	case "create":
		if len(args) != 1 {
			return nil, remoteErr("TypeError", "create expects one value mapping")
		}
		vals, ok := args[0].(map[string]any)
		if !ok || len(vals) == 0 {
			return nil, remoteErr("ValueError", "create on %s requires values", model)
		}
		return s.insert(model, vals), nil

	case "write":
		if len(args) != 2 {
			return nil, remoteErr("TypeError", "write expects ids and values")
		}
		vals, _ := args[1].(map[string]any)
		for _, id := range idList(args[0]) {
			rec := s.byID(model, id)
			if rec == nil {
				return nil, remoteErr("odoo.exceptions.MissingError", "Record does not exist or has been deleted. (Record: %s(%d,))", model, id)
			}
			for k, v := range vals {
				rec[k] = v
			}
		}
		return true, nil

	case "read":
		if len(args) < 1 {
			return nil, remoteErr("TypeError", "read expects ids")
		}
		var recs []map[string]any
		for _, id := range idList(args[0]) {
			if rec := s.byID(model, id); rec != nil {
				recs = append(recs, rec)
			}
		}
		return project(recs, stringList(kwargs["fields"])), nil

	case "unlink":
		if len(args) != 1 {
			return nil, remoteErr("TypeError", "unlink expects ids")
		}
		drop := map[int64]bool{}
		for _, id := range idList(args[0]) {
			drop[id] = true
		}
		kept := s.records[model][:0]
		for _, r := range s.records[model] {
			if !drop[int64(r["id"].(float64))] {
				kept = append(kept, r)
			}
		}
		s.records[model] = kept
		return true, nil
	}

	return nil, remoteErr("AttributeError", "The method '%s' does not exist on the model '%s'", method, model)
}

// insert stores vals under a fresh id. Caller holds mu.
func (s *Store) insert(model string, vals map[string]any) int64 {
	s.nextID++
	rec := make(map[string]any, len(vals)+1)
	for k, v := range vals {
		rec[k] = v
	}
	rec["id"] = float64(s.nextID)
	s.records[model] = append(s.records[model], rec)
	return s.nextID
}

func (s *Store) byID(model string, id int64) map[string]any {
	for _, r := range s.records[model] {
		if int64(r["id"].(float64)) == id {
			return r
		}
	}
	return nil
}

// query filters, orders and pages the records of model. Caller holds mu.
func (s *Store) query(model string, dom []cond, kwargs map[string]any) ([]map[string]any, error) {
	mentionsActive := false
	for _, c := range dom {
		if c.field == "active" {
			mentionsActive = true
		}
	}

	var out []map[string]any
	for _, r := range s.records[model] {
		if !mentionsActive {
			if active, ok := r["active"].(bool); ok && !active {
				continue
			}
		}
		ok, err := matchAll(r, dom)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}

	if order, _ := kwargs["order"].(string); order != "" {
		sortRecords(out, order)
	}
	if off, ok := kwargs["offset"].(float64); ok && off > 0 {
		if int(off) >= len(out) {
			out = nil
		} else {
			out = out[int(off):]
		}
	}
	if lim, ok := kwargs["limit"].(float64); ok && lim > 0 && int(lim) < len(out) {
		out = out[:int(lim)]
	}
	return out, nil
}

func sortRecords(recs []map[string]any, order string) {
	field, dir, _ := strings.Cut(strings.TrimSpace(strings.Split(order, ",")[0]), " ")
	desc := strings.EqualFold(strings.TrimSpace(dir), "desc")
	sort.SliceStable(recs, func(i, j int) bool {
		c := compare(recs[i][field], recs[j][field])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func project(recs []map[string]any, fields []string) []map[string]any {
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		if len(fields) == 0 {
			out = append(out, copyRecord(r))
			continue
		}
		p := map[string]any{"id": r["id"]}
		for _, f := range fields {
			v, ok := r[f]
			if !ok {
				v = false
			}
			p[f] = v
		}
		out = append(out, p)
	}
	return out
}

func copyRecord(r map[string]any) erp.Record {
	out := make(erp.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func idList(v any) []int64 {
	switch t := v.(type) {
	case []any:
		out := make([]int64, 0, len(t))
		for _, item := range t {
			if f, ok := item.(float64); ok {
				out = append(out, int64(f))
			}
		}
		return out
	case float64:
		return []int64{int64(t)}
	}
	return nil
}

// normalize converts Go values to their decoded-JSON form.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
