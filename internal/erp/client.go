package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/provision/internal/logging"
)

// Default limits used when Options leaves them unset.
const (
	DefaultSearchLimit = 100
	DefaultBatchSize   = 500
)

// DefaultStripFields are never sent on create or write.
var DefaultStripFields = []string{"detailed_type"}

// Options configures a Client.
type Options struct {
	Database string
	User     string
	Password string

	// SearchLimit applies to searches without an explicit limit.
	SearchLimit int
	// BatchSize caps every limit, explicit or not.
	BatchSize int
	// StripFields are removed from create and write payloads. Nil means DefaultStripFields.
	StripFields []string
	// MatchPolicy decides how EnsureRecord treats several matches.
	MatchPolicy MatchPolicy
	// Retry bounds retries of transport failures on read methods. The zero
	// value means no retry. Mutating methods are never retried.
	Retry RetryPolicy
	// Sleep replaces the real clock between retries.
	Sleep SleepFunc
}

// Client is the remote call gateway. It authenticates lazily once, cleans
// value mappings before transmission, and caches external reference
// lookups for its lifetime. A Client belongs to one provisioning session.
type Client struct {
	transport Transport
	opts      Options
	sleep     SleepFunc

	mu   sync.Mutex
	uid  int64
	refs map[string]refEntry
}

// NewClient creates a gateway over t.
func NewClient(t Transport, opts Options) *Client {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = DefaultSearchLimit
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize < opts.SearchLimit {
		opts.BatchSize = opts.SearchLimit
	}
	if opts.StripFields == nil {
		opts.StripFields = DefaultStripFields
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Client{
		transport: t,
		opts:      opts,
		sleep:     sleep,
		refs:      make(map[string]refEntry),
	}
}

// Authenticate resolves the user id on first use and reuses it afterwards.
// A rejected login is not cached, so a later call tries again.
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uid > 0 {
		return c.uid, nil
	}

	uid, err := c.transport.Login(ctx, c.opts.Database, c.opts.User, c.opts.Password)
	if err != nil {
		logging.FromContext(ctx).Error("authentication failed",
			"db", c.opts.Database, "user", c.opts.User, "error", truncate(err.Error(), MaxMessageLen))
		return 0, &AuthenticationError{DB: c.opts.Database, User: c.opts.User, Err: err}
	}
	if uid <= 0 {
		logging.FromContext(ctx).Error("authentication rejected", "db", c.opts.Database, "user", c.opts.User)
		return 0, &AuthenticationError{DB: c.opts.Database, User: c.opts.User}
	}

	c.uid = uid
	logging.FromContext(ctx).Debug("authenticated", "db", c.opts.Database, "uid", uid)
	return uid, nil
}

// readMethods are safe to send again after a lost reply. A create, write or
// unlink may already be committed when its reply is lost, so those run once.
var readMethods = map[string]bool{
	"search":       true,
	"search_read":  true,
	"search_count": true,
	"read":         true,
	"fields_get":   true,
	"name_search":  true,
}

// execute performs one logical verb: authenticate, then run the call with
// the retry policy when the method only reads. Failures are logged with
// collection and verb.
func (c *Client) execute(ctx context.Context, verb string, call Call) (json.RawMessage, error) {
	uid, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	session := Session{DB: c.opts.Database, UID: uid, Password: c.opts.Password}

	policy := c.opts.Retry
	if !readMethods[call.Method] {
		policy = NoRetry
	}

	logger := logging.FromContext(ctx)
	var raw json.RawMessage
	attempts, err := policy.do(ctx, c.sleep,
		func(attempt int, wait time.Duration, err error) {
			logger.Warn("remote call failed, retrying",
				"collection", call.Model, "verb", verb, "attempt", attempt,
				"wait", wait, "error", truncate(err.Error(), MaxMessageLen))
		},
		func() error {
			var callErr error
			raw, callErr = c.transport.Execute(ctx, session, call)
			return callErr
		})
	if err != nil {
		msg := truncate(err.Error(), MaxMessageLen)
		logger.Error("remote call failed",
			"collection", call.Model, "verb", verb, "attempts", attempts, "error", msg)
		return nil, &RemoteCallError{Collection: call.Model, Verb: verb, Attempts: attempts, Message: msg, Err: err}
	}
	return raw, nil
}

func (c *Client) decode(raw json.RawMessage, verb, collection string, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &RemoteCallError{
			Collection: collection, Verb: verb, Attempts: 1,
			Message: truncate(fmt.Sprintf("unexpected result %s", raw), MaxMessageLen),
			Err:     err,
		}
	}
	return nil
}

// SearchOption adjusts a search or search_read.
type SearchOption func(*searchOptions)

type searchOptions struct {
	limit   int
	offset  int
	order   string
	noLimit bool
}

// Limit truncates the result to n records (capped by the batch size).
func Limit(n int) SearchOption { return func(o *searchOptions) { o.limit = n } }

// Offset skips the first n records.
func Offset(n int) SearchOption { return func(o *searchOptions) { o.offset = n } }

// Order sorts remote-side, e.g. "id asc".
func Order(spec string) SearchOption { return func(o *searchOptions) { o.order = spec } }

// NoLimit lifts the default search limit.
func NoLimit() SearchOption { return func(o *searchOptions) { o.noLimit = true } }

func (c *Client) searchKwargs(opts []SearchOption) map[string]any {
	so := searchOptions{}
	for _, opt := range opts {
		opt(&so)
	}

	kwargs := map[string]any{}
	switch {
	case so.limit > 0:
		kwargs["limit"] = min(so.limit, c.opts.BatchSize)
	case !so.noLimit:
		kwargs["limit"] = c.opts.SearchLimit
	}
	if so.offset > 0 {
		kwargs["offset"] = so.offset
	}
	if so.order != "" {
		kwargs["order"] = so.order
	}
	return kwargs
}

// Search returns the ids of records in collection matching domain.
func (c *Client) Search(ctx context.Context, collection string, domain Domain, opts ...SearchOption) ([]int64, error) {
	raw, err := c.execute(ctx, "search", Call{
		Model:  collection,
		Method: "search",
		Args:   []any{domain},
		Kwargs: c.searchKwargs(opts),
	})
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := c.decode(raw, "search", collection, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SearchRead searches and reads the listed fields in one round trip.
// fields must be given explicitly.
func (c *Client) SearchRead(ctx context.Context, collection string, domain Domain, fields []string, opts ...SearchOption) ([]Record, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("search_read %s: fields must be listed explicitly", collection)
	}
	kwargs := c.searchKwargs(opts)
	kwargs["fields"] = fields

	raw, err := c.execute(ctx, "search_read", Call{
		Model:  collection,
		Method: "search_read",
		Args:   []any{domain},
		Kwargs: kwargs,
	})
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := c.decode(raw, "search_read", collection, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// SearchCount returns the number of records matching domain.
func (c *Client) SearchCount(ctx context.Context, collection string, domain Domain) (int, error) {
	raw, err := c.execute(ctx, "search_count", Call{
		Model:  collection,
		Method: "search_count",
		Args:   []any{domain},
	})
	if err != nil {
		return 0, err
	}
	var n int
	if err := c.decode(raw, "search_count", collection, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Create creates one record and returns its id.
func (c *Client) Create(ctx context.Context, collection string, values *Values) (int64, error) {
	clean := values.Clean(c.opts.StripFields...)
	if clean.Len() == 0 {
		return 0, fmt.Errorf("create %s: %w", collection, ErrEmptyValues)
	}

	raw, err := c.execute(ctx, "create", Call{
		Model:  collection,
		Method: "create",
		Args:   []any{clean},
	})
	if err != nil {
		return 0, err
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var ids []int64
	if err := c.decode(raw, "create", collection, &ids); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, &RemoteCallError{Collection: collection, Verb: "create", Attempts: 1, Message: "no id returned"}
	}
	return ids[0], nil
}

// Write applies the same values to every id. No ids means nothing to do.
func (c *Client) Write(ctx context.Context, collection string, ids []int64, values *Values) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	clean := values.Clean(c.opts.StripFields...)
	if clean.Len() == 0 {
		return false, fmt.Errorf("write %s: %w", collection, ErrEmptyValues)
	}

	raw, err := c.execute(ctx, "write", Call{
		Model:  collection,
		Method: "write",
		Args:   []any{ids, clean},
	})
	if err != nil {
		return false, err
	}
	var ok bool
	if err := c.decode(raw, "write", collection, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Read fetches fields for ids. Without fields the remote default set is
// returned, which is slow on wide collections.
func (c *Client) Read(ctx context.Context, collection string, ids []int64, fields ...string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	call := Call{Model: collection, Method: "read", Args: []any{ids}}
	if len(fields) > 0 {
		call.Kwargs = map[string]any{"fields": fields}
	}

	raw, err := c.execute(ctx, "read", call)
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := c.decode(raw, "read", collection, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Unlink deletes ids. No ids means nothing to do.
func (c *Client) Unlink(ctx context.Context, collection string, ids []int64) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	raw, err := c.execute(ctx, "unlink", Call{
		Model:  collection,
		Method: "unlink",
		Args:   []any{ids},
	})
	if err != nil {
		return false, err
	}
	var ok bool
	if err := c.decode(raw, "unlink", collection, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Call invokes any method on collection and returns the raw result.
func (c *Client) Call(ctx context.Context, collection, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	return c.execute(ctx, method, Call{Model: collection, Method: method, Args: args, Kwargs: kwargs})
}
