package erp_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/erp/erptest"
)

func newRPCClient(t *testing.T, store *erptest.Store, mutate ...func(*erp.Options)) *erp.Client {
	t.Helper()
	srv := httptest.NewServer(erptest.NewServer(store))
	t.Cleanup(srv.Close)

	opts := erp.Options{Database: "factory", User: "admin", Password: "secret"}
	for _, m := range mutate {
		m(&opts)
	}
	return erp.NewClient(erp.NewJSONRPC(srv.URL+"/", 5*time.Second), opts)
}

func TestJSONRPC_RoundTrip(t *testing.T) {
	store := erptest.NewStore()
	store.DB, store.User, store.Password = "factory", "admin", "secret"
	client := newRPCClient(t, store)
	ctx := context.Background()

	uid, err := client.Authenticate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), uid)

	id, created, err := client.EnsureRecord(ctx, "product.template",
		erp.Domain{erp.Eq("default_code", erp.String("A1"))},
		erp.NewValues().
			Set("default_code", erp.String("A1")).
			Set("name", erp.String("Widget")).
			Set("list_price", erp.Number(10)),
		nil)
	require.NoError(t, err)
	assert.True(t, created)

	recs, err := client.SearchRead(ctx, "product.template",
		erp.Domain{erp.Eq("default_code", erp.String("A1"))}, []string{"name", "list_price"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].ID())
	assert.Equal(t, "Widget", recs[0].String("name"))
	assert.Equal(t, 10.0, recs[0].Float("list_price"))

	n, err := client.SearchCount(ctx, "product.template", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJSONRPC_LoginRejected(t *testing.T) {
	store := erptest.NewStore()
	store.Password = "other"
	client := newRPCClient(t, store)

	_, err := client.Authenticate(context.Background())
	var authErr *erp.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.NoError(t, authErr.Err)
}

func TestJSONRPC_RemoteErrorEnvelope(t *testing.T) {
	store := erptest.NewStore()
	client := newRPCClient(t, store, func(o *erp.Options) {
		o.Retry = erp.RetryPolicy{Attempts: 3}
		o.Sleep = func(context.Context, time.Duration) error { return nil }
	})

	_, err := client.Call(context.Background(), "res.partner", "no_such_method", []any{}, nil)
	require.Error(t, err)

	var remote *erp.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "AttributeError", remote.Name)
	assert.Contains(t, remote.Message, "no_such_method")
	assert.Equal(t, 1, store.CallCount("res.partner", "no_such_method"), "remote faults are not retried")
}

func TestJSONRPC_UnavailableIsRetried(t *testing.T) {
	store := erptest.NewStore()
	store.FailNext("search", errors.New("worker restarting"))
	client := newRPCClient(t, store, func(o *erp.Options) {
		o.Retry = erp.RetryPolicy{Attempts: 2, Delay: time.Millisecond}
		o.Sleep = func(context.Context, time.Duration) error { return nil }
	})

	ids, err := client.Search(context.Background(), "res.partner", nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 2, store.CallCount("res.partner", "search"))
}

func TestJSONRPC_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	transport := erp.NewJSONRPC(srv.URL, time.Second)
	_, err := transport.Login(context.Background(), "db", "u", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 502")

	var remote *erp.RemoteError
	assert.False(t, errors.As(err, &remote))
}

func TestJSONRPC_HTTPStatusRetry(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		attempts int
	}{
		{"bad gateway", http.StatusBadGateway, 3},
		{"service unavailable", http.StatusServiceUnavailable, 3},
		{"too many requests", http.StatusTooManyRequests, 3},
		{"not found", http.StatusNotFound, 1},
		{"forbidden", http.StatusForbidden, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var searches atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if strings.Contains(string(body), `"login"`) {
					_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":2}`))
					return
				}
				searches.Add(1)
				http.Error(w, http.StatusText(tt.status), tt.status)
			}))
			defer srv.Close()

			client := erp.NewClient(erp.NewJSONRPC(srv.URL, time.Second), erp.Options{
				Database: "db", User: "u", Password: "p",
				Retry: erp.RetryPolicy{Attempts: 3},
				Sleep: func(context.Context, time.Duration) error { return nil },
			})
			_, err := client.Search(context.Background(), "res.partner", nil)

			var callErr *erp.RemoteCallError
			require.ErrorAs(t, err, &callErr)
			assert.Equal(t, tt.attempts, callErr.Attempts)
			assert.Equal(t, int32(tt.attempts), searches.Load())

			var statusErr *erp.HTTPStatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
		})
	}
}
