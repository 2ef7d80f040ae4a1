package erp

import (
	"context"
	"encoding/json"
)

// Session identifies an authenticated caller on every execute request.
type Session struct {
	DB       string
	UID      int64
	Password string
}

// Call is one remote method invocation on a collection.
type Call struct {
	Model  string
	Method string
	Args   []any
	Kwargs map[string]any
}

// Transport carries calls to the remote ERP. Implementations return a
// *RemoteError when the remote side rejects a call; any other error is
// treated as a transport failure and may be retried by the Client.
type Transport interface {
	// Login returns the user id for the credentials, or 0 when they are rejected.
	Login(ctx context.Context, db, user, password string) (int64, error)

	// Execute runs call and returns the raw JSON result.
	Execute(ctx context.Context, s Session, call Call) (json.RawMessage, error)
}
