package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// JSONRPCPath is the endpoint the JSON-RPC transport posts to.
const JSONRPCPath = "/jsonrpc"

// JSONRPC is a Transport speaking the ERP's JSON-RPC 2.0 dialect over HTTP:
// service "common" for login and service "object" for execute_kw.
type JSONRPC struct {
	endpoint string
	http     *http.Client
	seq      atomic.Int64
}

// NewJSONRPC returns a transport for the ERP at baseURL.
func NewJSONRPC(baseURL string, timeout time.Duration) *JSONRPC {
	return &JSONRPC{
		endpoint: strings.TrimRight(baseURL, "/") + JSONRPCPath,
		http:     &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// Login implements Transport. A false result means rejected credentials.
func (j *JSONRPC) Login(ctx context.Context, db, user, password string) (int64, error) {
	raw, err := j.call(ctx, "common", "login", []any{db, user, password})
	if err != nil {
		return 0, err
	}
	if string(bytes.TrimSpace(raw)) == "false" {
		return 0, nil
	}
	var uid int64
	if err := json.Unmarshal(raw, &uid); err != nil {
		return 0, fmt.Errorf("login: unexpected result %s", raw)
	}
	return uid, nil
}

// Execute implements Transport.
func (j *JSONRPC) Execute(ctx context.Context, s Session, call Call) (json.RawMessage, error) {
	args := call.Args
	if args == nil {
		args = []any{}
	}
	kwargs := call.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return j.call(ctx, "object", "execute_kw",
		[]any{s.DB, s.UID, s.Password, call.Model, call.Method, args, kwargs})
}

func (j *JSONRPC) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      j.seq.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{
			Service:    service,
			Method:     method,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(payload)), MaxMessageLen),
		}
	}

	var out rpcResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		msg := out.Error.Data.Message
		if msg == "" {
			msg = out.Error.Message
		}
		return nil, &RemoteError{Code: out.Error.Code, Name: out.Error.Data.Name, Message: msg}
	}
	return out.Result, nil
}
