package erptest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/provision/internal/erp"
)

// NewServer exposes s over the ERP's JSON-RPC protocol:
//
//	POST /jsonrpc   service "common" (login) and "object" (execute_kw)
//	GET  /healthz
//
// Remote faults come back as JSON-RPC errors; injected plain errors become
// HTTP 503 so clients see a transport failure.
func NewServer(s *Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post(erp.JSONRPCPath, func(w http.ResponseWriter, req *http.Request) {
		serveRPC(s, w, req)
	})

	return r
}

type envelope struct {
	ID     int64 `json:"id"`
	Params struct {
		Service string `json:"service"`
		Method  string `json:"method"`
		Args    []any  `json:"args"`
	} `json:"params"`
}

func serveRPC(s *Store, w http.ResponseWriter, req *http.Request) {
	var env envelope
	if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	result, err := route(s, req, env)
	if err != nil {
		var re *erp.RemoteError
		if !errors.As(err, &re) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{
			"jsonrpc": "2.0",
			"id":      env.ID,
			"error": map[string]any{
				"code":    re.Code,
				"message": "Odoo Server Error",
				"data":    map[string]any{"name": re.Name, "message": re.Message},
			},
		})
		return
	}

	writeJSON(w, map[string]any{"jsonrpc": "2.0", "id": env.ID, "result": result})
}

func route(s *Store, req *http.Request, env envelope) (json.RawMessage, error) {
	args := env.Params.Args
	arg := func(i int) any {
		if i < len(args) {
			return args[i]
		}
		return nil
	}
	str := func(i int) string {
		v, _ := arg(i).(string)
		return v
	}

	switch env.Params.Service + "." + env.Params.Method {
	case "common.login":
		uid, err := s.Login(req.Context(), str(0), str(1), str(2))
		if err != nil {
			return nil, err
		}
		if uid == 0 {
			return json.RawMessage("false"), nil
		}
		return json.Marshal(uid)

	case "object.execute_kw":
		uid, _ := arg(1).(float64)
		callArgs, _ := arg(5).([]any)
		kwargs, _ := arg(6).(map[string]any)
		return s.Execute(req.Context(),
			erp.Session{DB: str(0), UID: int64(uid), Password: str(2)},
			erp.Call{Model: str(3), Method: str(4), Args: callArgs, Kwargs: kwargs})
	}

	return nil, &erp.RemoteError{Code: 200, Name: "KeyError", Message: "unknown service method " + env.Params.Service + "." + env.Params.Method}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
