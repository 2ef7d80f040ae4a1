package erp

import (
	"errors"
	"fmt"
	"net/http"
)

// MaxMessageLen bounds remote messages carried in errors and logs.
const MaxMessageLen = 200

var (
	// ErrEmptyValues is returned by Create and Write when nothing is left to
	// send after absent values and stripped fields are removed.
	ErrEmptyValues = errors.New("empty value mapping")

	// ErrInvalidRef is returned for external references not of the form module.name.
	ErrInvalidRef = errors.New("invalid external reference")
)

// RemoteError is a fault reported by the remote side itself, such as a
// constraint violation or an access error. It is never retried.
type RemoteError struct {
	Code    int
	Name    string // remote exception class, e.g. odoo.exceptions.ValidationError
	Message string
}

func (e *RemoteError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}

// HTTPStatusError is a JSON-RPC reply with a status other than 200.
type HTTPStatusError struct {
	Service    string
	Method     string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.Service, e.Method, e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth another try: a server
// error or rate limiting. Other 4xx replies fail the same way every time.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// AuthenticationError reports rejected credentials.
type AuthenticationError struct {
	DB   string
	User string
	Err  error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for %s@%s: %v", e.User, e.DB, e.Err)
	}
	return fmt.Sprintf("authentication failed for %s@%s: credentials rejected", e.User, e.DB)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RemoteCallError is returned by every gateway verb that fails. Message is
// the cause's text truncated to MaxMessageLen.
type RemoteCallError struct {
	Collection string
	Verb       string
	Attempts   int
	Message    string
	Err        error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %s", e.Verb, e.Collection, e.Attempts, e.Message)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// Rejected reports whether the remote side refused the call, as opposed to
// the call never completing.
func (e *RemoteCallError) Rejected() bool {
	var re *RemoteError
	return errors.As(e.Err, &re)
}

// AmbiguousMatchError is returned by EnsureRecord under MatchError when a
// lookup filter matches more than one record.
type AmbiguousMatchError struct {
	Collection string
	Lookup     Domain
	IDs        []int64
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous lookup %s on %s: %d records match %v", e.Lookup, e.Collection, len(e.IDs), e.IDs)
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
