// Package erp is the gateway to the remote ERP.
//
// # Verbs
//
// A Client exposes the remote verbs against named collections: Search,
// SearchRead, SearchCount, Create, Write, Read, Unlink and the generic Call.
// Each verb is exactly one round trip. SearchRead combines search and read
// and must list its fields.
//
// # Value hygiene
//
// Payloads are Values, an ordered mapping of field names to a small tagged
// union (string, number, bool, id, id list). Absent values mean "leave
// unspecified" and are removed before create and write, together with the
// configured strip fields (detailed_type by default).
//
// # Reconciliation
//
// EnsureRecord is the idempotent find-or-create (optionally -update) every
// loader is built on. When a lookup matches several records a warning is
// logged and the MatchPolicy decides between the first match and an
// AmbiguousMatchError.
//
// # Errors and retries
//
// Transports return *RemoteError for faults raised by the remote side; those
// are never retried. Other transport failures are retried according to the
// RetryPolicy. Every failed verb surfaces as *RemoteCallError carrying the
// collection, the verb and a message truncated to MaxMessageLen.
package erp
