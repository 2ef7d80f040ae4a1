package erp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/provision/internal/logging"
)

// MatchPolicy decides what EnsureRecord does when a lookup filter matches
// more than one record.
type MatchPolicy int

const (
	// MatchFirst uses the first id returned by search.
	MatchFirst MatchPolicy = iota
	// MatchError refuses to touch any of the matches.
	MatchError
)

func (p MatchPolicy) String() string {
	if p == MatchError {
		return "error"
	}
	return "first"
}

// ParseMatchPolicy parses "first" or "error".
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return MatchFirst, nil
	case "error":
		return MatchError, nil
	default:
		return MatchFirst, fmt.Errorf("unknown match policy %q", s)
	}
}

// EnsureRecord finds the record of collection matching lookup, or creates
// it from create. When a record exists and update is non-nil, update is
// written to it first. It returns the record id and whether it was created.
//
// Calling it twice with the same collection and lookup yields the same id,
// created the first time and found the second.
func (c *Client) EnsureRecord(ctx context.Context, collection string, lookup Domain, create, update *Values) (int64, bool, error) {
	// Two is enough to tell "one" from "several".
	ids, err := c.Search(ctx, collection, lookup, Limit(2))
	if err != nil {
		return 0, false, err
	}

	if len(ids) > 1 {
		logging.FromContext(ctx).Warn("multiple records match lookup",
			"collection", collection, "lookup", lookup.String(), "ids", ids, "policy", c.opts.MatchPolicy.String())
		if c.opts.MatchPolicy == MatchError {
			return 0, false, &AmbiguousMatchError{Collection: collection, Lookup: lookup, IDs: ids}
		}
	}

	if len(ids) > 0 {
		id := ids[0]
		if update != nil {
			if _, err := c.Write(ctx, collection, []int64{id}, update); err != nil && !errors.Is(err, ErrEmptyValues) {
				return id, false, err
			}
		}
		return id, false, nil
	}

	id, err := c.Create(ctx, collection, create)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
