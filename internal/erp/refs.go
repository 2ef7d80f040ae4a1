package erp

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/provision/internal/logging"
)

// refEntry is a cached external reference lookup. found=false caches a miss.
type refEntry struct {
	id    int64
	found bool
}

// ResolveRef resolves a symbolic external id such as "uom.product_uom_unit"
// to a record id. With useCache, both hits and misses are remembered for the
// lifetime of the client, so a missing reference is queried only once.
// Transport failures are never cached.
func (c *Client) ResolveRef(ctx context.Context, xmlid string, useCache bool) (int64, bool, error) {
	module, name, ok := strings.Cut(strings.TrimSpace(xmlid), ".")
	if !ok || module == "" || name == "" {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidRef, xmlid)
	}
	key := module + "." + name

	if useCache {
		c.mu.Lock()
		entry, hit := c.refs[key]
		c.mu.Unlock()
		if hit {
			return entry.id, entry.found, nil
		}
	}

	recs, err := c.SearchRead(ctx, "ir.model.data",
		Domain{Eq("module", String(module)), Eq("name", String(name))},
		[]string{"res_id"}, Limit(1))
	if err != nil {
		return 0, false, err
	}

	entry := refEntry{}
	if len(recs) > 0 {
		if id := recs[0].Ref("res_id"); id > 0 {
			entry = refEntry{id: id, found: true}
		}
	}
	if !entry.found {
		logging.FromContext(ctx).Debug("external reference not found", "ref", key)
	}

	if useCache {
		c.mu.Lock()
		c.refs[key] = entry
		c.mu.Unlock()
	}
	return entry.id, entry.found, nil
}
