package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/logging"
)

// refCache memoizes natural key lookups for one loader run. A miss is
// cached as 0 so an unknown code is queried once.
type refCache struct {
	collection string
	field      string
	extra      erp.Domain
	ids        map[string]int64
	// uoms holds each record's uom_id when the cache was built withUoM.
	uoms map[string]int64
}

func newRefCache(collection, field string, extra ...erp.Cond) *refCache {
	return &refCache{collection: collection, field: field, extra: extra, ids: make(map[string]int64)}
}

// withUoM makes the cache read and keep the unit of every record it finds.
func (c *refCache) withUoM() *refCache {
	c.uoms = make(map[string]int64)
	return c
}

// uom returns the uom_id of the record cached under key, or 0.
func (c *refCache) uom(key string) int64 {
	return c.uoms[key]
}

func (c *refCache) fields() []string {
	if c.uoms != nil {
		return []string{c.field, "uom_id"}
	}
	return []string{c.field}
}

// lookup returns the id of the record whose field equals key, or 0.
func (c *refCache) lookup(ctx context.Context, client *erp.Client, key string) (int64, error) {
	if key == "" {
		return 0, nil
	}
	if id, ok := c.ids[key]; ok {
		return id, nil
	}

	dom := append(erp.Domain{erp.Eq(c.field, erp.String(key))}, c.extra...)
	var id int64
	if c.uoms != nil {
		recs, err := client.SearchRead(ctx, c.collection, dom, c.fields(), erp.Limit(1))
		if err != nil {
			return 0, err
		}
		if len(recs) > 0 {
			id = recs[0].ID()
			c.uoms[key] = recs[0].Ref("uom_id")
		}
	} else {
		ids, err := client.Search(ctx, c.collection, dom, erp.Limit(1))
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			id = ids[0]
		}
	}
	c.ids[key] = id
	return id, nil
}

// prefetch fills the cache for keys with a single search_read. Keys not
// found are cached as misses.
func (c *refCache) prefetch(ctx context.Context, client *erp.Client, keys []string) error {
	var missing []string
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		if _, ok := c.ids[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	dom := append(erp.Domain{erp.In(c.field, erp.Strings(missing...))}, c.extra...)
	recs, err := client.SearchRead(ctx, c.collection, dom, c.fields(), erp.NoLimit())
	if err != nil {
		return err
	}
	for _, k := range missing {
		c.ids[k] = 0
	}
	for _, r := range recs {
		key := r.String(c.field)
		if prev := c.ids[key]; prev == 0 {
			c.ids[key] = r.ID()
			if c.uoms != nil {
				c.uoms[key] = r.Ref("uom_id")
			}
		}
	}
	return nil
}

// set records an id obtained another way, e.g. right after creating it.
func (c *refCache) set(key string, id int64) {
	c.ids[key] = id
}

// findOne returns the first record matching dom, or 0.
func findOne(ctx context.Context, client *erp.Client, collection string, dom erp.Domain, opts ...erp.SearchOption) (int64, error) {
	ids, err := client.Search(ctx, collection, dom, append(opts, erp.Limit(1))...)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	return ids[0], nil
}

// optionalRef resolves an external reference, logging instead of failing
// when it cannot be resolved. It returns 0 in that case.
func optionalRef(ctx context.Context, client *erp.Client, xmlid string) int64 {
	if xmlid == "" {
		return 0
	}
	id, found, err := client.ResolveRef(ctx, xmlid, true)
	if err != nil {
		logging.FromContext(ctx).Warn("external reference unresolved", "ref", xmlid, "error", err)
		return 0
	}
	if !found {
		logging.FromContext(ctx).Warn("external reference not found", "ref", xmlid)
	}
	return id
}

// companyID returns the first company. Its absence is structural.
func companyID(ctx context.Context, client *erp.Client) (int64, error) {
	id, err := findOne(ctx, client, "res.company", nil, erp.Order("id"))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, core.ErrNoCompany
	}
	return id, nil
}

// uomResolver maps CSV units to uom.uom ids: mapping table, then a name
// lookup, then the default unit reference.
type uomResolver struct {
	defaults *core.Defaults
	byName   *refCache
	fallback int64
	resolved bool
}

func newUoMResolver(d *core.Defaults) *uomResolver {
	return &uomResolver{defaults: d, byName: newRefCache("uom.uom", "name")}
}

func (u *uomResolver) resolve(ctx context.Context, client *erp.Client, unit string) (int64, error) {
	name := u.defaults.UoMName(unit)
	if name == "" {
		name = strings.TrimSpace(unit)
	}
	if name != "" {
		id, err := u.byName.lookup(ctx, client, name)
		if err != nil {
			return 0, fmt.Errorf("unit %q: %w", unit, err)
		}
		if id > 0 {
			return id, nil
		}
		logging.FromContext(ctx).Debug("unit not found, using default", "unit", unit)
	}
	if !u.resolved {
		u.fallback = optionalRef(ctx, client, u.defaults.UoM.DefaultRef)
		u.resolved = true
	}
	return u.fallback, nil
}

// currencyID resolves a currency by code, falling back to the first
// currency in the ERP.
func currencyID(ctx context.Context, client *erp.Client, cache *refCache, code string) (int64, error) {
	id, err := cache.lookup(ctx, client, strings.ToUpper(code))
	if err != nil || id > 0 {
		return id, err
	}
	id, err = findOne(ctx, client, "res.currency", nil, erp.Order("id"))
	if err != nil {
		return 0, err
	}
	if id > 0 {
		logging.FromContext(ctx).Warn("currency not found, using first currency", "currency", code, "id", id)
		cache.set(strings.ToUpper(code), id)
	}
	return id, nil
}
