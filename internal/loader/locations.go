package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/logging"
)

const (
	collLocation   = "stock.location"
	collOrderpoint = "stock.warehouse.orderpoint"
	collWarehouse  = "stock.warehouse"
)

var locationSpecs = []core.FieldSpec{
	{Name: "path", Aliases: []string{"complete_name", "location"}, Required: true},
	{Name: "usage", Type: core.FieldEnum, EnumValues: []string{"internal", "view", "transit"}},
	{Name: "kanban_products", Aliases: []string{"products"}},
	{Name: "orderpoint_min", Aliases: []string{"min_qty"}, Type: core.FieldNumeric},
	{Name: "orderpoint_max", Aliases: []string{"max_qty"}, Type: core.FieldNumeric},
}

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:      "locations",
			Group:     "warehouse",
			Label:     "Locations and kanban",
			Order:     70,
			DependsOn: []string{"products"},
		},
		New: func(env core.Env) (core.Loader, error) { return &locationsLoader{base: newBase(env, "locations")}, nil },
	})
}

// locationsLoader builds the location tree, parents first, and the kanban
// orderpoints of the products stored in each location.
type locationsLoader struct {
	base
	paths     map[string]int64
	removal   int64
	warehouse int64
	variants  *refCache
}

func (l *locationsLoader) Run(ctx context.Context) (*core.Result, error) {
	d := l.env.Defaults.Locations
	l.paths = make(map[string]int64)
	l.variants = newRefCache(collProductVariant, "default_code")

	tbl, err := l.read(ctx, "locations", locationSpecs)
	switch {
	case errors.Is(err, core.ErrMissingFile):
		logging.FromContext(ctx).Info("no location file, using configured topology", "paths", len(d.Paths))
		tbl = nil
	case err != nil:
		return l.abort(ctx, err)
	}

	l.resolving(ctx)
	l.removal = optionalRef(ctx, l.client, d.RemovalStrategyRef)
	if l.warehouse, err = findOne(ctx, l.client, collWarehouse, erp.Domain{erp.Eq("code", erp.String(d.Warehouse))}); err != nil {
		return l.abort(ctx, err)
	}

	for _, p := range d.Paths {
		l.ensurePath(ctx, p, "internal", 0)
	}
	if tbl == nil {
		return l.finish(ctx)
	}

	for _, row := range l.valid(ctx, collLocation, tbl, locationSpecs, func(r core.Row) string { return r.Get("path", "complete_name", "location") }) {
		usage := strings.ToLower(row.Get("usage"))
		if usage == "" {
			usage = "internal"
		}
		loc := l.ensurePath(ctx, row.Get("path", "complete_name", "location"), usage, row.Line)
		if loc == 0 {
			continue
		}
		l.orderpoints(ctx, row, loc)
	}

	return l.finish(ctx)
}

// ensurePath reconciles every segment of path, parents first, and returns
// the id of the last one. The first segment is the warehouse root and is
// matched by its complete name; the others by name below their parent.
func (l *locationsLoader) ensurePath(ctx context.Context, path, usage string, line int) int64 {
	segments := splitPath(path)
	if len(segments) == 0 {
		return 0
	}

	var parent int64
	for i := range segments {
		full := strings.Join(segments[:i+1], "/")
		if id, ok := l.paths[full]; ok {
			parent = id
			continue
		}

		s := subject{collection: collLocation, key: full, line: line}
		isRoot := i == 0
		leafUsage := "internal"
		if isRoot {
			leafUsage = "view"
		} else if i == len(segments)-1 {
			leafUsage = usage
		}

		values := erp.NewValues().Set("usage", erp.String(leafUsage))
		if !isRoot && leafUsage == "internal" {
			values.Set("removal_strategy_id", erp.ID(l.removal))
		}
		create := erp.NewValues().
			Set("name", erp.String(segments[i])).
			Set("location_id", erp.ID(parent)).
			Merge(values)

		var lookup erp.Domain
		if isRoot {
			lookup = erp.Domain{erp.Eq("complete_name", erp.String(full))}
			create.Set("complete_name", erp.String(full))
			values = nil
		} else {
			lookup = erp.Domain{erp.Eq("name", erp.String(segments[i])), erp.Eq("location_id", erp.ID(parent))}
		}

		l.resolving(ctx)
		id, err := l.ensure(ctx, s, lookup, create, values)
		if err != nil {
			return 0
		}
		l.paths[full] = id
		parent = id
	}
	return parent
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// orderpoints reconciles one kanban orderpoint per product listed in the row.
func (l *locationsLoader) orderpoints(ctx context.Context, row core.Row, loc int64) {
	codes := splitList(row.Get("kanban_products", "products"))
	if len(codes) == 0 {
		return
	}
	d := l.env.Defaults.Locations
	minQty := core.DecimalOr(row.Get("orderpoint_min", "min_qty"), core.DecimalOr(d.OrderpointMin, decimal.Zero))
	maxQty := core.DecimalOr(row.Get("orderpoint_max", "max_qty"), core.DecimalOr(d.OrderpointMax, decimal.Zero))
	path := row.Get("path", "complete_name", "location")

	for _, code := range codes {
		s := subject{collection: collOrderpoint, key: code + "@" + path, line: row.Line, counter: "orderpoints"}
		if maxQty.LessThan(minQty) {
			l.skip(ctx, tagMalformed, s, fmt.Sprintf("orderpoint max %s below min %s", maxQty, minQty))
			continue
		}

		l.resolving(ctx)
		variant, err := l.variants.lookup(ctx, l.client, code)
		if err != nil {
			l.fail(ctx, s, err)
			continue
		}
		if variant == 0 {
			l.skip(ctx, tagNoProduct, s, fmt.Sprintf("product %q not found", code))
			continue
		}

		values := erp.NewValues().
			Set("product_min_qty", erp.Decimal(minQty)).
			Set("product_max_qty", erp.Decimal(maxQty)).
			Set("trigger", erp.String("auto"))
		create := erp.NewValues().
			Set("name", erp.String("KANBAN/"+path+"/"+code)).
			Set("product_id", erp.ID(variant)).
			Set("location_id", erp.ID(loc)).
			Set("warehouse_id", erp.ID(l.warehouse)).
			Merge(values)

		lookup := erp.Domain{erp.Eq("product_id", erp.ID(variant)), erp.Eq("location_id", erp.ID(loc))}
		l.ensure(ctx, s, lookup, create, values)
	}
}

// splitList splits a cell listing several codes by comma, pipe or space.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == ' ' })
}
