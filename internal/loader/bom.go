package loader

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
)

const (
	collBOM            = "mrp.bom"
	collBOMLine        = "mrp.bom.line"
	collProductVariant = "product.product"
)

var bomSpecs = []core.FieldSpec{
	{Name: "bom_id", Aliases: []string{"bom"}},
	{Name: "product_code", Aliases: []string{"parent_code"}, Required: true},
	{Name: "bom_name"},
	{Name: "product_qty", Type: core.FieldNumeric},
	{Name: "component_code", Aliases: []string{"component"}},
	{Name: "component_qty", Aliases: []string{"quantity", "qty"}, Type: core.FieldNumeric},
	{Name: "sequence", Type: core.FieldInt},
}

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:      "bom",
			Group:     "manufacturing",
			Label:     "Bills of materials",
			Order:     40,
			DependsOn: []string{"products"},
			Weight:    3,
		},
		New: func(env core.Env) (core.Loader, error) { return &bomLoader{base: newBase(env, "bom")}, nil },
	})
}

// bomGroup is one bill of materials: the rows sharing a bom_id, in file order.
type bomGroup struct {
	key  string
	rows []core.Row
}

// bomLine is a component after duplicates in one BOM were merged.
type bomLine struct {
	code     string
	line     int
	qty      decimal.Decimal
	sequence int
}

// bomLoader reconciles BOM headers by product template and their lines by
// component, removing lines no longer listed.
type bomLoader struct {
	base
	templates *refCache
	variants  *refCache
}

func (l *bomLoader) Run(ctx context.Context) (*core.Result, error) {
	tbl, err := l.read(ctx, "bom", bomSpecs)
	if err != nil {
		return l.abort(ctx, err)
	}
	rows := l.valid(ctx, collBOM, tbl, bomSpecs, func(r core.Row) string { return r.Get("product_code", "parent_code") })
	groups := groupBOMs(rows)

	// Components of rows that failed validation still protect their lines.
	ok := make(map[int]bool, len(rows))
	for _, r := range rows {
		ok[r.Line] = true
	}
	invalid := make(map[string][]string)
	for _, r := range tbl.Rows {
		if c := r.Get("component_code", "component"); !ok[r.Line] && c != "" {
			invalid[bomKey(r)] = append(invalid[bomKey(r)], c)
		}
	}

	// Every code is looked up once for the whole file.
	l.resolving(ctx)
	var heads, components []string
	for _, g := range groups {
		heads = append(heads, g.rows[0].Get("product_code", "parent_code"))
		for _, r := range g.rows {
			components = append(components, r.Get("component_code", "component"))
		}
		components = append(components, invalid[g.key]...)
	}
	l.templates = newRefCache(collProductTemplate, "default_code").withUoM()
	l.variants = newRefCache(collProductVariant, "default_code").withUoM()
	if err := l.templates.prefetch(ctx, l.client, heads); err != nil {
		return l.abort(ctx, err)
	}
	if err := l.variants.prefetch(ctx, l.client, components); err != nil {
		return l.abort(ctx, err)
	}

	for _, g := range groups {
		l.bom(ctx, g, invalid[g.key])
	}

	return l.finish(ctx)
}

// groupBOMs groups rows by bom_id, or by product_code when there is no
// bom_id, keeping the order of first appearance.
func groupBOMs(rows []core.Row) []*bomGroup {
	var groups []*bomGroup
	byKey := make(map[string]*bomGroup)
	for _, r := range rows {
		key := bomKey(r)
		g, ok := byKey[key]
		if !ok {
			g = &bomGroup{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}
	return groups
}

func bomKey(r core.Row) string {
	if key := r.Get("bom_id", "bom"); key != "" {
		return key
	}
	return r.Get("product_code", "parent_code")
}

// bom reconciles one header and its lines. held names components of rows
// that were not written but whose existing lines must stay.
func (l *bomLoader) bom(ctx context.Context, g *bomGroup, held []string) {
	head := g.rows[0]
	code := head.Get("product_code", "parent_code")
	s := subject{collection: collBOM, key: code, line: head.Line}

	l.resolving(ctx)
	tmpl, err := l.templates.lookup(ctx, l.client, code)
	if err != nil {
		l.fail(ctx, s, err)
		return
	}
	if tmpl == 0 {
		l.skip(ctx, tagNoProduct, s, fmt.Sprintf("bom %s: product %q not found", g.key, code))
		return
	}

	qty, err := core.ParseQuantity(head.Get("product_qty"), decimal.NewFromInt(1))
	if err != nil || qty.IsZero() {
		l.skip(ctx, tagMalformed, s, fmt.Sprintf("bom %s: invalid product_qty %q", g.key, head.Get("product_qty")))
		return
	}
	name := head.Get("bom_name")
	if name == "" {
		name = "BoM " + g.key
	}

	header := erp.NewValues().
		Set("product_qty", erp.Decimal(qty)).
		Set("product_uom_id", erp.ID(l.templates.uom(code))).
		Set("code", erp.String(name))
	create := erp.NewValues().
		Set("product_tmpl_id", erp.ID(tmpl)).
		Set("type", erp.String("normal")).
		Merge(header)

	bomID, err := l.ensure(ctx, s, erp.Domain{erp.Eq("product_tmpl_id", erp.ID(tmpl))}, create, header)
	if err != nil {
		return
	}

	// kept holds every component still listed, whether or not its line was
	// written, so a failed or skipped row never removes the existing line.
	lines, malformed := l.mergeLines(ctx, g)
	held = append(held, malformed...)
	kept := make(map[int64]bool)
	written, complete := 0, true
	for _, line := range lines {
		variant, ok, err := l.line(ctx, bomID, line)
		if err != nil {
			complete = false
		}
		if variant > 0 {
			kept[variant] = true
		}
		if ok {
			written++
		}
	}
	for _, c := range held {
		variant, err := l.variants.lookup(ctx, l.client, c)
		if err != nil {
			complete = false
			continue
		}
		if variant > 0 {
			kept[variant] = true
		}
	}

	switch {
	case written == 0:
		l.logger(ctx, s).Info("no component line written, existing lines left in place", "bom", g.key)
	case !complete:
		l.logger(ctx, s).Warn("component lookup failed, existing lines left in place", "bom", g.key)
	default:
		l.prune(ctx, bomID, code, kept)
	}
}

// mergeLines collects the components of g, summing quantities of
// components listed more than once. held lists the codes of rows skipped
// as malformed.
func (l *bomLoader) mergeLines(ctx context.Context, g *bomGroup) (lines []*bomLine, held []string) {
	byCode := make(map[string]*bomLine)
	for i, r := range g.rows {
		code := r.Get("component_code", "component")
		if code == "" {
			continue
		}
		s := subject{collection: collBOMLine, key: code, line: r.Line, counter: "lines"}

		qty, err := core.ParseQuantity(r.Get("component_qty", "quantity", "qty"), decimal.NewFromInt(1))
		if err != nil || qty.IsZero() {
			l.skip(ctx, tagMalformed, s, fmt.Sprintf("invalid component_qty %q", r.Get("component_qty", "quantity", "qty")))
			held = append(held, code)
			continue
		}
		seq, _ := core.ParseInt(r.Get("sequence"), (i+1)*10)

		if prev, ok := byCode[code]; ok {
			prev.qty = prev.qty.Add(qty)
			l.res.Add("lines_merged", 1)
			l.logger(ctx, s).Info("duplicate component merged", "first_line", prev.line, "quantity", prev.qty.String())
			continue
		}
		bl := &bomLine{code: code, line: r.Line, qty: qty, sequence: seq}
		byCode[code] = bl
		lines = append(lines, bl)
	}
	return lines, held
}

// line reconciles one component. It returns the variant id when the
// component resolved, whether the line was written, and the lookup error
// when the component could not be resolved at all.
func (l *bomLoader) line(ctx context.Context, bomID int64, bl *bomLine) (int64, bool, error) {
	s := subject{collection: collBOMLine, key: bl.code, line: bl.line, counter: "lines"}

	l.resolving(ctx)
	variant, err := l.variants.lookup(ctx, l.client, bl.code)
	if err != nil {
		l.fail(ctx, s, err)
		return 0, false, err
	}
	if variant == 0 {
		l.skip(ctx, tagNoProduct, s, fmt.Sprintf("component %q not found", bl.code))
		return 0, false, nil
	}

	values := erp.NewValues().
		Set("product_qty", erp.Decimal(bl.qty)).
		Set("product_uom_id", erp.ID(l.variants.uom(bl.code))).
		Set("sequence", erp.Int(int64(bl.sequence)))
	create := erp.NewValues().
		Set("bom_id", erp.ID(bomID)).
		Set("product_id", erp.ID(variant)).
		Merge(values)

	lookup := erp.Domain{erp.Eq("bom_id", erp.ID(bomID)), erp.Eq("product_id", erp.ID(variant))}
	if _, err := l.ensure(ctx, s, lookup, create, values); err != nil {
		return variant, false, nil
	}
	return variant, true, nil
}

// prune unlinks the lines of bomID whose component is not in kept.
func (l *bomLoader) prune(ctx context.Context, bomID int64, code string, kept map[int64]bool) {
	recs, err := l.client.SearchRead(ctx, collBOMLine, erp.Domain{erp.Eq("bom_id", erp.ID(bomID))}, []string{"product_id"}, erp.NoLimit())
	if err != nil {
		l.fail(ctx, subject{collection: collBOMLine, key: code, counter: "lines"}, err)
		return
	}

	var stale []int64
	for _, r := range recs {
		if !kept[r.Ref("product_id")] {
			stale = append(stale, r.ID())
		}
	}
	if len(stale) == 0 {
		return
	}

	l.enter(ctx, core.PhaseReconciling)
	if _, err := l.client.Unlink(ctx, collBOMLine, stale); err != nil {
		l.fail(ctx, subject{collection: collBOMLine, key: code, counter: "lines"}, err)
		return
	}
	for _, id := range stale {
		l.removed(ctx, subject{collection: collBOMLine, key: code, id: id, counter: "lines"})
	}
}
