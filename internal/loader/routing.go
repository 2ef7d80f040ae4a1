package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/logging"
)

const (
	collWorkcenter = "mrp.workcenter"
	collOperation  = "mrp.routing.workcenter"
)

var workcenterSpecs = []core.FieldSpec{
	{Name: "code", Aliases: []string{"workcenter_code"}, Required: true},
	{Name: "name", Aliases: []string{"workcenter_name"}, Required: true},
	{Name: "capacity", Aliases: []string{"default_capacity"}, Type: core.FieldNumeric},
	{Name: "time_efficiency", Aliases: []string{"efficiency"}, Type: core.FieldNumeric},
	{Name: "costs_hour", Aliases: []string{"cost_per_hour"}, Type: core.FieldNumeric},
}

var operationSpecs = []core.FieldSpec{
	{Name: "name", Aliases: []string{"operation"}, Required: true},
	{Name: "workcenter", Aliases: []string{"workcenter_code", "workcenter_name"}, Required: true},
	{Name: "product_code", Aliases: []string{"default_code"}},
	{Name: "sequence", Type: core.FieldInt},
	{Name: "time_cycle_manual", Aliases: []string{"duration", "minutes"}, Type: core.FieldNumeric},
}

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:      "routing",
			Group:     "manufacturing",
			Label:     "Workcenters and routings",
			Order:     50,
			DependsOn: []string{"bom"},
			Weight:    2,
		},
		New: func(env core.Env) (core.Loader, error) { return &routingLoader{base: newBase(env, "routing")}, nil },
	})
}

// routingLoader reconciles workcenters per company and the routing
// operations of each BOM.
type routingLoader struct {
	base
	company     int64
	workcenters *workcenterIndex
	templates   *refCache
	boms        map[int64]int64
}

func (l *routingLoader) Run(ctx context.Context) (*core.Result, error) {
	l.begin(ctx)
	company, err := companyID(ctx, l.client)
	if err != nil {
		return l.abort(ctx, err)
	}
	l.company = company
	l.workcenters = newWorkcenterIndex(company)
	l.templates = newRefCache(collProductTemplate, "default_code")
	l.boms = make(map[int64]int64)

	if err := l.loadWorkcenters(ctx); err != nil {
		return l.abort(ctx, err)
	}

	tbl, err := l.read(ctx, "operations", operationSpecs)
	if err != nil {
		return l.abort(ctx, err)
	}
	rows := l.valid(ctx, collOperation, tbl, operationSpecs, func(r core.Row) string { return r.Get("name", "operation") })
	for _, row := range rows {
		l.operation(ctx, row)
	}

	return l.finish(ctx)
}

// loadWorkcenters reconciles workcenters.csv, or the configured workcenters
// when there is no such file.
func (l *routingLoader) loadWorkcenters(ctx context.Context) error {
	tbl, err := l.read(ctx, "workcenters", workcenterSpecs)
	switch {
	case errors.Is(err, core.ErrMissingFile):
		logging.FromContext(ctx).Info("no workcenter file, using configured workcenters", "count", len(l.env.Defaults.Workcenters))
		l.file = ""
		for _, wc := range l.env.Defaults.Workcenters {
			l.workcenter(ctx, 0, wc.Code, wc.Name,
				decimal.NewFromFloat(wc.Capacity), decimal.NewFromFloat(wc.Efficiency), decimal.Zero)
		}
		return nil
	case err != nil:
		return err
	}

	for _, row := range l.valid(ctx, collWorkcenter, tbl, workcenterSpecs, func(r core.Row) string { return r.Get("code", "workcenter_code") }) {
		capacity, _ := core.ParseQuantity(row.Get("capacity", "default_capacity"), decimal.NewFromInt(1))
		efficiency, _ := core.ParseQuantity(row.Get("time_efficiency", "efficiency"), decimal.NewFromInt(100))
		costs, _ := core.ParseQuantity(row.Get("costs_hour", "cost_per_hour"), decimal.Zero)
		l.workcenter(ctx, row.Line, row.Get("code", "workcenter_code"), row.Get("name", "workcenter_name"), capacity, efficiency, costs)
	}
	return nil
}

func (l *routingLoader) workcenter(ctx context.Context, line int, code, name string, capacity, efficiency, costs decimal.Decimal) {
	s := subject{collection: collWorkcenter, key: code, line: line, counter: "workcenters"}
	values := erp.NewValues().
		Set("name", erp.String(name)).
		Set("default_capacity", erp.Decimal(capacity)).
		Set("time_efficiency", erp.Decimal(efficiency)).
		Set("costs_hour", erp.Decimal(costs))
	create := erp.NewValues().
		Set("code", erp.String(code)).
		Set("company_id", erp.ID(l.company)).
		Merge(values)

	l.resolving(ctx)
	id, err := l.ensure(ctx, s, l.workcenters.domain(code), create, values)
	if err == nil {
		l.workcenters.set(code, name, id)
	}
}

func (l *routingLoader) operation(ctx context.Context, row core.Row) {
	name := row.Get("name", "operation")
	wcKey := row.Get("workcenter", "workcenter_code", "workcenter_name")
	minutes, _ := core.ParseQuantity(row.Get("time_cycle_manual", "duration", "minutes"),
		decimal.NewFromFloat(l.env.Defaults.Routing.OperationMinutes))
	sequence, _ := core.ParseInt(row.Get("sequence"), 100)

	codes := l.env.Defaults.FinishedProducts
	if code := row.Get("product_code", "default_code"); code != "" {
		codes = []string{code}
	}

	for _, code := range codes {
		s := subject{collection: collOperation, key: code + "/" + name, line: row.Line}

		l.resolving(ctx)
		bom, err := l.bomFor(ctx, code)
		if err != nil {
			l.fail(ctx, s, err)
			continue
		}
		if bom == 0 {
			l.skip(ctx, tagNoBOM, s, fmt.Sprintf("no bill of materials for %q", code))
			continue
		}

		wc, err := l.resolveWorkcenter(ctx, wcKey)
		if err != nil {
			l.fail(ctx, s, err)
			continue
		}
		if wc == 0 {
			l.skip(ctx, tagNoWorkcenter, s, fmt.Sprintf("workcenter %q not found and no fallback exists", wcKey))
			continue
		}

		values := erp.NewValues().
			Set("workcenter_id", erp.ID(wc)).
			Set("sequence", erp.Int(int64(sequence))).
			Set("time_mode", erp.String("manual")).
			Set("time_cycle_manual", erp.Decimal(minutes))
		create := erp.NewValues().
			Set("name", erp.String(name)).
			Set("bom_id", erp.ID(bom)).
			Merge(values)

		lookup := erp.Domain{erp.Eq("bom_id", erp.ID(bom)), erp.Eq("name", erp.String(name))}
		l.ensure(ctx, s, lookup, create, values)
	}
}

// bomFor returns the BOM of the product template with code, or 0.
func (l *routingLoader) bomFor(ctx context.Context, code string) (int64, error) {
	tmpl, err := l.templates.lookup(ctx, l.client, code)
	if err != nil || tmpl == 0 {
		return 0, err
	}
	if id, ok := l.boms[tmpl]; ok {
		return id, nil
	}
	id, err := findOne(ctx, l.client, collBOM, erp.Domain{erp.Eq("product_tmpl_id", erp.ID(tmpl))})
	if err != nil {
		return 0, err
	}
	l.boms[tmpl] = id
	return id, nil
}

// resolveWorkcenter finds a workcenter by code or name, falling back to the
// first configured fallback workcenter that exists.
func (l *routingLoader) resolveWorkcenter(ctx context.Context, key string) (int64, error) {
	id, err := l.workcenters.find(ctx, l.client, key)
	if err != nil || id > 0 {
		return id, err
	}
	for _, fb := range l.env.Defaults.FallbackWorkcenters {
		id, err := l.workcenters.find(ctx, l.client, fb)
		if err != nil {
			return 0, err
		}
		if id > 0 {
			logging.FromContext(ctx).Warn("unknown workcenter, using fallback", "workcenter", key, "fallback", fb)
			return id, nil
		}
	}
	return 0, nil
}

// workcenterIndex resolves workcenters of one company by code or name.
type workcenterIndex struct {
	company int64
	ids     map[string]int64
}

func newWorkcenterIndex(company int64) *workcenterIndex {
	return &workcenterIndex{company: company, ids: make(map[string]int64)}
}

func (w *workcenterIndex) domain(code string) erp.Domain {
	return erp.Domain{erp.Eq("code", erp.String(code)), erp.Eq("company_id", erp.ID(w.company))}
}

func (w *workcenterIndex) set(code, name string, id int64) {
	w.ids["code:"+code] = id
	if name != "" {
		w.ids["name:"+name] = id
	}
}

func (w *workcenterIndex) find(ctx context.Context, client *erp.Client, key string) (int64, error) {
	if key == "" {
		return 0, nil
	}
	for _, field := range []string{"code", "name"} {
		if id, ok := w.ids[field+":"+key]; ok && id > 0 {
			return id, nil
		}
	}
	if id, ok := w.ids["miss:"+key]; ok {
		return id, nil
	}

	id, err := findOne(ctx, client, collWorkcenter, w.domain(key))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		id, err = findOne(ctx, client, collWorkcenter, erp.Domain{erp.Eq("name", erp.String(key))})
		if err != nil {
			return 0, err
		}
	}
	if id > 0 {
		w.ids["code:"+key] = id
	} else {
		w.ids["miss:"+key] = 0
	}
	return id, nil
}
