package loader

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/logging"
)

const (
	collSequence    = "ir.sequence"
	collPickingType = "stock.picking.type"
	collCategory    = "product.category"

	pickingSequencePrefix = "MRP_OPERATION"
)

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:      "manufacturing_config",
			Group:     "manufacturing",
			Label:     "Order sequence, operation types and tracking",
			Order:     55,
			DependsOn: []string{"routing"},
			Weight:    1,
		},
		New: func(env core.Env) (core.Loader, error) {
			return &manufacturingLoader{base: newBase(env, "manufacturing_config")}, nil
		},
	})
}

// manufacturingLoader sets up what production orders need beyond routings:
// the order number sequence of the company, the consumption and production
// operation types numbered by it, and lot or serial tracking per product
// category.
type manufacturingLoader struct {
	base
	company int64
}

func (l *manufacturingLoader) Run(ctx context.Context) (*core.Result, error) {
	l.begin(ctx)
	company, err := companyID(ctx, l.client)
	if err != nil {
		return l.abort(ctx, err)
	}
	l.company = company

	seq, err := l.sequence(ctx)
	if err != nil {
		return l.abort(ctx, fmt.Errorf("production order sequence: %w", err))
	}
	wh, err := l.warehouse(ctx)
	if err != nil {
		return l.abort(ctx, fmt.Errorf("warehouse of company %d: %w", l.company, err))
	}
	for _, pt := range l.env.Defaults.Manufacturing.PickingTypes {
		l.pickingType(ctx, pt, wh, seq)
	}

	tracking := l.env.Defaults.Manufacturing.Tracking
	categories := make([]string, 0, len(tracking))
	for name := range tracking {
		categories = append(categories, name)
	}
	slices.Sort(categories)
	for _, name := range categories {
		l.tracking(ctx, name, tracking[name])
	}

	return l.finish(ctx)
}

// sequence reconciles the company's production order sequence. A company
// sequence takes precedence over a shared one with the same code, so a
// shared sequence is left alone.
func (l *manufacturingLoader) sequence(ctx context.Context) (int64, error) {
	d := l.env.Defaults.Manufacturing
	s := subject{collection: collSequence, key: d.SequenceCode, counter: "sequences"}
	lookup := erp.Domain{
		erp.Eq("code", erp.String(d.SequenceCode)),
		erp.Eq("company_id", erp.ID(l.company)),
	}
	update := erp.NewValues().
		Set("prefix", erp.String(d.Prefix)).
		Set("padding", erp.Int(int64(d.Padding)))
	create := update.Clone().
		Set("name", erp.String(fmt.Sprintf("Manufacturing Order (%s)", d.Prefix))).
		Set("code", erp.String(d.SequenceCode)).
		Set("implementation", erp.String("standard")).
		Set("number_next", erp.Int(1)).
		Set("number_increment", erp.Int(1)).
		Set("company_id", erp.ID(l.company))

	l.resolving(ctx)
	return l.ensure(ctx, s, lookup, create, update)
}

// warehouse returns the company's warehouse, creating one when it has none.
func (l *manufacturingLoader) warehouse(ctx context.Context) (int64, error) {
	s := subject{collection: collWarehouse, key: fmt.Sprintf("WH%d", l.company), counter: "warehouses"}
	create := erp.NewValues().
		Set("name", erp.String(fmt.Sprintf("Warehouse Company %d", l.company))).
		Set("code", erp.String(s.key)).
		Set("company_id", erp.ID(l.company))

	l.resolving(ctx)
	return l.ensure(ctx, s, erp.Domain{erp.Eq("company_id", erp.ID(l.company))}, create, nil)
}

// pickingType reconciles one operation type of the warehouse. An existing
// type only gets the sequence when it has none.
func (l *manufacturingLoader) pickingType(ctx context.Context, pt core.PickingTypeDefaults, wh, seq int64) {
	s := subject{collection: collPickingType, key: pt.Name, counter: "picking_types"}
	lookup := erp.Domain{
		erp.Eq("name", erp.String(pt.Name)),
		erp.Eq("warehouse_id", erp.ID(wh)),
		erp.Eq("code", erp.String(pt.Code)),
	}

	l.resolving(ctx)
	existing, err := l.client.SearchRead(ctx, collPickingType, lookup, []string{"sequence_id"}, erp.Limit(1))
	if err != nil {
		l.fail(ctx, s, err)
		return
	}
	var update *erp.Values
	if len(existing) == 0 || existing[0].Ref("sequence_id") == 0 {
		update = erp.NewValues().Set("sequence_id", erp.ID(seq))
	}

	create := erp.NewValues().
		Set("name", erp.String(pt.Name)).
		Set("code", erp.String(pt.Code)).
		Set("warehouse_id", erp.ID(wh)).
		Set("sequence_id", erp.ID(seq)).
		Set("sequence_code", erp.String(pickingSequenceCode(wh, pt.Code))).
		Set("company_id", erp.ID(l.company))
	l.ensure(ctx, s, lookup, create, update)
}

// pickingSequenceCode is unique per warehouse and operation code, e.g.
// MRP_OPERATION-1-INC.
func pickingSequenceCode(wh int64, code string) string {
	short := strings.ToUpper(code)
	if len(short) > 3 {
		short = short[:3]
	}
	return fmt.Sprintf("%s-%d-%s", pickingSequencePrefix, wh, short)
}

// tracking sets the tracking mode of every product template in the named
// category that does not have it yet.
func (l *manufacturingLoader) tracking(ctx context.Context, category, mode string) {
	s := subject{collection: collCategory, key: category, counter: "tracking"}

	l.resolving(ctx)
	cat, err := findOne(ctx, l.client, collCategory, erp.Domain{erp.Eq("name", erp.String(category))})
	if err != nil {
		l.fail(ctx, s, err)
		return
	}
	if cat == 0 {
		l.skip(ctx, tagNoCategory, s, "product category not found")
		return
	}
	s.id = cat

	pending, err := l.client.SearchRead(ctx, collProductTemplate, erp.Domain{
		erp.Eq("categ_id", erp.ID(cat)),
		erp.Where("tracking", "!=", erp.String(mode)),
	}, []string{"id"}, erp.NoLimit())
	if err != nil {
		l.fail(ctx, s, err)
		return
	}
	if len(pending) == 0 {
		l.unchanged(ctx, s)
		return
	}

	l.enter(ctx, core.PhaseReconciling)
	ids := erp.IDsOf(pending)
	if _, err := l.client.Write(ctx, collProductTemplate, ids, erp.NewValues().Set("tracking", erp.String(mode))); err != nil {
		l.fail(ctx, s, err)
		return
	}
	l.res.Add("products_tracking_updated", len(ids))
	logging.FromContext(ctx).Debug("tracking set", "category", category, "tracking", mode, "products", len(ids))
	l.updated(ctx, s)
}
