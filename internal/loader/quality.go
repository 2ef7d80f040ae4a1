package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/logging"
)

const (
	collQualityPoint = "quality.point"
	collTestType     = "quality.point.test_type"

	maxTitle          = 255
	maxWorkcenterCode = 20
)

var qualitySpecs = []core.FieldSpec{
	{Name: "qp_id", Aliases: []string{"name", "title"}},
	{Name: "workcenter", Aliases: []string{"operation_id", "workcenter_name", "workcenter_code"}},
	{Name: "product_code", Aliases: []string{"product_default_code", "default_code"}},
	{Name: "operation", Aliases: []string{"operation_name"}},
	{Name: "test_type"},
	{Name: "pass_threshold", Type: core.FieldNumeric},
	{Name: "fail_threshold", Type: core.FieldNumeric},
	{Name: "note", Aliases: []string{"test_criteria"}},
}

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:      "quality",
			Group:     "manufacturing",
			Label:     "Quality points",
			Order:     60,
			DependsOn: []string{"routing"},
		},
		New: func(env core.Env) (core.Loader, error) { return &qualityLoader{base: newBase(env, "quality")}, nil },
	})
}

// qualityLoader reconciles quality points. Unlike the routing loader it
// synthesizes missing workcenters and operations instead of skipping.
type qualityLoader struct {
	base
	company     int64
	workcenters *workcenterIndex
	templates   *refCache
	testTypes   *refCache
	boms        map[int64]int64
}

func (l *qualityLoader) Run(ctx context.Context) (*core.Result, error) {
	tbl, err := l.read(ctx, "quality", qualitySpecs)
	if err != nil {
		return l.abort(ctx, err)
	}
	if !tbl.Column("qp_id", "name", "title") {
		return l.abort(ctx, fmt.Errorf("%s: missing required column(s): qp_id", l.file))
	}
	rows := l.valid(ctx, collQualityPoint, tbl, qualitySpecs, qualityTitle)

	l.templates = newRefCache(collProductTemplate, "default_code")
	l.testTypes = newRefCache(collTestType, "name")
	l.boms = make(map[int64]int64)

	for _, row := range rows {
		l.point(ctx, row)
	}

	return l.finish(ctx)
}

func qualityTitle(r core.Row) string {
	return core.Truncate(r.Get("qp_id", "name", "title"), maxTitle)
}

func (l *qualityLoader) point(ctx context.Context, row core.Row) {
	title := qualityTitle(row)
	s := subject{collection: collQualityPoint, key: title, line: row.Line}
	if title == "" {
		l.skip(ctx, tagMalformed, s, `missing required field "qp_id"`)
		return
	}

	l.resolving(ctx)
	code := row.Get("product_code", "product_default_code", "default_code")
	product, err := l.templates.lookup(ctx, l.client, code)
	if err != nil {
		l.fail(ctx, s, err)
		return
	}
	if code != "" && product == 0 {
		l.logger(ctx, s).Warn("product not found, point created without product", "product", code)
	}

	wc, err := l.workcenter(ctx, row)
	if err != nil {
		l.fail(ctx, s, err)
		return
	}

	if op := row.Get("operation", "operation_name"); op != "" && product > 0 && wc > 0 {
		if err := l.operation(ctx, row, product, wc, op); err != nil {
			l.fail(ctx, s, err)
			return
		}
	}

	testType, err := l.testType(ctx, row)
	if err != nil {
		l.fail(ctx, s, err)
		return
	}

	values := erp.NewValues().
		Set("title", erp.String(title)).
		Set("test_type_id", erp.ID(testType)).
		Set("note", erp.OptString(row.Get("note", "test_criteria")))
	l.thresholds(ctx, s, row, values)

	create := erp.NewValues().
		Set("name", erp.String(title)).
		Set("product_tmpl_id", erp.ID(product)).
		Set("workcenter_id", erp.ID(wc)).
		Merge(values)

	var lookup erp.Domain
	if product > 0 {
		lookup = erp.Domain{erp.Eq("product_tmpl_id", erp.ID(product)), erp.Eq("workcenter_id", erp.ID(wc))}
	} else {
		lookup = erp.Domain{erp.Eq("workcenter_id", erp.ID(wc)), erp.Eq("title", erp.String(title))}
	}
	l.ensure(ctx, s, lookup, create, values)
}

// workcenter resolves the row's workcenter, creating it with the quality
// defaults when it does not exist. A row naming no workcenter yields 0.
func (l *qualityLoader) workcenter(ctx context.Context, row core.Row) (int64, error) {
	key := row.Get("workcenter", "operation_id", "workcenter_name", "workcenter_code")
	if key == "" {
		return 0, nil
	}
	if l.workcenters == nil {
		company, err := companyID(ctx, l.client)
		if err != nil {
			return 0, err
		}
		l.company = company
		l.workcenters = newWorkcenterIndex(company)
	}

	id, err := l.workcenters.find(ctx, l.client, key)
	if err != nil || id > 0 {
		return id, err
	}

	code := core.Truncate(key, maxWorkcenterCode)
	d := l.env.Defaults.Quality
	create := erp.NewValues().
		Set("name", erp.String(key)).
		Set("code", erp.String(code)).
		Set("company_id", erp.ID(l.company)).
		Set("default_capacity", erp.Decimal(decimal.NewFromFloat(d.WorkcenterCapacity))).
		Set("time_efficiency", erp.Decimal(decimal.NewFromFloat(d.WorkcenterEfficiency)))

	l.enter(ctx, core.PhaseReconciling)
	id, _, err = l.client.EnsureRecord(ctx, collWorkcenter, l.workcenters.domain(code), create, nil)
	if err != nil {
		return 0, err
	}
	l.workcenters.set(code, key, id)
	l.synthesized(ctx, subject{collection: collWorkcenter, key: key, line: row.Line, id: id}, "workcenters_synthesized")
	l.resolving(ctx)
	return id, nil
}

// operation makes sure the product's BOM has a routing operation named op,
// creating it on workcenter wc when missing.
func (l *qualityLoader) operation(ctx context.Context, row core.Row, product, wc int64, op string) error {
	bom, ok := l.boms[product]
	if !ok {
		var err error
		bom, err = findOne(ctx, l.client, collBOM, erp.Domain{erp.Eq("product_tmpl_id", erp.ID(product))})
		if err != nil {
			return err
		}
		l.boms[product] = bom
	}
	if bom == 0 {
		logging.FromContext(ctx).Warn("no bill of materials, operation not linked", "operation", op, "line", row.Line)
		return nil
	}

	lookup := erp.Domain{erp.Eq("bom_id", erp.ID(bom)), erp.Eq("name", erp.String(op))}
	existing, err := findOne(ctx, l.client, collOperation, lookup)
	if err != nil || existing > 0 {
		return err
	}

	create := erp.NewValues().
		Set("name", erp.String(op)).
		Set("bom_id", erp.ID(bom)).
		Set("workcenter_id", erp.ID(wc)).
		Set("time_mode", erp.String("manual")).
		Set("time_cycle_manual", erp.Number(l.env.Defaults.Quality.OperationMinutes))

	l.enter(ctx, core.PhaseReconciling)
	id, err := l.client.Create(ctx, collOperation, create)
	if err != nil {
		return err
	}
	l.synthesized(ctx, subject{collection: collOperation, key: op, line: row.Line, id: id}, "operations_synthesized")
	l.resolving(ctx)
	return nil
}

// testType resolves the named test type, or the configured default when the
// row names none. A type the ERP does not know yet is created.
func (l *qualityLoader) testType(ctx context.Context, row core.Row) (int64, error) {
	name := row.Get("test_type")
	if name == "" {
		name = l.env.Defaults.Quality.TestType
	}
	if name == "" {
		return 0, nil
	}
	id, err := l.testTypes.lookup(ctx, l.client, name)
	if err != nil || id > 0 {
		return id, err
	}

	create := erp.NewValues().
		Set("name", erp.String(name)).
		Set("technical_name", erp.String(technicalName(name)))

	l.enter(ctx, core.PhaseReconciling)
	id, _, err = l.client.EnsureRecord(ctx, collTestType, erp.Domain{erp.Eq("name", erp.String(name))}, create, nil)
	if err != nil {
		return 0, err
	}
	l.testTypes.set(name, id)
	l.synthesized(ctx, subject{collection: collTestType, key: name, line: row.Line, id: id}, "test_types_synthesized")
	l.resolving(ctx)
	return id, nil
}

// technicalName turns "Pass - Fail" into "pass_-_fail".
func technicalName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// thresholds sets the measure limits when they satisfy 0 <= pass < fail.
func (l *qualityLoader) thresholds(ctx context.Context, s subject, row core.Row, values *erp.Values) {
	rawPass, rawFail := row.Get("pass_threshold"), row.Get("fail_threshold")
	if rawPass == "" && rawFail == "" {
		return
	}
	pass, errPass := core.ParseDecimal(rawPass)
	fail, errFail := core.ParseDecimal(rawFail)
	if errPass != nil || errFail != nil || pass.IsNegative() || !pass.LessThan(fail) {
		l.logger(ctx, s).Warn("thresholds dropped", "pass", rawPass, "fail", rawFail)
		return
	}
	values.Set("tolerance_min", erp.Decimal(pass)).Set("tolerance_max", erp.Decimal(fail))
}
