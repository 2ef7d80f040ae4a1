package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
)

const collProductTemplate = "product.template"

// maxProductName bounds product names; longer names are cut.
const maxProductName = 128

var productSpecs = []core.FieldSpec{
	{Name: "default_code", Aliases: []string{"warehouse_id", "code"}, Required: true},
	{Name: "name", Aliases: []string{"artikelbezeichnung"}},
	{Name: "price", Aliases: []string{"standard_price", "gesamtpreis_raw", "cost"}, Type: core.FieldNumeric, Required: true},
	{Name: "article_type", Aliases: []string{"artikelart"}},
	{Name: "uom", Aliases: []string{"einheit", "unit"}},
	{Name: "old_code", Aliases: []string{"alt_code"}},
}

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:   "products",
			Group:  "master data",
			Label:  "Products",
			Order:  10,
			Weight: 3,
		},
		New: func(env core.Env) (core.Loader, error) { return &productsLoader{base: newBase(env, "products")}, nil },
	})
}

// productsLoader reconciles product templates by default_code.
type productsLoader struct {
	base
	uoms     *uomResolver
	category int64
}

func (l *productsLoader) Run(ctx context.Context) (*core.Result, error) {
	tbl, err := l.read(ctx, "products", productSpecs)
	if err != nil {
		return l.abort(ctx, err)
	}
	rows := l.valid(ctx, collProductTemplate, tbl, productSpecs, func(r core.Row) string { return r.Get("default_code", "warehouse_id", "code") })

	l.uoms = newUoMResolver(l.env.Defaults)
	l.category = optionalRef(ctx, l.client, l.env.Defaults.Products.CategoryRef)

	seen := make(map[string]int)
	for _, row := range rows {
		code := row.Field(productSpecs[0])
		if first, dup := seen[code]; dup {
			l.skip(ctx, tagDuplicate, subject{collection: collProductTemplate, key: code, line: row.Line},
				fmt.Sprintf("already listed on line %d", first))
			continue
		}
		seen[code] = row.Line

		l.product(ctx, row, code)
	}

	return l.finish(ctx)
}

func (l *productsLoader) product(ctx context.Context, row core.Row, code string) {
	s := subject{collection: collProductTemplate, key: code, line: row.Line}

	price, err := core.ParsePrice(row.Field(productSpecs[2]))
	if err != nil || price.LessThan(decimal.New(1, -2)) {
		reason := "price below 0.01"
		if err != nil {
			reason = err.Error()
		}
		l.skip(ctx, tagNoPrice, s, reason)
		return
	}

	articleType := row.Field(productSpecs[3])
	if articleType == "" {
		articleType = l.env.Defaults.Products.DefaultArticleType
	}
	name := core.Truncate(row.Field(productSpecs[1]), maxProductName)
	listPrice := price.Mul(l.env.Defaults.Markup(articleType)).Round(2)

	l.resolving(ctx)
	uom, err := l.uoms.resolve(ctx, l.client, row.Field(productSpecs[4]))
	if err != nil {
		l.fail(ctx, s, err)
		return
	}

	update := erp.NewValues().
		Set("name", erp.OptString(name)).
		Set("standard_price", erp.Decimal(price)).
		Set("list_price", erp.Decimal(listPrice))

	if oldCode := row.Field(productSpecs[5]); oldCode != "" && oldCode != code {
		renamed, err := l.rename(ctx, s, oldCode, update.Clone().
			Set("default_code", erp.String(code)).
			Set("type", erp.String(l.env.Defaults.ProductType(articleType))))
		if err != nil || renamed {
			return
		}
	}

	if name == "" {
		name = "Product " + code
	}
	create := erp.NewValues().
		Set("name", erp.String(name)).
		Set("default_code", erp.String(code)).
		Set("type", erp.String(l.env.Defaults.ProductType(articleType))).
		Set("standard_price", erp.Decimal(price)).
		Set("list_price", erp.Decimal(listPrice)).
		Set("uom_id", erp.ID(uom)).
		Set("uom_po_id", erp.ID(uom)).
		Set("categ_id", erp.ID(l.category)).
		Set("sale_ok", erp.Bool(true)).
		Set("purchase_ok", erp.Bool(l.env.Defaults.Purchased(articleType)))

	l.ensure(ctx, s, erp.Domain{erp.Eq("default_code", erp.String(code))}, create, update)
}

// rename moves a record still carrying its legacy code to the new code.
// It reports false when the new code already exists or the legacy code is
// unknown, leaving the row to the regular reconciliation.
func (l *productsLoader) rename(ctx context.Context, s subject, oldCode string, values *erp.Values) (bool, error) {
	current, err := findOne(ctx, l.client, collProductTemplate, erp.Domain{erp.Eq("default_code", erp.String(s.key))})
	if err != nil {
		l.fail(ctx, s, err)
		return false, err
	}
	if current > 0 {
		return false, nil
	}

	legacy, err := findOne(ctx, l.client, collProductTemplate, erp.Domain{erp.Eq("default_code", erp.String(oldCode))})
	if err != nil {
		l.fail(ctx, s, err)
		return false, err
	}
	if legacy == 0 {
		return false, nil
	}

	l.enter(ctx, core.PhaseReconciling)
	if _, err := l.client.Write(ctx, collProductTemplate, []int64{legacy}, values); err != nil {
		l.fail(ctx, s, err)
		return false, err
	}
	s.id = legacy
	l.res.Add("renamed", 1)
	l.updated(ctx, s)
	l.logger(ctx, s).Info("renamed legacy code", "old_code", strings.TrimSpace(oldCode), "id", legacy)
	return true, nil
}
