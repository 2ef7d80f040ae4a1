package loader

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
)

const collSupplierInfo = "product.supplierinfo"

var supplierInfoSpecs = []core.FieldSpec{
	{Name: "product_code", Aliases: []string{"default_code"}, Required: true},
	{Name: "supplier_name", Aliases: []string{"supplier", "partner"}, Required: true},
	{Name: "price", Type: core.FieldNumeric, Required: true},
	{Name: "min_qty", Type: core.FieldNumeric},
	{Name: "delay", Aliases: []string{"lead_time"}, Type: core.FieldInt},
	{Name: "sequence", Type: core.FieldInt},
	{Name: "currency"},
	{Name: "vendor_code", Aliases: []string{"supplier_product_code"}},
}

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:      "supplierinfo",
			Group:     "master data",
			Label:     "Supplier prices",
			Order:     30,
			DependsOn: []string{"products", "suppliers"},
		},
		New: func(env core.Env) (core.Loader, error) {
			return &supplierInfoLoader{base: newBase(env, "supplierinfo")}, nil
		},
	})
}

// supplierInfoLoader links products to suppliers with purchase conditions.
type supplierInfoLoader struct {
	base
}

func (l *supplierInfoLoader) Run(ctx context.Context) (*core.Result, error) {
	tbl, err := l.read(ctx, "supplierinfo", supplierInfoSpecs)
	if err != nil {
		return l.abort(ctx, err)
	}
	rows := l.valid(ctx, collSupplierInfo, tbl, supplierInfoSpecs, supplierInfoKey)

	products := newRefCache(collProductTemplate, "default_code")
	suppliers := newRefCache(collPartner, "name", erp.Where("supplier_rank", ">", erp.Int(0)))
	currencies := newRefCache("res.currency", "name")
	cond := l.env.Defaults.SupplierInfo
	defMinQty := core.DecimalOr(cond.MinQty, decimal.NewFromInt(1))

	for _, row := range rows {
		s := subject{collection: collSupplierInfo, key: supplierInfoKey(row), line: row.Line}

		price, err := core.ParsePrice(row.Get("price"))
		if err != nil || !price.IsPositive() {
			reason := "price must be positive"
			if err != nil {
				reason = err.Error()
			}
			l.skip(ctx, tagNoPrice, s, reason)
			continue
		}
		minQty, err := core.ParseQuantity(row.Get("min_qty"), defMinQty)
		if err != nil {
			l.skip(ctx, tagMalformed, s, err.Error())
			continue
		}
		delay, _ := core.ParseInt(row.Get("delay", "lead_time"), cond.Delay)
		sequence, _ := core.ParseInt(row.Get("sequence"), cond.Sequence)

		l.resolving(ctx)
		code := row.Get("product_code", "default_code")
		product, err := products.lookup(ctx, l.client, code)
		if err != nil {
			l.fail(ctx, s, err)
			continue
		}
		if product == 0 {
			l.skip(ctx, tagNoProduct, s, fmt.Sprintf("product %q not found", code))
			continue
		}

		name := row.Get("supplier_name", "supplier", "partner")
		supplier, err := suppliers.lookup(ctx, l.client, name)
		if err != nil {
			l.fail(ctx, s, err)
			continue
		}
		if supplier == 0 {
			l.skip(ctx, tagNoSupplier, s, fmt.Sprintf("supplier %q not found", name))
			continue
		}

		currencyCode := row.Get("currency")
		if currencyCode == "" {
			currencyCode = l.env.Defaults.Pricing.Currency
		}
		currency, err := currencyID(ctx, l.client, currencies, currencyCode)
		if err != nil {
			l.fail(ctx, s, err)
			continue
		}

		terms := erp.NewValues().
			Set("price", erp.Decimal(price)).
			Set("min_qty", erp.Decimal(minQty)).
			Set("delay", erp.Int(int64(delay))).
			Set("sequence", erp.Int(int64(sequence))).
			Set("currency_id", erp.ID(currency)).
			Set("product_code", erp.OptString(row.Get("vendor_code", "supplier_product_code")))

		create := erp.NewValues().
			Set("product_tmpl_id", erp.ID(product)).
			Set("partner_id", erp.ID(supplier)).
			Merge(terms)

		lookup := erp.Domain{
			erp.Eq("product_tmpl_id", erp.ID(product)),
			erp.Eq("partner_id", erp.ID(supplier)),
		}
		l.ensure(ctx, s, lookup, create, terms)
	}

	return l.finish(ctx)
}

func supplierInfoKey(r core.Row) string {
	return r.Get("product_code", "default_code") + "/" + r.Get("supplier_name", "supplier", "partner")
}
