package loader

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
)

const collPartner = "res.partner"

var supplierSpecs = []core.FieldSpec{
	{Name: "name", Aliases: []string{"supplier_name", "lieferant", "supplier"}, Required: true},
	{Name: "email", Aliases: []string{"e-mail", "mail"}},
	{Name: "phone", Aliases: []string{"telefon", "tel"}},
	{Name: "street", Aliases: []string{"strasse", "straße"}},
	{Name: "zip", Aliases: []string{"plz"}},
	{Name: "city", Aliases: []string{"ort", "stadt"}},
	{Name: "country", Aliases: []string{"country_code", "land"}},
	{Name: "website", Aliases: []string{"web"}},
	{Name: "vat", Aliases: []string{"ust_id", "ustid"}},
}

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:  "suppliers",
			Group: "master data",
			Label: "Suppliers",
			Order: 20,
		},
		New: func(env core.Env) (core.Loader, error) { return &suppliersLoader{base: newBase(env, "suppliers")}, nil },
	})
}

// suppliersLoader reconciles supplier companies by name.
type suppliersLoader struct {
	base
	countries map[string]int64
}

func (l *suppliersLoader) Run(ctx context.Context) (*core.Result, error) {
	tbl, err := l.read(ctx, "suppliers", supplierSpecs)
	if err != nil {
		return l.abort(ctx, err)
	}
	rows := l.valid(ctx, collPartner, tbl, supplierSpecs, func(r core.Row) string { return r.Field(supplierSpecs[0]) })
	l.countries = make(map[string]int64)

	seen := make(map[string]int)
	for _, row := range rows {
		name := row.Field(supplierSpecs[0])
		s := subject{collection: collPartner, key: name, line: row.Line}

		folded := strings.ToLower(name)
		if first, dup := seen[folded]; dup {
			l.skip(ctx, tagDuplicate, s, fmt.Sprintf("already listed on line %d", first))
			continue
		}
		seen[folded] = row.Line

		l.resolving(ctx)
		country, err := l.country(ctx, row.Get("country", "country_code", "land"))
		if err != nil {
			l.fail(ctx, s, err)
			continue
		}

		contact := erp.NewValues().
			Set("email", erp.OptString(l.email(ctx, s, row.Get("email", "e-mail", "mail")))).
			Set("phone", erp.OptString(l.phone(ctx, s, row.Get("phone", "telefon", "tel")))).
			Set("street", erp.OptString(row.Get("street", "strasse", "straße"))).
			Set("zip", erp.OptString(row.Get("zip", "plz"))).
			Set("city", erp.OptString(row.Get("city", "ort", "stadt"))).
			Set("country_id", erp.ID(country)).
			Set("website", erp.OptString(row.Get("website", "web"))).
			Set("vat", erp.OptString(row.Get("vat", "ust_id", "ustid"))).
			Set("supplier_rank", erp.Int(1))

		create := erp.NewValues().
			Set("name", erp.String(name)).
			Set("is_company", erp.Bool(true)).
			Merge(contact)

		l.ensure(ctx, s, erp.Domain{erp.Eq("name", erp.String(name))}, create, contact)
	}

	return l.finish(ctx)
}

// country resolves an ISO code or a country name. Results, misses included,
// are cached for the run.
func (l *suppliersLoader) country(ctx context.Context, value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	key := strings.ToLower(value)
	if id, ok := l.countries[key]; ok {
		return id, nil
	}

	var dom erp.Domain
	if len(value) == 2 {
		dom = erp.Domain{erp.Eq("code", erp.String(strings.ToUpper(value)))}
	} else {
		dom = erp.Domain{erp.Where("name", "ilike", erp.String(value))}
	}
	id, err := findOne(ctx, l.client, "res.country", dom)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		l.logger(ctx, subject{collection: "res.country", key: value}).Warn("country not found")
	}
	l.countries[key] = id
	return id, nil
}

// email returns the address in canonical form, or "" when it is invalid.
func (l *suppliersLoader) email(ctx context.Context, s subject, raw string) string {
	if raw == "" {
		return ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || !strings.Contains(addr.Address, ".") {
		l.logger(ctx, s).Warn("invalid email dropped", "email", raw)
		return ""
	}
	return strings.ToLower(addr.Address)
}

// phone keeps numbers with at least six digits made only of digits, spaces
// and + / ( ) - characters.
func (l *suppliersLoader) phone(ctx context.Context, s subject, raw string) string {
	if raw == "" {
		return ""
	}
	digits := 0
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune(" +/()-.", r):
		default:
			digits = -1
		}
		if digits < 0 {
			break
		}
	}
	if digits < 6 {
		l.logger(ctx, s).Warn("invalid phone dropped", "phone", raw)
		return ""
	}
	return raw
}
