package loader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/provision/internal/audit"
	"github.com/JonMunkholm/provision/internal/core"
)

func TestProducts_CreateThenUpdate(t *testing.T) {
	h := newHarness(t)

	h.file("products.csv", "default_code,name,price\nA1,Widget,10.00\n")
	res, err := h.run("products")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)

	h.file("products.csv", "default_code,name,price\nA1,Widget-Updated,12.00\n")
	res, err = h.run("products")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)

	require.Len(t, h.store.Records("product.template"), 1)
	rec := h.one("product.template", "default_code", "A1")
	assert.Equal(t, "Widget-Updated", rec.String("name"))
	assert.Equal(t, 12.0, rec.Float("standard_price"))
	assert.Equal(t, 15.0, rec.Float("list_price"))
}

func TestProducts_ArticleTypes(t *testing.T) {
	h := newHarness(t)
	h.file("products.csv", "default_code;name;price;artikelart\n"+
		"R1;Filament;10;Rohstoff\n"+
		"E1;Assembly;10;Eigenfertigung\n"+
		"K1;Screw;10;\n")

	res, err := h.run("products")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)

	raw := h.one("product.template", "default_code", "R1")
	assert.Equal(t, "consu", raw.String("type"))
	assert.Equal(t, 11.5, raw.Float("list_price"))
	assert.True(t, raw.Bool("purchase_ok"))

	made := h.one("product.template", "default_code", "E1")
	assert.Equal(t, "service", made.String("type"))
	assert.Equal(t, 14.5, made.Float("list_price"))
	assert.False(t, made.Bool("purchase_ok"))

	// No article type means the default, Kaufartikel.
	bought := h.one("product.template", "default_code", "K1")
	assert.Equal(t, 12.5, bought.Float("list_price"))
	assert.True(t, bought.Bool("sale_ok"))
}

func TestProducts_SkippedRows(t *testing.T) {
	h := newHarness(t)
	h.file("products.csv", "default_code,name,price\n"+
		"A1,Widget,10\n"+
		"A1,Widget again,11\n"+
		"A2,Free,0\n"+
		"A3,Broken,abc\n"+
		",Nameless,5\n")

	res, err := h.run("products")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 4, res.Skipped)

	reasons := map[string]string{}
	for _, s := range res.Skips {
		reasons[s.Key] = s.Reason
		assert.Equal(t, "products.csv", s.File)
	}
	assert.Equal(t, "skipped: no price", reasons["A2"])
	assert.Equal(t, "skipped: malformed row", reasons["A3"])
	assert.Equal(t, "skipped: malformed row", reasons[""])

	assert.Equal(t, 1, h.logged("skipped: duplicate"))
	assert.Equal(t, 2, h.logged("skipped: malformed row"))
	assert.Equal(t, 4, h.audit.actions(audit.ActionSkipped))
	assert.Equal(t, 1, h.audit.actions(audit.ActionCreated))

	// The first occurrence wins.
	assert.Equal(t, 10.0, h.one("product.template", "default_code", "A1").Float("standard_price"))
}

func TestProducts_RenameLegacyCode(t *testing.T) {
	h := newHarness(t)
	legacy := h.store.Seed("product.template", map[string]any{"default_code": "OLD-1", "name": "Old name"})
	h.file("products.csv", "default_code,name,price,alt_code\nNEW-1,New name,8,OLD-1\n")

	res, err := h.run("products")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Count("renamed"))

	rec := h.one("product.template", "default_code", "NEW-1")
	assert.Equal(t, legacy, rec.ID())
	assert.Equal(t, "New name", rec.String("name"))
	assert.Empty(t, h.store.Find("product.template", "default_code", "OLD-1"))

	// Once renamed, the legacy code is ignored.
	res, err = h.run("products")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Count("renamed"))
	assert.Len(t, h.store.Records("product.template"), 1)
}

func TestProducts_UnitsAndCategory(t *testing.T) {
	h := newHarness(t)
	unit := h.store.Seed("uom.uom", map[string]any{"name": "Units"})
	kg := h.store.Seed("uom.uom", map[string]any{"name": "kg"})
	h.store.SeedRef("uom.product_uom_unit", "uom.uom", unit)
	categ := h.store.Seed("product.category", map[string]any{"name": "All"})
	h.store.SeedRef("product.product_category_all", "product.category", categ)

	h.file("products.csv", "default_code,name,price,einheit\n"+
		"P1,Pellets,3,KG\n"+
		"P2,Bolt,1,Stk\n"+
		"P3,Mystery,1,furlong\n")

	res, err := h.run("products")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)

	assert.Equal(t, kg, h.one("product.template", "default_code", "P1").Ref("uom_id"))
	assert.Equal(t, unit, h.one("product.template", "default_code", "P2").Ref("uom_id"))
	p3 := h.one("product.template", "default_code", "P3")
	assert.Equal(t, unit, p3.Ref("uom_id"))
	assert.Equal(t, unit, p3.Ref("uom_po_id"))
	assert.Equal(t, categ, p3.Ref("categ_id"))
}

func TestProducts_MissingFile(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("products")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMissingFile)
	assert.Equal(t, 1, h.audit.actions(audit.ActionAborted))
	assert.Equal(t, 0, h.store.CallCount("product.template", ""))
}

func TestProducts_MissingRequiredColumn(t *testing.T) {
	h := newHarness(t)
	h.file("products.csv", "default_code,name\nA1,Widget\n")

	_, err := h.run("products")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "products.csv: missing required column(s): price")
	assert.Equal(t, 0, h.store.CallCount("product.template", "create"))
}
