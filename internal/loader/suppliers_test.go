package loader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuppliers_ContactCleanup(t *testing.T) {
	h := newHarness(t)
	de := h.store.Seed("res.country", map[string]any{"code": "DE", "name": "Germany"})
	h.file("suppliers.csv", "name,email,phone,country\n"+
		"Acme GmbH,Sales@Acme.de,+49 (30) 123-456,de\n"+
		"acme gmbh,other@acme.de,,\n"+
		"Beta AG,not-an-email,12,Germany\n"+
		"Gamma KG,,call me,Atlantis\n")

	res, err := h.run("suppliers")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "skipped: duplicate", res.Skips[0].Reason)

	acme := h.one("res.partner", "name", "Acme GmbH")
	assert.Equal(t, "sales@acme.de", acme.String("email"))
	assert.Equal(t, "+49 (30) 123-456", acme.String("phone"))
	assert.Equal(t, de, acme.Ref("country_id"))
	assert.True(t, acme.Bool("is_company"))
	assert.Equal(t, int64(1), acme.Int("supplier_rank"))

	beta := h.one("res.partner", "name", "Beta AG")
	assert.Empty(t, beta.String("email"))
	assert.Empty(t, beta.String("phone"))
	assert.Equal(t, de, beta.Ref("country_id"))

	gamma := h.one("res.partner", "name", "Gamma KG")
	assert.Zero(t, gamma.Ref("country_id"))
	assert.Empty(t, gamma.String("phone"))

	assert.Equal(t, 1, h.logged("invalid email dropped"))
	assert.Equal(t, 2, h.logged("invalid phone dropped"))
	assert.Equal(t, 1, h.logged("country not found"))
}

func TestSuppliers_Rerun(t *testing.T) {
	h := newHarness(t)
	h.file("suppliers.csv", "lieferant;ort\nAcme GmbH;Berlin\n")

	res, err := h.run("suppliers")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	h.file("suppliers.csv", "lieferant;ort\nAcme GmbH;Hamburg\n")
	res, err = h.run("suppliers")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)

	require.Len(t, h.store.Records("res.partner"), 1)
	assert.Equal(t, "Hamburg", h.one("res.partner", "name", "Acme GmbH").String("city"))
}

func TestSupplierInfo_Links(t *testing.T) {
	h := newHarness(t)
	product := h.store.Seed("product.template", map[string]any{"default_code": "A1", "name": "Widget"})
	acme := h.store.Seed("res.partner", map[string]any{"name": "Acme", "supplier_rank": 1})
	h.store.Seed("res.partner", map[string]any{"name": "Customer"})
	eur := h.store.Seed("res.currency", map[string]any{"name": "EUR"})

	h.file("supplierinfo.csv", "product_code,supplier_name,price,min_qty,lead_time\n"+
		"A1,Acme,4.50,,7\n"+
		"A1,Customer,3,,\n"+
		"ZZ,Acme,3,,\n"+
		"A1,Acme,0,,\n")

	res, err := h.run("supplierinfo")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 3, res.Skipped)

	reasons := map[int]string{}
	for _, s := range res.Skips {
		reasons[s.Line] = s.Reason
	}
	assert.Equal(t, map[int]string{
		3: "skipped: no supplier",
		4: "skipped: no product",
		5: "skipped: no price",
	}, reasons)

	info := h.one("product.supplierinfo", "partner_id", acme)
	assert.Equal(t, product, info.Ref("product_tmpl_id"))
	assert.Equal(t, 4.5, info.Float("price"))
	assert.Equal(t, 1.0, info.Float("min_qty"))
	assert.Equal(t, int64(7), info.Int("delay"))
	assert.Equal(t, int64(10), info.Int("sequence"))
	assert.Equal(t, eur, info.Ref("currency_id"))

	res, err = h.run("supplierinfo")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Len(t, h.store.Records("product.supplierinfo"), 1)
}

func TestSupplierInfo_CurrencyFallback(t *testing.T) {
	h := newHarness(t)
	h.store.Seed("product.template", map[string]any{"default_code": "A1"})
	h.store.Seed("res.partner", map[string]any{"name": "Acme", "supplier_rank": 1})
	usd := h.store.Seed("res.currency", map[string]any{"name": "USD"})

	h.file("supplierinfo.csv", "default_code,partner,price,currency\nA1,Acme,2,chf\n")

	res, err := h.run("supplierinfo")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, usd, h.store.Records("product.supplierinfo")[0].Ref("currency_id"))
	assert.Equal(t, 1, h.logged("currency not found, using first currency"))
}
