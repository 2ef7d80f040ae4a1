package loader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/provision/internal/audit"
	"github.com/JonMunkholm/provision/internal/core"
)

func TestRouting_NoCompany(t *testing.T) {
	h := newHarness(t)
	h.file("operations.csv", "name,workcenter\nPrint,WC-3D\n")

	_, err := h.run("routing")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNoCompany)
	assert.Equal(t, 0, h.store.CallCount("mrp.workcenter", ""))
	assert.Equal(t, 1, h.audit.actions(audit.ActionAborted))
	assert.Equal(t, "CFG002", core.MapError(err).Code)
}

func TestRouting_DefaultWorkcentersAndFallback(t *testing.T) {
	h := newHarness(t)
	company := h.store.Seed("res.company", map[string]any{"name": "Factory"})
	tmpl := h.store.Seed("product.template", map[string]any{"default_code": "EVO 029.3.000"})
	bom := h.store.Seed("mrp.bom", map[string]any{"product_tmpl_id": tmpl})

	h.file("operations.csv", "name,workcenter,time_cycle_manual\n"+
		"Print,WC-3D,30\n"+
		"Assemble,WC-UNKNOWN,\n")

	res, err := h.run("routing")
	require.NoError(t, err)
	assert.Equal(t, 9, res.Count("workcenters_created"))
	assert.Equal(t, 2, res.Created)
	// The two other finished products have no BOM.
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, 4, h.logged("skipped: no bom"))
	assert.Equal(t, 1, h.logged("unknown workcenter, using fallback"))

	wc3d := h.one("mrp.workcenter", "code", "WC-3D")
	assert.Equal(t, company, wc3d.Ref("company_id"))
	assert.Equal(t, 10.0, wc3d.Float("default_capacity"))
	assert.Equal(t, 95.0, wc3d.Float("time_efficiency"))
	qm := h.one("mrp.workcenter", "code", "WC-QM-END")

	printOp := h.one("mrp.routing.workcenter", "name", "Print")
	assert.Equal(t, bom, printOp.Ref("bom_id"))
	assert.Equal(t, wc3d.ID(), printOp.Ref("workcenter_id"))
	assert.Equal(t, 30.0, printOp.Float("time_cycle_manual"))
	assert.Equal(t, "manual", printOp.String("time_mode"))

	assemble := h.one("mrp.routing.workcenter", "name", "Assemble")
	assert.Equal(t, qm.ID(), assemble.Ref("workcenter_id"))
	assert.Equal(t, 10.0, assemble.Float("time_cycle_manual"))

	res, err = h.run("routing")
	require.NoError(t, err)
	assert.Equal(t, 9, res.Count("workcenters_updated"))
	assert.Equal(t, 0, res.Count("workcenters_created"))
	assert.Equal(t, 2, res.Updated)
	assert.Len(t, h.store.Records("mrp.workcenter"), 9)
	assert.Len(t, h.store.Records("mrp.routing.workcenter"), 2)
}

func TestRouting_WorkcenterFileAndProductRows(t *testing.T) {
	h := newHarness(t)
	h.store.Seed("res.company", map[string]any{"name": "Factory"})
	tmpl := h.store.Seed("product.template", map[string]any{"default_code": "P"})
	h.store.Seed("mrp.bom", map[string]any{"product_tmpl_id": tmpl})

	h.file("workcenters.csv", "code,name,capacity\nWC-A,Assembly,3\n")
	h.file("operations.csv", "name,workcenter_name,product_code\n"+
		"Screw,Assembly,P\n"+
		"Paint,Nowhere,P\n")

	res, err := h.run("routing")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count("workcenters_created"))
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "skipped: no workcenter", res.Skips[0].Reason)
	assert.Equal(t, "operations.csv", res.Skips[0].File)

	screw := h.one("mrp.routing.workcenter", "name", "Screw")
	assert.Equal(t, h.one("mrp.workcenter", "code", "WC-A").ID(), screw.Ref("workcenter_id"))
}
