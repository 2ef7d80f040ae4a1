package loader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocations_ConfiguredTopology(t *testing.T) {
	h := newHarness(t)
	h.store.Seed("stock.warehouse", map[string]any{"code": "WH", "name": "Main"})
	fifo := h.store.Seed("product.removal", map[string]any{"name": "FIFO"})
	h.store.SeedRef("stock.removal_fifo", "product.removal", fifo)

	res, err := h.run("locations")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Created)
	assert.Equal(t, 1, h.logged("no location file, using configured topology"))

	root := h.one("stock.location", "complete_name", "WH")
	assert.Equal(t, "view", root.String("usage"))
	assert.Zero(t, root.Ref("location_id"))

	flow := h.one("stock.location", "name", "FlowRack")
	assert.Equal(t, root.ID(), flow.Ref("location_id"))
	assert.Equal(t, "internal", flow.String("usage"))
	assert.Equal(t, fifo, flow.Ref("removal_strategy_id"))

	for _, lane := range []string{"FIFO-Lane-1", "FIFO-Lane-2"} {
		assert.Equal(t, flow.ID(), h.one("stock.location", "name", lane).Ref("location_id"))
	}
	assert.Equal(t, root.ID(), h.one("stock.location", "name", "Kanban").Ref("location_id"))

	res, err = h.run("locations")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	// The warehouse root is only looked up, never rewritten.
	assert.Equal(t, 4, res.Updated)
	assert.Equal(t, 1, res.Count("unchanged"))
	assert.Len(t, h.store.Records("stock.location"), 5)
}

func TestLocations_KanbanOrderpoints(t *testing.T) {
	h := newHarness(t)
	wh := h.store.Seed("stock.warehouse", map[string]any{"code": "WH", "name": "Main"})
	k1 := h.store.Seed("product.product", map[string]any{"default_code": "K1"})

	h.file("locations.csv", "path;kanban_products;orderpoint_min;orderpoint_max\n"+
		"WH/Kanban/Shelf-A;K1,KX;3;12\n"+
		"WH/Kanban/Shelf-B;K1;5;2\n"+
		"WH/Kanban/Shelf-C;K1;;\n")

	res, err := h.run("locations")
	require.NoError(t, err)
	assert.Equal(t, 8, res.Created)
	assert.Equal(t, 2, res.Count("orderpoints_created"))
	assert.Equal(t, 2, res.Count("orderpoints_skipped"))

	shelfA := h.one("stock.location", "name", "Shelf-A")
	kanban := h.one("stock.location", "name", "Kanban")
	assert.Equal(t, kanban.ID(), shelfA.Ref("location_id"))

	points := h.store.Find("stock.warehouse.orderpoint", "location_id", shelfA.ID())
	require.Len(t, points, 1)
	op := points[0]
	assert.Equal(t, k1, op.Ref("product_id"))
	assert.Equal(t, wh, op.Ref("warehouse_id"))
	assert.Equal(t, 3.0, op.Float("product_min_qty"))
	assert.Equal(t, 12.0, op.Float("product_max_qty"))
	assert.Equal(t, "auto", op.String("trigger"))
	assert.Equal(t, "KANBAN/WH/Kanban/Shelf-A/K1", op.String("name"))

	// Empty limits fall back to the configured 2 and 10.
	shelfC := h.one("stock.location", "name", "Shelf-C")
	points = h.store.Find("stock.warehouse.orderpoint", "location_id", shelfC.ID())
	require.Len(t, points, 1)
	assert.Equal(t, 2.0, points[0].Float("product_min_qty"))
	assert.Equal(t, 10.0, points[0].Float("product_max_qty"))

	h.file("locations.csv", "path;kanban_products;orderpoint_min;orderpoint_max\n"+
		"WH/Kanban/Shelf-A;K1;4;12\n")
	res, err = h.run("locations")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count("orderpoints_updated"))
	assert.Zero(t, res.Count("orderpoints_created"))
	points = h.store.Find("stock.warehouse.orderpoint", "location_id", shelfA.ID())
	require.Len(t, points, 1)
	assert.Equal(t, 4.0, points[0].Float("product_min_qty"))
}
