// Package kpi extracts read-only key figures from the ERP after a
// provisioning run: manufacturing throughput, quality check outcomes,
// inventory levels and order-to-delivery lead time.
//
// Every section is extracted on its own. A section that cannot be read is
// logged and reported as unavailable; it never fails the report.
package kpi

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/logging"
)

// DateTimeLayout is how the ERP encodes datetimes, always in UTC.
const DateTimeLayout = "2006-01-02 15:04:05"

// Section names, also used as keys of Report.Unavailable.
const (
	SectionManufacturing = "manufacturing"
	SectionQuality       = "quality"
	SectionInventory     = "inventory"
	SectionLeadTime      = "lead_time"
)

// maxOrders bounds how many recent sales orders feed the lead time figures.
const maxOrders = 50

// Manufacturing summarizes finished production orders.
type Manufacturing struct {
	Orders          int     `json:"orders"`
	Quantity        float64 `json:"quantity"`
	AvgLeadHours    float64 `json:"avgLeadHours"`
	MinLeadHours    float64 `json:"minLeadHours"`
	MaxLeadHours    float64 `json:"maxLeadHours"`
	MedianLeadHours float64 `json:"medianLeadHours"`
}

// Quality counts quality checks by state.
type Quality struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Pending  int     `json:"pending"`
	PassRate float64 `json:"passRate"`
	FailRate float64 `json:"failRate"`
}

// Inventory summarizes on-hand quantities of product variants.
type Inventory struct {
	Products  int     `json:"products"`
	InStock   int     `json:"inStock"`
	ZeroStock int     `json:"zeroStock"`
	Quantity  float64 `json:"quantity"`
	AvgStock  float64 `json:"avgStock"`
}

// LeadTime measures confirmed sales orders against their delivery.
type LeadTime struct {
	Orders  int     `json:"orders"`
	AvgDays float64 `json:"avgDays"`
	MinDays float64 `json:"minDays"`
	MaxDays float64 `json:"maxDays"`
}

// Report is one extraction. A nil section is listed in Unavailable.
type Report struct {
	GeneratedAt   time.Time         `json:"generatedAt"`
	PeriodStart   time.Time         `json:"periodStart"`
	PeriodEnd     time.Time         `json:"periodEnd"`
	Manufacturing *Manufacturing    `json:"manufacturing"`
	Quality       *Quality          `json:"quality"`
	Inventory     *Inventory        `json:"inventory"`
	LeadTime      *LeadTime         `json:"leadTime"`
	Unavailable   map[string]string `json:"unavailable,omitempty"`
}

// Extractor reads KPIs through an ERP client.
type Extractor struct {
	client *erp.Client
	window time.Duration
	now    func() time.Time
}

// NewExtractor returns an extractor looking back window from now. A
// non-positive window means 30 days.
func NewExtractor(client *erp.Client, window time.Duration) *Extractor {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Extractor{client: client, window: window, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock, for reproducible reports.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract builds a report. It returns an error only when ctx is done; a
// section that fails for any other reason is reported as unavailable.
func (e *Extractor) Extract(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	end := e.now().UTC()
	r := &Report{GeneratedAt: end, PeriodStart: end.Add(-e.window), PeriodEnd: end}

	sections := []struct {
		name string
		run  func(context.Context, *Report) error
	}{
		{SectionManufacturing, e.manufacturing},
		{SectionQuality, e.quality},
		{SectionInventory, e.inventory},
		{SectionLeadTime, e.leadTime},
	}
	for _, s := range sections {
		if err := s.run(ctx, r); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn("kpi section unavailable", "section", s.name, "error", err)
			if r.Unavailable == nil {
				r.Unavailable = make(map[string]string)
			}
			r.Unavailable[s.name] = err.Error()
		}
	}

	log.Info("kpi report extracted", "unavailable", len(r.Unavailable))
	return r, nil
}

func (e *Extractor) manufacturing(ctx context.Context, r *Report) error {
	recs, err := e.client.SearchRead(ctx, "mrp.production", erp.Domain{
		erp.Eq("state", erp.String("done")),
		erp.Where("date_finished", ">=", erp.String(r.PeriodStart.Format(DateTimeLayout))),
		erp.Where("date_finished", "<=", erp.String(r.PeriodEnd.Format(DateTimeLayout))),
	}, []string{"product_qty", "create_date", "date_finished"}, erp.NoLimit())
	if err != nil {
		return err
	}

	m := &Manufacturing{}
	var hours []float64
	for _, rec := range recs {
		m.Orders++
		m.Quantity += rec.Float("product_qty")
		created, ok1 := parseTime(rec.String("create_date"))
		finished, ok2 := parseTime(rec.String("date_finished"))
		if !ok1 || !ok2 || finished.Before(created) {
			logging.FromContext(ctx).Debug("production order without usable dates", "id", rec.ID())
			continue
		}
		hours = append(hours, finished.Sub(created).Hours())
	}
	if len(hours) > 0 {
		m.AvgLeadHours, m.MinLeadHours, m.MaxLeadHours = stats(hours)
		m.MedianLeadHours = median(hours)
	}
	r.Manufacturing = m
	return nil
}

func (e *Extractor) quality(ctx context.Context, r *Report) error {
	q := &Quality{}
	counts := map[string]*int{"pass": &q.Passed, "fail": &q.Failed, "none": &q.Pending}
	for _, state := range []string{"pass", "fail", "none"} {
		n, err := e.client.SearchCount(ctx, "quality.check", erp.Domain{erp.Eq("quality_state", erp.String(state))})
		if err != nil {
			return err
		}
		*counts[state] = n
	}
	q.Total = q.Passed + q.Failed + q.Pending
	if q.Total > 0 {
		q.PassRate = percent(q.Passed, q.Total)
		q.FailRate = percent(q.Failed, q.Total)
	}
	r.Quality = q
	return nil
}

func (e *Extractor) inventory(ctx context.Context, r *Report) error {
	recs, err := e.client.SearchRead(ctx, "product.product", nil, []string{"qty_available"}, erp.NoLimit())
	if err != nil {
		return err
	}
	inv := &Inventory{Products: len(recs)}
	for _, rec := range recs {
		qty := rec.Float("qty_available")
		if qty > 0 {
			inv.InStock++
			inv.Quantity += qty
		} else {
			inv.ZeroStock++
		}
	}
	if inv.Products > 0 {
		inv.AvgStock = inv.Quantity / float64(inv.Products)
	}
	r.Inventory = inv
	return nil
}

func (e *Extractor) leadTime(ctx context.Context, r *Report) error {
	orders, err := e.client.SearchRead(ctx, "sale.order",
		erp.Domain{erp.In("state", erp.Strings("sale", "done"))},
		[]string{"name", "create_date"},
		erp.Limit(maxOrders), erp.Order("create_date desc"))
	if err != nil {
		return err
	}

	lt := &LeadTime{}
	r.LeadTime = lt
	if len(orders) == 0 {
		return nil
	}

	names := make([]string, 0, len(orders))
	for _, o := range orders {
		names = append(names, o.String("name"))
	}
	pickings, err := e.client.SearchRead(ctx, "stock.picking", erp.Domain{
		erp.In("origin", erp.Strings(names...)),
		erp.Eq("picking_type_code", erp.String("outgoing")),
		erp.Eq("state", erp.String("done")),
	}, []string{"origin", "date_done"}, erp.NoLimit())
	if err != nil {
		r.LeadTime = nil
		return err
	}

	// The last delivery completes an order.
	delivered := make(map[string]time.Time)
	for _, p := range pickings {
		done, ok := parseTime(p.String("date_done"))
		if !ok {
			continue
		}
		origin := p.String("origin")
		if done.After(delivered[origin]) {
			delivered[origin] = done
		}
	}

	var days []float64
	for _, o := range orders {
		created, ok := parseTime(o.String("create_date"))
		done, hit := delivered[o.String("name")]
		if !ok || !hit || done.Before(created) {
			continue
		}
		days = append(days, done.Sub(created).Hours()/24)
	}
	lt.Orders = len(days)
	if len(days) > 0 {
		lt.AvgDays, lt.MinDays, lt.MaxDays = stats(days)
	}
	return nil
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{DateTimeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func stats(vs []float64) (avg, lo, hi float64) {
	lo, hi = vs[0], vs[0]
	sum := 0.0
	for _, v := range vs {
		sum += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return sum / float64(len(vs)), lo, hi
}

func median(vs []float64) float64 {
	s := append([]float64(nil), vs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func percent(n, total int) float64 {
	return float64(n) * 100 / float64(total)
}
