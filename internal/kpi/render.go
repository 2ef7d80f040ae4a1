package kpi

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

const reportTimeLayout = "2006-01-02 15:04"

// Render writes the report as plain text.
func (r *Report) Render(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "KPI report %s UTC (period %s to %s)\n",
		r.GeneratedAt.Format(reportTimeLayout),
		r.PeriodStart.Format(reportTimeLayout),
		r.PeriodEnd.Format(reportTimeLayout))

	for _, s := range r.sections() {
		fmt.Fprintf(bw, "\n%s\n", s.title)
		if reason, ok := r.Unavailable[s.name]; ok {
			fmt.Fprintf(bw, "  %-20s %s\n", "unavailable", reason)
			continue
		}
		for _, row := range s.rows {
			fmt.Fprintf(bw, "  %-20s %s\n", row.label, row.value)
		}
	}
	return bw.Flush()
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteCSV writes one row per figure: section, metric, value.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"section", "metric", "value"}); err != nil {
		return err
	}
	for _, s := range r.sections() {
		if _, ok := r.Unavailable[s.name]; ok {
			continue
		}
		for _, row := range s.rows {
			if err := cw.Write([]string{s.name, row.label, row.value}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

type figure struct {
	label string
	value string
}

type section struct {
	name  string
	title string
	rows  []figure
}

func (r *Report) sections() []section {
	out := []section{
		{name: SectionManufacturing, title: "Manufacturing"},
		{name: SectionQuality, title: "Quality"},
		{name: SectionInventory, title: "Inventory"},
		{name: SectionLeadTime, title: "Lead time"},
	}
	if m := r.Manufacturing; m != nil {
		out[0].rows = []figure{
			{"orders done", strconv.Itoa(m.Orders)},
			{"quantity", num(m.Quantity)},
			{"lead hours avg", num(m.AvgLeadHours)},
			{"lead hours min", num(m.MinLeadHours)},
			{"lead hours max", num(m.MaxLeadHours)},
			{"lead hours median", num(m.MedianLeadHours)},
		}
	}
	if q := r.Quality; q != nil {
		out[1].rows = []figure{
			{"checks", strconv.Itoa(q.Total)},
			{"passed", strconv.Itoa(q.Passed)},
			{"failed", strconv.Itoa(q.Failed)},
			{"pending", strconv.Itoa(q.Pending)},
			{"pass rate %", pct(q.PassRate)},
			{"fail rate %", pct(q.FailRate)},
		}
	}
	if inv := r.Inventory; inv != nil {
		out[2].rows = []figure{
			{"products", strconv.Itoa(inv.Products)},
			{"in stock", strconv.Itoa(inv.InStock)},
			{"zero stock", strconv.Itoa(inv.ZeroStock)},
			{"quantity", num(inv.Quantity)},
			{"avg per product", num(inv.AvgStock)},
		}
	}
	if lt := r.LeadTime; lt != nil {
		out[3].rows = []figure{
			{"orders delivered", strconv.Itoa(lt.Orders)},
			{"days avg", num(lt.AvgDays)},
			{"days min", num(lt.MinDays)},
			{"days max", num(lt.MaxDays)},
		}
	}
	return out
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }
func pct(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) }
