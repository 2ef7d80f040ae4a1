package core

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var embeddedDefaults []byte

// FileDefaults names a loader's data file and how it is delimited.
type FileDefaults struct {
	Name      string `yaml:"name"`
	Delimiter string `yaml:"delimiter"`
}

// ProductDefaults configures how article rows become product templates.
type ProductDefaults struct {
	CategoryRef        string            `yaml:"category_ref"`
	DefaultArticleType string            `yaml:"default_article_type"`
	Types              map[string]string `yaml:"types"`
	NotPurchased       []string          `yaml:"not_purchased"`
}

// PricingDefaults holds the currency and the list price markups. Amounts are
// kept as text in YAML and parsed once by Validate.
type PricingDefaults struct {
	Currency      string            `yaml:"currency"`
	DefaultMarkup string            `yaml:"default_markup"`
	Markups       map[string]string `yaml:"markups"`

	defaultMarkup decimal.Decimal
	markups       map[string]decimal.Decimal
}

// UoMDefaults maps CSV unit spellings to ERP unit names.
type UoMDefaults struct {
	DefaultRef string            `yaml:"default_ref"`
	Mapping    map[string]string `yaml:"mapping"`
}

// SupplierInfoDefaults fills purchase conditions a row leaves empty.
type SupplierInfoDefaults struct {
	MinQty   string `yaml:"min_qty"`
	Delay    int    `yaml:"delay"`
	Sequence int    `yaml:"sequence"`
}

// WorkcenterDefaults describes one workcenter created when no CSV lists them.
type WorkcenterDefaults struct {
	Code       string  `yaml:"code"`
	Name       string  `yaml:"name"`
	Capacity   float64 `yaml:"capacity"`
	Efficiency float64 `yaml:"efficiency"`
}

type RoutingDefaults struct {
	OperationMinutes float64 `yaml:"operation_minutes"`
}

// QualityDefaults applies to quality points and to the workcenters and
// operations synthesized for them.
type QualityDefaults struct {
	TestType             string  `yaml:"test_type"`
	OperationMinutes     float64 `yaml:"operation_minutes"`
	WorkcenterCapacity   float64 `yaml:"workcenter_capacity"`
	WorkcenterEfficiency float64 `yaml:"workcenter_efficiency"`
}

// LocationDefaults is the warehouse topology created before locations.csv.
type LocationDefaults struct {
	Warehouse          string   `yaml:"warehouse"`
	RemovalStrategyRef string   `yaml:"removal_strategy_ref"`
	Paths              []string `yaml:"paths"`
	OrderpointMin      string   `yaml:"orderpoint_min"`
	OrderpointMax      string   `yaml:"orderpoint_max"`
}

// MailServerDefaults is one outgoing (smtp) or incoming (imap) mail server.
// Text fields may reference environment variables.
type MailServerDefaults struct {
	Type       string `yaml:"type"`
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Encryption string `yaml:"encryption"`
	SSL        *bool  `yaml:"ssl"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	From       string `yaml:"from"`
	Sequence   int    `yaml:"sequence"`
	Priority   int    `yaml:"priority"`
	Active     *bool  `yaml:"active"`
}

type MailDefaults struct {
	Servers    []MailServerDefaults `yaml:"servers"`
	Parameters map[string]string    `yaml:"parameters"`
}

// PickingTypeDefaults is an operation type numbered by the order sequence.
type PickingTypeDefaults struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// ManufacturingDefaults configures the production order sequence, the
// operation types using it and product tracking per category.
type ManufacturingDefaults struct {
	SequenceCode string                `yaml:"sequence_code"`
	Prefix       string                `yaml:"mo_prefix"`
	Padding      int                   `yaml:"mo_padding"`
	PickingTypes []PickingTypeDefaults `yaml:"picking_types"`
	Tracking     map[string]string     `yaml:"tracking"`
}

// Defaults is the provisioning data that is not read from CSV files.
type Defaults struct {
	Files               map[string]FileDefaults `yaml:"files"`
	Products            ProductDefaults         `yaml:"products"`
	Pricing             PricingDefaults         `yaml:"pricing"`
	UoM                 UoMDefaults             `yaml:"uom"`
	SupplierInfo        SupplierInfoDefaults    `yaml:"supplierinfo"`
	Workcenters         []WorkcenterDefaults    `yaml:"workcenters"`
	FallbackWorkcenters []string                `yaml:"fallback_workcenters"`
	FinishedProducts    []string                `yaml:"finished_products"`
	Routing             RoutingDefaults         `yaml:"routing"`
	Quality             QualityDefaults         `yaml:"quality"`
	Locations           LocationDefaults        `yaml:"locations"`
	Mail                MailDefaults            `yaml:"mail"`
	Manufacturing       ManufacturingDefaults   `yaml:"manufacturing"`
}

// LoadDefaults returns the built-in defaults, overlaid with the YAML file at
// path when path is not empty. Maps in the override are merged key by key;
// lists and scalars replace the built-in value.
func LoadDefaults(path string) (*Defaults, error) {
	d := &Defaults{}
	if err := yaml.Unmarshal(embeddedDefaults, d); err != nil {
		return nil, fmt.Errorf("built-in defaults: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read defaults: %w", err)
		}
		if err := yaml.Unmarshal(raw, d); err != nil {
			return nil, fmt.Errorf("parse defaults %s: %w", path, err)
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// MustDefaults returns the built-in defaults and panics if they are invalid.
func MustDefaults() *Defaults {
	d, err := LoadDefaults("")
	if err != nil {
		panic(err)
	}
	return d
}

// Validate checks amounts and normalizes map keys to lower case.
func (d *Defaults) Validate() error {
	var errs []error

	d.Products.Types = lowerKeys(d.Products.Types)
	d.UoM.Mapping = lowerKeys(d.UoM.Mapping)

	def, err := parseMarkup(d.Pricing.DefaultMarkup)
	if err != nil {
		errs = append(errs, fmt.Errorf("pricing.default_markup: %w", err))
	}
	d.Pricing.defaultMarkup = def

	d.Pricing.markups = make(map[string]decimal.Decimal, len(d.Pricing.Markups))
	for k, v := range d.Pricing.Markups {
		m, err := parseMarkup(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("pricing.markups.%s: %w", k, err))
			continue
		}
		d.Pricing.markups[strings.ToLower(k)] = m
	}

	for _, field := range []struct{ name, value string }{
		{"supplierinfo.min_qty", d.SupplierInfo.MinQty},
		{"locations.orderpoint_min", d.Locations.OrderpointMin},
		{"locations.orderpoint_max", d.Locations.OrderpointMax},
	} {
		if field.value == "" {
			continue
		}
		if _, err := decimal.NewFromString(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid number %q", field.name, field.value))
		}
	}

	for i, wc := range d.Workcenters {
		if wc.Code == "" || wc.Name == "" {
			errs = append(errs, fmt.Errorf("workcenters[%d]: code and name are required", i))
		}
	}

	for i := range d.Mail.Servers {
		srv := &d.Mail.Servers[i]
		srv.Type = strings.ToLower(strings.TrimSpace(srv.Type))
		if srv.Type != "smtp" && srv.Type != "imap" {
			errs = append(errs, fmt.Errorf("mail.servers[%d]: type must be smtp or imap, got %q", i, srv.Type))
		}
		if strings.TrimSpace(srv.Name) == "" {
			errs = append(errs, fmt.Errorf("mail.servers[%d]: name is required", i))
		}
	}

	if d.Manufacturing.Padding < 0 {
		errs = append(errs, fmt.Errorf("manufacturing.mo_padding: must not be negative, got %d", d.Manufacturing.Padding))
	}
	for i, pt := range d.Manufacturing.PickingTypes {
		if pt.Name == "" || pt.Code == "" {
			errs = append(errs, fmt.Errorf("manufacturing.picking_types[%d]: name and code are required", i))
		}
	}
	for category, tracking := range d.Manufacturing.Tracking {
		switch tracking {
		case "serial", "lot", "none":
		default:
			errs = append(errs, fmt.Errorf("manufacturing.tracking.%s: must be serial, lot or none, got %q", category, tracking))
		}
	}

	return errors.Join(errs...)
}

func parseMarkup(s string) (decimal.Decimal, error) {
	m, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", s)
	}
	if !m.IsPositive() {
		return decimal.Zero, fmt.Errorf("markup must be positive, got %s", s)
	}
	return m, nil
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// File returns the data file settings for a loader. Unknown keys map to
// "<key>.csv" with a sniffed delimiter.
func (d *Defaults) File(key string) FileDefaults {
	if d != nil {
		if f, ok := d.Files[key]; ok && f.Name != "" {
			if f.Delimiter == "" {
				f.Delimiter = DelimiterAuto
			}
			return f
		}
	}
	return FileDefaults{Name: key + ".csv", Delimiter: DelimiterAuto}
}

// Markup returns the list price factor for an article type.
func (d *Defaults) Markup(articleType string) decimal.Decimal {
	if m, ok := d.Pricing.markups[strings.ToLower(strings.TrimSpace(articleType))]; ok {
		return m
	}
	return d.Pricing.defaultMarkup
}

// ProductType maps an article type to the ERP product type. Unknown article
// types become consumables.
func (d *Defaults) ProductType(articleType string) string {
	if t, ok := d.Products.Types[strings.ToLower(strings.TrimSpace(articleType))]; ok {
		return t
	}
	return "consu"
}

// Purchased reports whether products of an article type are bought.
func (d *Defaults) Purchased(articleType string) bool {
	for _, t := range d.Products.NotPurchased {
		if strings.EqualFold(t, strings.TrimSpace(articleType)) {
			return false
		}
	}
	return true
}

// UoMName maps a CSV unit to the ERP unit name. It returns "" for units
// that are not in the mapping.
func (d *Defaults) UoMName(unit string) string {
	return d.UoM.Mapping[strings.ToLower(strings.TrimSpace(unit))]
}

// DecimalOr parses one of the textual amounts; an empty or invalid value
// yields def.
func DecimalOr(s string, def decimal.Decimal) decimal.Decimal {
	if v, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
		return v
	}
	return def
}
