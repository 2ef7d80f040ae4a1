package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults_BuiltIn(t *testing.T) {
	d, err := LoadDefaults("")
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}

	markups := []struct {
		articleType string
		want        string
	}{
		{"Rohstoff", "1.15"},
		{"Kaufartikel", "1.25"},
		{"Baugruppe", "1.35"},
		{"Eigenfertigung", "1.45"},
		{"unbekannt", "1.25"},
	}
	for _, m := range markups {
		if got := d.Markup(m.articleType); !got.Equal(decimal.RequireFromString(m.want)) {
			t.Errorf("Markup(%q) = %s, want %s", m.articleType, got, m.want)
		}
	}

	if got := d.ProductType("Eigenfertigung"); got != "service" {
		t.Errorf("ProductType(Eigenfertigung) = %q", got)
	}
	if got := d.ProductType("anything"); got != "consu" {
		t.Errorf("ProductType(anything) = %q, want consu", got)
	}
	if d.Purchased("Eigenfertigung") {
		t.Error("Eigenfertigung must not be purchased")
	}
	if got := d.UoMName(" STK "); got != "Units" {
		t.Errorf("UoMName(STK) = %q", got)
	}
	if got := d.UoMName("barrel"); got != "" {
		t.Errorf("UoMName(barrel) = %q, want empty", got)
	}
	if len(d.Workcenters) != 9 || d.Workcenters[0].Code != "WC-3D" {
		t.Errorf("workcenters = %+v", d.Workcenters)
	}
	if d.Quality.TestType != "Manual" {
		t.Errorf("quality test type = %q", d.Quality.TestType)
	}
	if len(d.Mail.Servers) != 4 || d.Mail.Servers[2].Type != "imap" {
		t.Errorf("mail servers = %+v", d.Mail.Servers)
	}
	if got := d.Mail.Parameters["mail.catchall.domain"]; got != "${MAIL_CATCHALL_DOMAIN:-drohnen-gmbh.de}" {
		t.Errorf("catchall parameter = %q, want the unresolved reference", got)
	}
	if m := d.Manufacturing; m.Prefix != "MO" || m.Padding != 7 || len(m.PickingTypes) != 2 || m.Tracking["Drohnen"] != "serial" {
		t.Errorf("manufacturing = %+v", m)
	}
}

func TestDefaults_File(t *testing.T) {
	d := MustDefaults()
	if f := d.File("bom"); f.Name != "bom.csv" || f.Delimiter != ";" {
		t.Errorf("File(bom) = %+v", f)
	}
	if f := d.File("extra"); f.Name != "extra.csv" || f.Delimiter != DelimiterAuto {
		t.Errorf("File(extra) = %+v", f)
	}

	var nilDefaults *Defaults
	if f := nilDefaults.File("products"); f.Name != "products.csv" {
		t.Errorf("nil File(products) = %+v", f)
	}
}

func TestLoadDefaults_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	override := `
files:
  products: { name: artikel.csv, delimiter: ";" }
pricing:
  markups:
    rohstoff: "2"
fallback_workcenters: [WC-MONT]
`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := LoadDefaults(path)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if f := d.File("products"); f.Name != "artikel.csv" {
		t.Errorf("File(products) = %+v", f)
	}
	if f := d.File("bom"); f.Name != "bom.csv" {
		t.Errorf("unrelated file entry lost: %+v", f)
	}
	if got := d.Markup("Rohstoff"); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("overridden markup = %s", got)
	}
	if got := d.Markup("Baugruppe"); !got.Equal(decimal.RequireFromString("1.35")) {
		t.Errorf("merged markup = %s", got)
	}
	if strings.Join(d.FallbackWorkcenters, ",") != "WC-MONT" {
		t.Errorf("fallback workcenters = %v, want replaced list", d.FallbackWorkcenters)
	}
}

func TestLoadDefaults_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad markup", "pricing:\n  markups:\n    rohstoff: viel\n", "pricing.markups.rohstoff"},
		{"negative default", "pricing:\n  default_markup: \"-1\"\n", "must be positive"},
		{"workcenter without code", "workcenters:\n  - { name: Presse }\n", "code and name are required"},
		{"unknown mail server type", "mail:\n  servers:\n    - { type: pop3, name: Inbox }\n", "type must be smtp or imap"},
		{"mail server without name", "mail:\n  servers:\n    - { type: SMTP }\n", "mail.servers[0]: name is required"},
		{"bad tracking", "manufacturing:\n  tracking:\n    Drohnen: batch\n", "manufacturing.tracking.Drohnen"},
		{"picking type without code", "manufacturing:\n  picking_types:\n    - { name: Consumption }\n", "name and code are required"},
		{"not yaml", "files: [", "parse defaults"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "d.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadDefaults(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadDefaults(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing override file must fail")
	}
}
