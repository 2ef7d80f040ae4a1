// Package core provides the loader infrastructure shared by every
// provisioning step.
//
// It holds no ERP semantics of its own; the loaders in internal/loader
// combine it with the gateway in internal/erp.
//
// # Architecture
//
//   - Step registry: each loader registers a [StepDefinition] at init time
//     with its name, dependencies and a [Factory] building the [Loader].
//   - Data files: [ReadCSV] decodes (UTF-8 with or without BOM, Latin-1,
//     Windows-1252), sniffs the delimiter and returns rows that carry their
//     line number in the source file.
//   - Validation: [FieldSpec] and [ValidateRow] reject malformed rows before
//     any remote call; the loader skips them with the reason.
//   - Conversion: [ParsePrice], [ParseQuantity], [ParseBool] and [ParseInt]
//     accept the German and English spellings found in exported sheets.
//   - State: [Tracker] enforces the per-loader phase machine and [Result]
//     carries the counters reported in the run summary.
//   - Defaults: [LoadDefaults] reads the embedded defaults.yaml and an
//     optional override file.
//
// # Step Registry
//
//	core.Register(core.StepDefinition{
//	    Info: core.StepInfo{Name: "bom", Group: "manufacturing", DependsOn: []string{"products"}},
//	    New:  newBOMLoader,
//	})
//
// # Error Handling
//
// Technical errors are mapped to operator messages with [MapError]. Each
// category has a code for support reference:
//
//   - AUTH001: rejected login
//   - RPC001-RPC005: remote call failures and ambiguous lookups
//   - NET001-NET005: network failures
//   - CSV001-CSV005: data file problems
//   - CFG001-CFG002: configuration and missing structural records
package core
