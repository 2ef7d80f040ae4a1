package core

// validation.go checks rows before any remote call is made.
//
// Validation happens at two levels:
//  1. Header validation: a file without a required column is unusable and
//     fails the loader.
//  2. Row validation: a row with a missing or malformed value is skipped
//     with a warning; it never fails the loader.

import (
	"fmt"
	"strings"
)

// ValidationError describes one problem with a row.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s for %q: %q", e.Message, e.Field, e.Value)
	}
	return fmt.Sprintf("%s %q", e.Message, e.Field)
}

// ValidateHeaders returns an error listing required columns absent from idx.
func ValidateHeaders(idx HeaderIndex, specs []FieldSpec) error {
	var missing []string
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		if _, ok := idx.Lookup(spec.Names()...); !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required column(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateRow returns the first problem with row, or nil.
func ValidateRow(row Row, specs []FieldSpec) error {
	for _, spec := range specs {
		raw := row.Field(spec)
		if raw == "" {
			if spec.Required {
				return ValidationError{Field: spec.Name, Message: "missing required field"}
			}
			continue
		}
		if err := ValidateCell(raw, spec); err != nil {
			return ValidationError{Field: spec.Name, Value: raw, Message: err.Error()}
		}
	}
	return nil
}

// ValidateCell checks a non-empty value against spec's type.
func ValidateCell(value string, spec FieldSpec) error {
	switch spec.Type {
	case FieldNumeric:
		if _, err := ParseDecimal(value); err != nil {
			return fmt.Errorf("invalid number")
		}
	case FieldInt:
		if _, err := ParseInt(value, 0); err != nil {
			return fmt.Errorf("invalid integer")
		}
	case FieldBool:
		if _, err := ParseBool(value, false); err != nil {
			return fmt.Errorf("invalid boolean")
		}
	case FieldEnum:
		for _, ev := range spec.EnumValues {
			if strings.EqualFold(ev, value) {
				return nil
			}
		}
		if len(spec.EnumValues) > 0 {
			return fmt.Errorf("invalid value, must be one of %s", strings.Join(spec.EnumValues, ", "))
		}
	}
	return nil
}
