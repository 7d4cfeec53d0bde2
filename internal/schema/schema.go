// Package schema defines the canonical branch-record layout: the closed
// field set, per-field cleaning rules, and the alias table that maps raw
// spreadsheet headers onto canonical fields.
//
// The layout is configuration, not code. A Schema is parsed from YAML
// (or taken from the embedded default) and injected into the pipeline,
// so the reconciliation core never hard-codes a field name.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Field is a canonical output column name.
type Field string

// Canonical fields declared by the default schema.
const (
	FieldBankName   Field = "bank_name"
	FieldBranchName Field = "branch_name"
	FieldIFSCCode   Field = "ifsc_code"
	FieldAddress    Field = "address"
	FieldCity1      Field = "city1"
	FieldCity2      Field = "city2"
	FieldState      Field = "state"
	FieldSTDCode    Field = "std_code"
	FieldPhone      Field = "phone"
)

// Policy selects the cleaning rule applied to a field's raw value.
type Policy string

const (
	PolicyFreeText   Policy = "free_text"   // trim whitespace, then truncate
	PolicyDigitsOnly Policy = "digits_only" // strip non-digits, then truncate
)

// Header normalization variants. Source files use either convention, so
// the variant is part of the schema document rather than fixed in code.
const (
	NormalizationCompact    = "compact"    // lowercase, strip everything but letters and digits
	NormalizationUnderscore = "underscore" // lowercase, whitespace to "_", strip non [a-z0-9_]
)

// FieldDef describes one canonical field: its cleaning rule, the
// priority-ordered raw-header aliases that resolve to it, and what to do
// when no source column matches.
type FieldDef struct {
	Name    Field    `yaml:"name"`
	Limit   int      `yaml:"limit"`             // maximum stored length in characters
	Policy  Policy   `yaml:"policy,omitempty"`  // defaults to free_text
	Aliases []string `yaml:"aliases,omitempty"` // first alias present in a header wins

	// Fallbacks, applied in order when the value is absent: other fields'
	// already-cleaned values, then the source label, then a literal.
	FallbackFields  []Field `yaml:"fallback_fields,omitempty"`
	LabelFallback   bool    `yaml:"label_fallback,omitempty"`
	FallbackLiteral string  `yaml:"fallback_literal,omitempty"`

	// Mandatory fields gate persistence: records where the field is still
	// empty after fallbacks are filtered (counted, never silent).
	Mandatory bool `yaml:"mandatory,omitempty"`
}

// Schema is the full canonical layout for one target table.
// Fields order is both the normalizer's processing order and the
// record layout produced by it.
type Schema struct {
	Table         string     `yaml:"table"`
	Normalization string     `yaml:"normalization,omitempty"`
	Identity      []Field    `yaml:"identity"` // composite conflict key
	Fields        []FieldDef `yaml:"fields"`
}

//go:embed default.yaml
var defaultYAML []byte

// Default returns the built-in schema. Each call parses a fresh copy so
// callers can mutate their instance freely.
func Default() *Schema {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic("schema: embedded default is invalid: " + err.Error())
	}
	return s
}

// Parse decodes and validates a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if s.Normalization == "" {
		s.Normalization = NormalizationCompact
	}
	for i := range s.Fields {
		if s.Fields[i].Policy == "" {
			s.Fields[i].Policy = PolicyFreeText
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a schema document from disk.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Validate checks the schema for internal consistency and returns all
// problems at once.
func (s *Schema) Validate() error {
	var errs []string

	if s.Table == "" {
		errs = append(errs, "table is required")
	}
	if s.Normalization != NormalizationCompact && s.Normalization != NormalizationUnderscore {
		errs = append(errs, fmt.Sprintf("normalization (%q) must be %q or %q",
			s.Normalization, NormalizationCompact, NormalizationUnderscore))
	}
	if len(s.Fields) == 0 {
		errs = append(errs, "at least one field is required")
	}

	seen := make(map[Field]bool, len(s.Fields))
	for _, fd := range s.Fields {
		if fd.Name == "" {
			errs = append(errs, "field with empty name")
			continue
		}
		if seen[fd.Name] {
			errs = append(errs, fmt.Sprintf("duplicate field %q", fd.Name))
		}
		seen[fd.Name] = true

		if fd.Limit <= 0 {
			errs = append(errs, fmt.Sprintf("field %q: limit must be positive", fd.Name))
		}
		if fd.Policy != PolicyFreeText && fd.Policy != PolicyDigitsOnly {
			errs = append(errs, fmt.Sprintf("field %q: policy (%q) must be %q or %q",
				fd.Name, fd.Policy, PolicyFreeText, PolicyDigitsOnly))
		}
		for _, fb := range fd.FallbackFields {
			if fb == fd.Name {
				errs = append(errs, fmt.Sprintf("field %q: fallback references itself", fd.Name))
			}
		}
	}

	// Cross-references are only meaningful once names are known.
	for _, fd := range s.Fields {
		for _, fb := range fd.FallbackFields {
			if fb != fd.Name && !seen[fb] {
				errs = append(errs, fmt.Sprintf("field %q: fallback references unknown field %q", fd.Name, fb))
			}
		}
	}

	if len(s.Identity) == 0 {
		errs = append(errs, "identity key is required")
	}
	for _, f := range s.Identity {
		if !seen[f] {
			errs = append(errs, fmt.Sprintf("identity references unknown field %q", f))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid schema:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Def returns the definition for a field.
func (s *Schema) Def(f Field) (FieldDef, bool) {
	for _, fd := range s.Fields {
		if fd.Name == f {
			return fd, true
		}
	}
	return FieldDef{}, false
}

// IndexOf returns a field's position in the record layout.
func (s *Schema) IndexOf(f Field) (int, bool) {
	for i, fd := range s.Fields {
		if fd.Name == f {
			return i, true
		}
	}
	return -1, false
}

// FieldNames returns every field name in declaration order.
func (s *Schema) FieldNames() []Field {
	names := make([]Field, len(s.Fields))
	for i, fd := range s.Fields {
		names[i] = fd.Name
	}
	return names
}

// IsIdentity reports whether a field is part of the composite key.
func (s *Schema) IsIdentity(f Field) bool {
	for _, id := range s.Identity {
		if id == f {
			return true
		}
	}
	return false
}

// NonIdentity returns the fields outside the composite key, in
// declaration order. These are the columns an upsert overwrites.
func (s *Schema) NonIdentity() []Field {
	var out []Field
	for _, fd := range s.Fields {
		if !s.IsIdentity(fd.Name) {
			out = append(out, fd.Name)
		}
	}
	return out
}

// MandatoryFields returns the fields that gate persistence.
func (s *Schema) MandatoryFields() []Field {
	var out []Field
	for _, fd := range s.Fields {
		if fd.Mandatory {
			out = append(out, fd.Name)
		}
	}
	return out
}
