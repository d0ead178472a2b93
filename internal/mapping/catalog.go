package mapping

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/ncp-monitor/internal/ncp"
)

//go:embed default_mapping.yaml
var defaultMapping []byte

// ValueType is the declared type of a mapped field.
type ValueType string

// Supported field value types.
const (
	ValueInteger ValueType = "integer"
	ValueString  ValueType = "string"
	ValueBoolean ValueType = "boolean"
)

// FieldMapping binds one object property to a metric field.
type FieldMapping struct {
	Name       string            `yaml:"name"`
	PropertyID ncp.ElementID     `yaml:"propertyId"`
	Type       ValueType         `yaml:"type"`
	Enum       map[string]string `yaml:"enum,omitempty"`
}

// MappingEntry describes how one category of object is written.
type MappingEntry struct {
	// Table is the measurement name.
	Table string `yaml:"table"`

	// ClassID, when set, is the device-model class whose instances belong to
	// this category. Objects are discovered by it, derived classes included.
	ClassID ncp.ClassID `yaml:"classId,omitempty"`

	Fields []FieldMapping `yaml:"fields"`
}

// Field returns the mapping for a property, if any.
func (e MappingEntry) Field(property ncp.ElementID) (FieldMapping, bool) {
	for _, f := range e.Fields {
		if f.PropertyID == property {
			return f, true
		}
	}
	return FieldMapping{}, false
}

// Catalog maps category names (e.g. "receiver_monitor") to entries.
// It is loaded once and shared read-only.
type Catalog map[string]MappingEntry

// Load reads a catalog from a YAML (or JSON) file. An empty path loads the
// built-in catalog.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Parse(defaultMapping)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in catalog for BCP-008 receiver and sender
// monitors.
func Default() Catalog {
	c, err := Parse(defaultMapping)
	if err != nil {
		panic(fmt.Sprintf("mapping: built-in catalog invalid: %v", err))
	}
	return c
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every entry and collects all problems.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidCatalog)
	}

	var errs []string
	for _, category := range c.Categories() {
		entry := c[category]
		if entry.Table == "" {
			errs = append(errs, fmt.Sprintf("%s: table is required", category))
		}
		if len(entry.Fields) == 0 {
			errs = append(errs, fmt.Sprintf("%s: at least one field is required", category))
		}

		names := make(map[string]bool, len(entry.Fields))
		props := make(map[ncp.ElementID]bool, len(entry.Fields))
		for i, f := range entry.Fields {
			switch {
			case f.Name == "":
				errs = append(errs, fmt.Sprintf("%s.fields[%d]: name is required", category, i))
			case names[f.Name]:
				errs = append(errs, fmt.Sprintf("%s.fields[%d]: duplicate name %q", category, i, f.Name))
			}
			names[f.Name] = true

			if props[f.PropertyID] {
				errs = append(errs, fmt.Sprintf("%s.fields[%d]: property %s mapped twice", category, i, f.PropertyID))
			}
			props[f.PropertyID] = true

			switch f.Type {
			case ValueInteger, ValueString, ValueBoolean:
			default:
				errs = append(errs, fmt.Sprintf("%s.fields[%d]: type %q must be integer, string or boolean", category, i, f.Type))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.New(strings.Join(errs, "; ")))
	}
	return nil
}

// Categories returns the category names in sorted order.
func (c Catalog) Categories() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
