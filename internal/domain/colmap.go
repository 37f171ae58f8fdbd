package domain

import "strconv"

// Shapefile attribute names are limited to 10 characters by the DBF format.
const (
	shapefileNameLimit  = 10
	shapefilePrefixSize = 7
)

// ColumnMap maps original field names to output-safe names for one
// (dataset, format) pair. The mapping is injective and iteration follows
// field declaration order.
type ColumnMap struct {
	order  []string
	byName map[string]string
}

// Get returns the output name for an original field name.
func (m *ColumnMap) Get(name string) string {
	if out, ok := m.byName[name]; ok {
		return out
	}
	return name
}

// Names returns the original field names in declaration order.
func (m *ColumnMap) Names() []string {
	return m.order
}

// OutputNames returns the mapped names in declaration order.
func (m *ColumnMap) OutputNames() []string {
	out := make([]string, len(m.order))
	for i, name := range m.order {
		out[i] = m.byName[name]
	}
	return out
}

// Identity reports whether the map leaves every name unchanged.
func (m *ColumnMap) Identity() bool {
	for _, name := range m.order {
		if m.byName[name] != name {
			return false
		}
	}
	return true
}

// PlanColumns computes the column name map for a schema and output format.
// All formats except the shapefile get the identity mapping. For shapefiles,
// if any field name exceeds 10 characters, every non-geometry field is
// renamed to its first 7 characters plus a running integer suffix assigned
// in declaration order, so the mapping is deterministic and collision-free.
func PlanColumns(schema Schema, format Format) (*ColumnMap, error) {
	m := identityMap(schema)

	if format != FormatSHP || !anyNameTooLong(schema) {
		return m, nil
	}

	suffix := 1
	for _, f := range schema {
		if f.IsGeometry() {
			continue
		}
		m.byName[f.Name] = truncateName(f.Name, suffix)
		suffix++
	}

	seen := make(map[string]string, len(m.order))
	for _, name := range m.order {
		out := m.byName[name]
		if prev, dup := seen[out]; dup {
			return nil, &SchemaError{
				Field:   name,
				Message: "truncated column name collides with " + prev,
			}
		}
		seen[out] = name
	}
	return m, nil
}

func identityMap(schema Schema) *ColumnMap {
	m := &ColumnMap{
		order:  schema.Names(),
		byName: make(map[string]string, len(schema)),
	}
	for _, name := range m.order {
		m.byName[name] = name
	}
	return m
}

func anyNameTooLong(schema Schema) bool {
	for _, f := range schema {
		if len(f.Name) > shapefileNameLimit {
			return true
		}
	}
	return false
}

func truncateName(name string, suffix int) string {
	tag := strconv.Itoa(suffix)
	prefix := name
	if len(prefix) > shapefilePrefixSize {
		prefix = prefix[:shapefilePrefixSize]
	}
	// With hundreds of columns the suffix can push past the DBF limit;
	// shorten the prefix to keep the total within 10 characters.
	if len(prefix)+len(tag) > shapefileNameLimit {
		prefix = prefix[:shapefileNameLimit-len(tag)]
	}
	return prefix + tag
}
