// Package domain contains the core business entities and value objects.
package domain

import "strings"

// FieldType is the declared type of a datastore field.
type FieldType string

// Supported field types. Source-declared types are normalized into this set.
const (
	FieldText      FieldType = "text"
	FieldInt       FieldType = "int"
	FieldFloat     FieldType = "float"
	FieldBool      FieldType = "bool"
	FieldTimestamp FieldType = "timestamp"
	FieldGeometry  FieldType = "geometry"
)

// Field describes one column of a datastore resource.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// IsGeometry returns true for the geometry column.
func (f Field) IsGeometry() bool {
	return f.Type == FieldGeometry || f.Name == GeometryFieldName
}

// GeometryFieldName is the conventional name of the geometry column.
const GeometryFieldName = "geometry"

// NormalizeFieldType maps a source-declared type (e.g. "float4", "int8",
// "numeric") onto the internal FieldType set. Width digits are stripped
// first, so "float4" and "float8" both normalize to float. Unrecognized
// types fall back to text.
func NormalizeFieldType(declared string) FieldType {
	stripped := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, strings.ToLower(declared))

	switch stripped {
	case "int", "integer", "bigint", "smallint":
		return FieldInt
	case "float", "numeric", "double", "double precision", "real":
		return FieldFloat
	case "bool", "boolean":
		return FieldBool
	case "timestamp", "timestamptz", "date", "time":
		return FieldTimestamp
	case "geometry":
		return FieldGeometry
	default:
		return FieldText
	}
}

// Row holds one record's values, ordered to match the resource's Field slice.
type Row []any

// Schema is the ordered field list of a resource.
type Schema []Field

// GeometryIndex returns the position of the geometry field, or -1.
func (s Schema) GeometryIndex() int {
	for i, f := range s {
		if f.IsGeometry() {
			return i
		}
	}
	return -1
}

// IsSpatial returns true if the schema carries a geometry field.
func (s Schema) IsSpatial() bool {
	return s.GeometryIndex() >= 0
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}
