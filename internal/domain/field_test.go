package domain

import "testing"

func TestNormalizeFieldType(t *testing.T) {
	tests := []struct {
		declared string
		want     FieldType
	}{
		{"int", FieldInt},
		{"int4", FieldInt},
		{"int8", FieldInt},
		{"INTEGER", FieldInt},
		{"bigint", FieldInt},
		{"smallint", FieldInt},
		{"float4", FieldFloat},
		{"float8", FieldFloat},
		{"numeric", FieldFloat},
		{"double precision", FieldFloat},
		{"real", FieldFloat},
		{"bool", FieldBool},
		{"boolean", FieldBool},
		{"timestamp", FieldTimestamp},
		{"timestamptz", FieldTimestamp},
		{"date", FieldTimestamp},
		{"geometry", FieldGeometry},
		{"text", FieldText},
		{"varchar", FieldText},
		{"something else", FieldText},
	}

	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			if got := NormalizeFieldType(tt.declared); got != tt.want {
				t.Errorf("NormalizeFieldType(%q) = %s, want %s", tt.declared, got, tt.want)
			}
		})
	}
}

func TestSchemaGeometryIndex(t *testing.T) {
	spatial := Schema{
		{Name: "id", Type: FieldInt},
		{Name: "geometry", Type: FieldGeometry},
	}
	if idx := spatial.GeometryIndex(); idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}
	if !spatial.IsSpatial() {
		t.Error("expected spatial schema")
	}

	tabular := Schema{
		{Name: "id", Type: FieldInt},
		{Name: "name", Type: FieldText},
	}
	if idx := tabular.GeometryIndex(); idx != -1 {
		t.Errorf("expected index -1, got %d", idx)
	}
	if tabular.IsSpatial() {
		t.Error("expected non-spatial schema")
	}
}

func TestFieldIsGeometryByName(t *testing.T) {
	// A column named "geometry" counts even when declared as text.
	f := Field{Name: "geometry", Type: FieldText}
	if !f.IsGeometry() {
		t.Error("expected geometry by conventional name")
	}
}
