package domain

import (
	"errors"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"csv", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{" geojson ", FormatGeoJSON, false},
		{"GPKG", FormatGPKG, false},
		{"shp", FormatSHP, false},
		{"xml", FormatXML, false},
		{"json", FormatJSON, false},
		{"parquet", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFormatSpatial(t *testing.T) {
	spatial := map[Format]bool{
		FormatCSV:     false,
		FormatJSON:    false,
		FormatXML:     false,
		FormatGeoJSON: true,
		FormatGPKG:    true,
		FormatSHP:     true,
	}

	for f, want := range spatial {
		if got := f.Spatial(); got != want {
			t.Errorf("%s.Spatial() = %v, want %v", f, got, want)
		}
	}
}

func TestFormatExtension(t *testing.T) {
	if got := FormatSHP.Extension(); got != "zip" {
		t.Errorf("shapefile extension = %q, want zip", got)
	}
	if got := FormatCSV.Extension(); got != "csv" {
		t.Errorf("csv extension = %q, want csv", got)
	}
	if got := FormatGPKG.Extension(); got != "gpkg" {
		t.Errorf("gpkg extension = %q, want gpkg", got)
	}
}
