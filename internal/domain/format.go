package domain

import (
	"fmt"
	"strings"
)

// Format is a closed enumeration over the supported output encodings.
type Format string

// Supported output formats.
const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatXML     Format = "xml"
	FormatGeoJSON Format = "geojson"
	FormatGPKG    Format = "gpkg"
	FormatSHP     Format = "shp"
)

// Formats lists all supported formats in a stable order.
var Formats = []Format{FormatCSV, FormatJSON, FormatXML, FormatGeoJSON, FormatGPKG, FormatSHP}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", &ValidationError{
		Field:      "target_formats",
		Value:      s,
		Constraint: formatList(),
		Message:    "unsupported output format",
	}
}

// Spatial returns true for the vector formats that carry geometry.
func (f Format) Spatial() bool {
	switch f {
	case FormatGeoJSON, FormatGPKG, FormatSHP:
		return true
	}
	return false
}

// Extension returns the file extension of the written output. Shapefiles
// are packaged into a zip archive together with their lookup document.
func (f Format) Extension() string {
	if f == FormatSHP {
		return "zip"
	}
	return string(f)
}

func formatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return fmt.Sprintf("one of [%s]", strings.Join(names, ", "))
}
