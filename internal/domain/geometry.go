package domain

import (
	"encoding/json"
	"fmt"
)

// GeometryType identifies one of the six accepted geometry types.
type GeometryType string

// Accepted geometry types. Anything else in a geometry field is a
// validation error.
const (
	GeomPoint           GeometryType = "Point"
	GeomLineString      GeometryType = "LineString"
	GeomPolygon         GeometryType = "Polygon"
	GeomMultiPoint      GeometryType = "MultiPoint"
	GeomMultiLineString GeometryType = "MultiLineString"
	GeomMultiPolygon    GeometryType = "MultiPolygon"
)

// IsMulti returns true for the multi-part geometry types.
func (t GeometryType) IsMulti() bool {
	switch t {
	case GeomMultiPoint, GeomMultiLineString, GeomMultiPolygon:
		return true
	}
	return false
}

// MultiOf returns the multi-part equivalent of a geometry type.
func (t GeometryType) MultiOf() (GeometryType, bool) {
	switch t {
	case GeomPoint, GeomMultiPoint:
		return GeomMultiPoint, true
	case GeomLineString, GeomMultiLineString:
		return GeomMultiLineString, true
	case GeomPolygon, GeomMultiPolygon:
		return GeomMultiPolygon, true
	}
	return "", false
}

// Position is a single coordinate pair (X/longitude, Y/latitude).
type Position [2]float64

// Geometry is a tagged union over the accepted geometry types.
// Coordinates holds exactly one of Position, []Position, [][]Position or
// [][][]Position, matching the nesting depth of Type.
type Geometry struct {
	Type        GeometryType
	Coordinates any
}

// Common SRID constants.
const (
	SRIDWGS84       = 4326 // WGS 84
	SRIDWebMercator = 3857 // Web Mercator
	SRIDMTM10       = 2952 // NAD83(CSRS) / MTM zone 10
)

type geometryJSON struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// UnmarshalJSON decodes a GeoJSON geometry object, rejecting unknown types.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var raw geometryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return &ValidationError{
			Field:      GeometryFieldName,
			Value:      string(data),
			Constraint: "valid GeoJSON geometry",
			Message:    err.Error(),
		}
	}

	var err error
	switch raw.Type {
	case GeomPoint:
		var c Position
		err = json.Unmarshal(raw.Coordinates, &c)
		g.Coordinates = c
	case GeomLineString, GeomMultiPoint:
		var c []Position
		err = json.Unmarshal(raw.Coordinates, &c)
		g.Coordinates = c
	case GeomPolygon, GeomMultiLineString:
		var c [][]Position
		err = json.Unmarshal(raw.Coordinates, &c)
		g.Coordinates = c
	case GeomMultiPolygon:
		var c [][][]Position
		err = json.Unmarshal(raw.Coordinates, &c)
		g.Coordinates = c
	default:
		return &UnsupportedGeometryError{Type: string(raw.Type)}
	}
	if err != nil {
		return &ValidationError{
			Field:      GeometryFieldName,
			Value:      string(raw.Coordinates),
			Constraint: fmt.Sprintf("coordinate nesting for %s", raw.Type),
			Message:    err.Error(),
		}
	}

	g.Type = raw.Type
	return nil
}

// MarshalJSON encodes the geometry as a GeoJSON geometry object.
func (g Geometry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        GeometryType `json:"type"`
		Coordinates any          `json:"coordinates"`
	}{Type: g.Type, Coordinates: g.Coordinates})
}

// ParseGeometry parses a GeoJSON geometry value as found in a geometry field.
func ParseGeometry(value string) (Geometry, error) {
	var g Geometry
	if err := json.Unmarshal([]byte(value), &g); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// Normalize promotes single-part geometries to their multi-part equivalent
// by wrapping the coordinate sequence one level deeper. Multi-part
// geometries pass through unchanged.
func Normalize(g Geometry) (Geometry, error) {
	switch g.Type {
	case GeomPoint:
		c, ok := g.Coordinates.(Position)
		if !ok {
			return Geometry{}, malformedCoordinates(g.Type)
		}
		return Geometry{Type: GeomMultiPoint, Coordinates: []Position{c}}, nil
	case GeomLineString:
		c, ok := g.Coordinates.([]Position)
		if !ok {
			return Geometry{}, malformedCoordinates(g.Type)
		}
		return Geometry{Type: GeomMultiLineString, Coordinates: [][]Position{c}}, nil
	case GeomPolygon:
		c, ok := g.Coordinates.([][]Position)
		if !ok {
			return Geometry{}, malformedCoordinates(g.Type)
		}
		return Geometry{Type: GeomMultiPolygon, Coordinates: [][][]Position{c}}, nil
	case GeomMultiPoint, GeomMultiLineString, GeomMultiPolygon:
		return g, nil
	default:
		return Geometry{}, &UnsupportedGeometryError{Type: string(g.Type)}
	}
}

func malformedCoordinates(t GeometryType) error {
	return &ValidationError{
		Field:      GeometryFieldName,
		Value:      t,
		Constraint: "coordinate nesting matching geometry type",
		Message:    "malformed coordinate sequence",
	}
}
