package writers

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/openterra/efflux/internal/domain"
)

// Well-known binary geometry type codes.
const (
	wkbPoint           uint32 = 1
	wkbLineString      uint32 = 2
	wkbPolygon         uint32 = 3
	wkbMultiPoint      uint32 = 4
	wkbMultiLineString uint32 = 5
	wkbMultiPolygon    uint32 = 6
)

const wkbLittleEndian byte = 1

// gpkgGeometryBlob encodes a geometry as a GeoPackage geometry blob: the
// "GP" header (version 0, little-endian flag, no envelope) followed by the
// standard WKB encoding.
func gpkgGeometryBlob(g domain.Geometry, srsID int32) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('G')
	buf.WriteByte('P')
	buf.WriteByte(0)    // version
	buf.WriteByte(0x01) // flags: little-endian, envelope indicator 0

	if err := binary.Write(&buf, binary.LittleEndian, srsID); err != nil {
		return nil, err
	}
	if err := encodeWKB(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWKB(buf *bytes.Buffer, g domain.Geometry) error {
	switch g.Type {
	case domain.GeomPoint:
		c, ok := g.Coordinates.(domain.Position)
		if !ok {
			return malformedWKB(g.Type)
		}
		writeWKBHeader(buf, wkbPoint)
		writePosition(buf, c)

	case domain.GeomLineString:
		c, ok := g.Coordinates.([]domain.Position)
		if !ok {
			return malformedWKB(g.Type)
		}
		writeWKBHeader(buf, wkbLineString)
		writePositions(buf, c)

	case domain.GeomPolygon:
		c, ok := g.Coordinates.([][]domain.Position)
		if !ok {
			return malformedWKB(g.Type)
		}
		writeWKBHeader(buf, wkbPolygon)
		writeRings(buf, c)

	case domain.GeomMultiPoint:
		c, ok := g.Coordinates.([]domain.Position)
		if !ok {
			return malformedWKB(g.Type)
		}
		writeWKBHeader(buf, wkbMultiPoint)
		writeCount(buf, len(c))
		for _, p := range c {
			writeWKBHeader(buf, wkbPoint)
			writePosition(buf, p)
		}

	case domain.GeomMultiLineString:
		c, ok := g.Coordinates.([][]domain.Position)
		if !ok {
			return malformedWKB(g.Type)
		}
		writeWKBHeader(buf, wkbMultiLineString)
		writeCount(buf, len(c))
		for _, line := range c {
			writeWKBHeader(buf, wkbLineString)
			writePositions(buf, line)
		}

	case domain.GeomMultiPolygon:
		c, ok := g.Coordinates.([][][]domain.Position)
		if !ok {
			return malformedWKB(g.Type)
		}
		writeWKBHeader(buf, wkbMultiPolygon)
		writeCount(buf, len(c))
		for _, poly := range c {
			writeWKBHeader(buf, wkbPolygon)
			writeRings(buf, poly)
		}

	default:
		return &domain.UnsupportedGeometryError{Type: string(g.Type)}
	}
	return nil
}

func writeWKBHeader(buf *bytes.Buffer, code uint32) {
	buf.WriteByte(wkbLittleEndian)
	_ = binary.Write(buf, binary.LittleEndian, code)
}

func writeCount(buf *bytes.Buffer, n int) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(n)) //#nosec G115 -- counts come from slice lengths
}

func writePosition(buf *bytes.Buffer, p domain.Position) {
	_ = binary.Write(buf, binary.LittleEndian, p[0])
	_ = binary.Write(buf, binary.LittleEndian, p[1])
}

func writePositions(buf *bytes.Buffer, points []domain.Position) {
	writeCount(buf, len(points))
	for _, p := range points {
		writePosition(buf, p)
	}
}

func writeRings(buf *bytes.Buffer, rings [][]domain.Position) {
	writeCount(buf, len(rings))
	for _, ring := range rings {
		writePositions(buf, ring)
	}
}

func malformedWKB(t domain.GeometryType) error {
	return fmt.Errorf("geometry %s carries a malformed coordinate sequence", t)
}
