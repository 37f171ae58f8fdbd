package writers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
	"github.com/openterra/efflux/internal/stagefile"
)

func tabularSchema() domain.Schema {
	return domain.Schema{
		{Name: "id", Type: domain.FieldInt},
		{Name: "name", Type: domain.FieldText},
	}
}

func spatialSchema() domain.Schema {
	return domain.Schema{
		{Name: "id", Type: domain.FieldInt},
		{Name: "name", Type: domain.FieldText},
		{Name: "geometry", Type: domain.FieldGeometry},
	}
}

func stageDataset(t *testing.T, schema domain.Schema, rows []domain.Row) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "staged.jsonl")
	w, err := stagefile.NewWriter(path, schema)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRows(rows); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func newWriteRequest(t *testing.T, schema domain.Schema, rows []domain.Row, spec domain.OutputSpec) output.WriteRequest {
	t.Helper()

	columns, err := domain.PlanColumns(schema, spec.Format)
	if err != nil {
		t.Fatalf("PlanColumns: %v", err)
	}
	return output.WriteRequest{
		Spec:       spec,
		Name:       "parks",
		Schema:     schema,
		Columns:    columns,
		StagedPath: stageDataset(t, schema, rows),
		Dir:        t.TempDir(),
		ChunkSize:  2,
	}
}

// shiftTransform moves every X coordinate by a fixed offset so tests can
// observe that reprojection was applied.
type shiftTransform struct{ dx float64 }

func (s *shiftTransform) Identity() bool { return false }

func (s *shiftTransform) Apply(_ context.Context, g domain.Geometry) (domain.Geometry, error) {
	c, ok := g.Coordinates.([]domain.Position)
	if !ok {
		return g, nil
	}
	shifted := make([]domain.Position, len(c))
	for i, p := range c {
		shifted[i] = domain.Position{p[0] + s.dx, p[1]}
	}
	return domain.Geometry{Type: g.Type, Coordinates: shifted}, nil
}

func mustReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //#nosec G304 -- test fixture path
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return string(data)
}

func geomRow(id int, name string) domain.Row {
	return domain.Row{
		json.Number(strconv.Itoa(id)),
		name,
		domain.Geometry{Type: domain.GeomMultiPoint, Coordinates: []domain.Position{{-79.38, 43.65}}},
	}
}

func TestCSVWriterTabular(t *testing.T) {
	rows := []domain.Row{
		{json.Number("1"), "first"},
		{json.Number("2"), "with,comma"},
		{json.Number("3"), nil},
	}
	req := newWriteRequest(t, tabularSchema(), rows, domain.OutputSpec{Format: domain.FormatCSV})

	artifact, err := NewCSVWriter().Write(context.Background(), req)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if artifact.Rows != 3 {
		t.Errorf("expected 3 rows, got %d", artifact.Rows)
	}
	if artifact.Digest == "" {
		t.Error("expected a digest")
	}
	if filepath.Base(artifact.Path) != "parks.csv" {
		t.Errorf("unexpected artifact name: %s", filepath.Base(artifact.Path))
	}

	content := mustReadFile(t, artifact.Path)
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d lines", len(lines))
	}
	if lines[0] != "id,name" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if lines[2] != `2,"with,comma"` {
		t.Errorf("expected quoted comma value, got %s", lines[2])
	}
	if lines[3] != "3," {
		t.Errorf("expected empty cell for nil, got %s", lines[3])
	}
}

func TestCSVWriterGeometryColumn(t *testing.T) {
	rows := []domain.Row{geomRow(1, "a")}
	req := newWriteRequest(t, spatialSchema(), rows, domain.OutputSpec{
		Format: domain.FormatCSV, SourceEPSG: 4326, TargetEPSG: 2952,
	})
	req.Transform = &shiftTransform{dx: 1}

	artifact, err := NewCSVWriter().Write(context.Background(), req)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(artifact.Path) != "parks - 2952.csv" {
		t.Errorf("unexpected artifact name: %s", filepath.Base(artifact.Path))
	}

	content := mustReadFile(t, artifact.Path)
	if !strings.Contains(content, `""type"":""MultiPoint""`) {
		t.Errorf("expected GeoJSON geometry cell, got:\n%s", content)
	}
	if !strings.Contains(content, "-78.38") {
		t.Errorf("expected shifted X coordinate, got:\n%s", content)
	}
}

func TestJSONWriterPreservesFieldOrder(t *testing.T) {
	rows := []domain.Row{
		{json.Number("1"), "first"},
		{json.Number("2"), "second"},
	}
	req := newWriteRequest(t, tabularSchema(), rows, domain.OutputSpec{Format: domain.FormatJSON})

	artifact, err := NewJSONWriter().Write(context.Background(), req)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	content := mustReadFile(t, artifact.Path)
	if !strings.HasPrefix(content, `[{"id":1,"name":"first"}`) {
		t.Errorf("fields out of declaration order:\n%s", content)
	}

	var decoded []map[string]any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("expected 2 objects, got %d", len(decoded))
	}
}

func TestJSONWriterEmptyDataset(t *testing.T) {
	req := newWriteRequest(t, tabularSchema(), nil, domain.OutputSpec{Format: domain.FormatJSON})

	artifact, err := NewJSONWriter().Write(context.Background(), req)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if artifact.Rows != 0 {
		t.Errorf("expected 0 rows, got %d", artifact.Rows)
	}

	var decoded []any
	if err := json.Unmarshal([]byte(mustReadFile(t, artifact.Path)), &decoded); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
}

func TestXMLWriter(t *testing.T) {
	schema := domain.Schema{
		{Name: "id", Type: domain.FieldInt},
		{Name: "display name", Type: domain.FieldText},
	}
	rows := []domain.Row{
		{json.Number("1"), "a < b & c"},
	}
	req := newWriteRequest(t, schema, rows, domain.OutputSpec{Format: domain.FormatXML})

	artifact, err := NewXMLWriter().Write(context.Background(), req)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	content := mustReadFile(t, artifact.Path)
	if !strings.Contains(content, "<DATA>") || !strings.Contains(content, "</DATA>") {
		t.Errorf("missing document element:\n%s", content)
	}
	// Invalid name characters become underscores.
	if !strings.Contains(content, "<display_name>") {
		t.Errorf("expected sanitized element name:\n%s", content)
	}
	if !strings.Contains(content, "a &lt; b &amp; c") {
		t.Errorf("expected escaped text content:\n%s", content)
	}
	if artifact.Rows != 1 {
		t.Errorf("expected 1 row, got %d", artifact.Rows)
	}
}

func TestXMLElementName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"id", "id"},
		{"display name", "display_name"},
		{"2021 count", "_2021_count"},
		{"-dash", "_-dash"},
		{"_ok", "_ok"},
		{"", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := xmlElementName(tt.in); got != tt.want {
				t.Errorf("xmlElementName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGeoJSONWriter(t *testing.T) {
	rows := []domain.Row{geomRow(1, "a"), geomRow(2, "b")}
	req := newWriteRequest(t, spatialSchema(), rows, domain.OutputSpec{
		Format: domain.FormatGeoJSON, SourceEPSG: 4326, TargetEPSG: 2952,
	})
	req.Transform = &shiftTransform{dx: 1}

	artifact, err := NewGeoJSONWriter().Write(context.Background(), req)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(artifact.Path) != "parks - 2952.geojson" {
		t.Errorf("unexpected artifact name: %s", filepath.Base(artifact.Path))
	}

	var fc struct {
		Type string `json:"type"`
		CRS  struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
		Features []struct {
			Geometry   domain.Geometry `json:"geometry"`
			Properties map[string]any  `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal([]byte(mustReadFile(t, artifact.Path)), &fc); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}

	if fc.Type != "FeatureCollection" {
		t.Errorf("unexpected type: %s", fc.Type)
	}
	if fc.CRS.Properties.Name != "urn:ogc:def:crs:EPSG::2952" {
		t.Errorf("unexpected crs: %s", fc.CRS.Properties.Name)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(fc.Features))
	}

	// Geometry is reprojected; the geometry field stays out of properties.
	c := fc.Features[0].Geometry.Coordinates.([]domain.Position)
	if c[0][0] != -78.38 {
		t.Errorf("expected shifted X coordinate, got %f", c[0][0])
	}
	if _, ok := fc.Features[0].Properties["geometry"]; ok {
		t.Error("geometry leaked into properties")
	}
	if fc.Features[0].Properties["name"] != "a" {
		t.Errorf("unexpected properties: %v", fc.Features[0].Properties)
	}
}

func TestChunkedWritesMatchSingleChunk(t *testing.T) {
	// The row separator logic must produce identical artifacts whether the
	// dataset crosses chunk boundaries or fits in one chunk.
	tabular := []domain.Row{
		{json.Number("1"), "a"},
		{json.Number("2"), "b"},
		{json.Number("3"), "c"},
		{json.Number("4"), "d"},
		{json.Number("5"), "e"},
	}
	spatial := []domain.Row{geomRow(1, "a"), geomRow(2, "b"), geomRow(3, "c"), geomRow(4, "d"), geomRow(5, "e")}

	tests := []struct {
		name   string
		writer output.FormatWriter
		schema domain.Schema
		rows   []domain.Row
		spec   domain.OutputSpec
	}{
		{"json", NewJSONWriter(), tabularSchema(), tabular, domain.OutputSpec{Format: domain.FormatJSON}},
		{"geojson", NewGeoJSONWriter(), spatialSchema(), spatial, domain.OutputSpec{
			Format: domain.FormatGeoJSON, SourceEPSG: 4326, TargetEPSG: 4326,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunked := newWriteRequest(t, tt.schema, tt.rows, tt.spec)
			chunked.ChunkSize = 2
			whole := newWriteRequest(t, tt.schema, tt.rows, tt.spec)
			whole.ChunkSize = 100

			a, err := tt.writer.Write(context.Background(), chunked)
			if err != nil {
				t.Fatalf("Write chunked: %v", err)
			}
			b, err := tt.writer.Write(context.Background(), whole)
			if err != nil {
				t.Fatalf("Write whole: %v", err)
			}
			if a.Rows != int64(len(tt.rows)) || b.Rows != a.Rows {
				t.Errorf("row counts differ: %d vs %d", a.Rows, b.Rows)
			}
			if got, want := mustReadFile(t, a.Path), mustReadFile(t, b.Path); got != want {
				t.Errorf("chunked artifact differs:\n%s\nvs\n%s", got, want)
			}
			if a.Digest != b.Digest {
				t.Errorf("digest mismatch: %s vs %s", a.Digest, b.Digest)
			}
		})
	}
}

func TestGeoJSONWriterRequiresGeometry(t *testing.T) {
	req := newWriteRequest(t, tabularSchema(), nil, domain.OutputSpec{Format: domain.FormatGeoJSON})

	if _, err := NewGeoJSONWriter().Write(context.Background(), req); err == nil {
		t.Fatal("expected error for schema without geometry")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"number", json.Number("42"), "42"},
		{"float number", json.Number("1.5"), "1.5"},
		{"true", true, "true"},
		{"false", false, "false"},
		{
			"geometry",
			domain.Geometry{Type: domain.GeomMultiPoint, Coordinates: []domain.Position{{1, 2}}},
			`{"type":"MultiPoint","coordinates":[[1,2]]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(tt.in); got != tt.want {
				t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestArtifactPathNaming(t *testing.T) {
	tests := []struct {
		name string
		spec domain.OutputSpec
		want string
	}{
		{"parks", domain.OutputSpec{Format: domain.FormatCSV}, "parks.csv"},
		{"parks", domain.OutputSpec{Format: domain.FormatGeoJSON, TargetEPSG: 2952}, "parks - 2952.geojson"},
		{"parks", domain.OutputSpec{Format: domain.FormatSHP, TargetEPSG: 4326}, "parks - 4326.zip"},
		{"a/b:c", domain.OutputSpec{Format: domain.FormatCSV}, "a_b_c.csv"},
		{"  ", domain.OutputSpec{Format: domain.FormatCSV}, "resource.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := artifactPath(output.WriteRequest{Name: tt.name, Dir: "/req", Spec: tt.spec})
			if filepath.Base(got) != tt.want {
				t.Errorf("expected %q, got %q", tt.want, filepath.Base(got))
			}
		})
	}
}

func TestHashFileMatchesArtifactDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	out, err := createArtifact(path)
	if err != nil {
		t.Fatalf("createArtifact: %v", err)
	}
	if _, err := out.WriteString("hello world"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	inline := out.Digest()
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fromDisk, err := hashFile(path)
	if err != nil {
		t.Fatalf("hashFile: %v", err)
	}
	if inline != fromDisk {
		t.Errorf("digest mismatch: %s vs %s", inline, fromDisk)
	}
}
