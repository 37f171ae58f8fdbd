package stagefile

import (
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/openterra/efflux/internal/domain"
)

func testSchema() domain.Schema {
	return domain.Schema{
		{Name: "id", Type: domain.FieldInt},
		{Name: "name", Type: domain.FieldText},
		{Name: "geometry", Type: domain.FieldGeometry},
	}
}

func writeStaged(t *testing.T, rows []domain.Row) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "staged.jsonl")
	w, err := NewWriter(path, testSchema())
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

func testRows(n int) []domain.Row {
	rows := make([]domain.Row, n)
	for i := range rows {
		rows[i] = domain.Row{
			i + 1,
			"row",
			domain.Geometry{Type: domain.GeomMultiPoint, Coordinates: []domain.Position{{-79.38, 43.65}}},
		}
	}
	return rows
}

func TestRoundTrip(t *testing.T) {
	path := writeStaged(t, testRows(3))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	schema := r.Schema()
	if len(schema) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(schema))
	}
	if schema.GeometryIndex() != 2 {
		t.Errorf("expected geometry at index 2, got %d", schema.GeometryIndex())
	}

	rows, err := r.Next(10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	// Integer values survive as json.Number.
	num, ok := rows[0][0].(json.Number)
	if !ok {
		t.Fatalf("expected json.Number id, got %T", rows[0][0])
	}
	if num.String() != "1" {
		t.Errorf("expected id 1, got %s", num)
	}

	// The geometry column decodes into a typed geometry.
	g, ok := rows[0][2].(domain.Geometry)
	if !ok {
		t.Fatalf("expected Geometry, got %T", rows[0][2])
	}
	if g.Type != domain.GeomMultiPoint {
		t.Errorf("expected MultiPoint, got %s", g.Type)
	}
}

func TestNextChunking(t *testing.T) {
	path := writeStaged(t, testRows(5))

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	var total int
	for {
		rows, err := r.Next(2)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(rows) > 2 {
			t.Fatalf("chunk exceeds requested size: %d", len(rows))
		}
		total += len(rows)
	}
	if total != 5 {
		t.Errorf("expected 5 rows total, got %d", total)
	}
}

func TestNextEOFOnEmptyDataset(t *testing.T) {
	path := writeStaged(t, nil)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	if _, err := r.Next(10); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestWriterRejectsMisalignedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staged.jsonl")
	w, err := NewWriter(path, testSchema())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	err = w.WriteRows([]domain.Row{{1, "too short"}})
	if err == nil {
		t.Fatal("expected error for misaligned row")
	}
}

func TestWriterDigestStable(t *testing.T) {
	rows := testRows(2)
	pathA := writeStaged(t, rows)
	pathB := writeStaged(t, rows)

	digest := func(path string) string {
		t.Helper()
		w, err := NewWriter(path, testSchema())
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		if err := w.WriteRows(rows); err != nil {
			t.Fatalf("WriteRows: %v", err)
		}
		d := w.Digest()
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		return d
	}

	a, b := digest(pathA), digest(pathB)
	if a != b {
		t.Errorf("identical contents produced different digests: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex characters, got %q", a)
	}
}

func TestWriterCountsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staged.jsonl")
	w, err := NewWriter(path, testSchema())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.WriteRows(testRows(4)); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	if w.Rows() != 4 {
		t.Errorf("expected 4 rows, got %d", w.Rows())
	}
}
