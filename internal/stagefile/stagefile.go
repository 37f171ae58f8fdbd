// Package stagefile implements the on-disk staged dataset: a JSON Lines
// file whose first line is the schema and whose remaining lines are rows
// encoded as JSON arrays in field order. JSON Lines is used instead of CSV
// so values keep their types and the file can be re-read in bounded chunks.
package stagefile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"

	"github.com/openterra/efflux/internal/domain"
)

type header struct {
	Fields domain.Schema `json:"fields"`
}

// Writer streams rows into a staged dataset file, hashing the bytes as
// they are written.
type Writer struct {
	f      *os.File
	buf    *bufio.Writer
	hash   *xxh3.Hasher
	out    io.Writer
	schema domain.Schema
	rows   int64
}

// NewWriter creates the staged file and writes the schema header.
func NewWriter(path string, schema domain.Schema) (*Writer, error) {
	f, err := os.Create(path) //#nosec G304 -- path is under the request scratch directory
	if err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		buf:    bufio.NewWriter(f),
		hash:   xxh3.New(),
		schema: schema,
	}
	w.out = io.MultiWriter(w.buf, w.hash)

	if err := w.writeLine(header{Fields: schema}); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// WriteRows appends one page of rows. Rows must be aligned to the schema.
func (w *Writer) WriteRows(rows []domain.Row) error {
	for _, row := range rows {
		if len(row) != len(w.schema) {
			return &domain.SchemaError{
				Field:   "",
				Message: fmt.Sprintf("row has %d values, schema has %d fields", len(row), len(w.schema)),
			}
		}
		if err := w.writeLine([]any(row)); err != nil {
			return err
		}
		w.rows++
	}
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int64 {
	return w.rows
}

// Digest returns the xxh3 digest of everything written so far.
func (w *Writer) Digest() string {
	return fmt.Sprintf("%016x", w.hash.Sum64())
}

// Close flushes and closes the staged file.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

func (w *Writer) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.out.Write(data); err != nil {
		return err
	}
	_, err = w.out.Write([]byte{'\n'})
	return err
}

// Reader reads a staged dataset back in bounded chunks. It is not
// restartable; callers re-open the file for another pass.
type Reader struct {
	f       *os.File
	r       *bufio.Reader
	schema  domain.Schema
	geomIdx int
}

// Open opens a staged dataset and reads its schema header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path) //#nosec G304 -- path is under the request scratch directory
	if err != nil {
		return nil, err
	}

	r := &Reader{f: f, r: bufio.NewReaderSize(f, 1<<16)}

	line, err := r.readLine()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("reading staged header: %w", err)
	}
	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("decoding staged header: %w", err)
	}

	r.schema = h.Fields
	r.geomIdx = h.Fields.GeometryIndex()
	return r, nil
}

// Schema returns the ordered field list from the header.
func (r *Reader) Schema() domain.Schema {
	return r.schema
}

// Next returns up to chunkSize rows. It returns io.EOF once the dataset is
// exhausted; a short chunk alongside a nil error is not a terminator.
func (r *Reader) Next(chunkSize int) ([]domain.Row, error) {
	rows := make([]domain.Row, 0, chunkSize)
	for len(rows) < chunkSize {
		line, err := r.readLine()
		if err == io.EOF {
			if len(rows) == 0 {
				return nil, io.EOF
			}
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		row, err := r.decodeRow(line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadBytes('\n')
		line = append(line, chunk...)
		if err == nil {
			return bytes.TrimRight(line, "\n"), nil
		}
		if err == io.EOF {
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		}
		return nil, err
	}
}

func (r *Reader) decodeRow(line []byte) (domain.Row, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("decoding staged row: %w", err)
	}
	if len(raw) != len(r.schema) {
		return nil, &domain.SchemaError{
			Message: fmt.Sprintf("staged row has %d values, schema has %d fields", len(raw), len(r.schema)),
		}
	}

	row := make(domain.Row, len(raw))
	for i, v := range raw {
		if i == r.geomIdx {
			var g domain.Geometry
			if err := json.Unmarshal(v, &g); err != nil {
				return nil, err
			}
			row[i] = g
			continue
		}
		// UseNumber keeps integer-valued fields exact when re-encoded.
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("decoding staged value: %w", err)
		}
		row[i] = val
	}
	return row, nil
}
