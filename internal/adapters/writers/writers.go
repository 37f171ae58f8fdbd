// Package writers contains the output format writers. Every writer
// consumes the staged dataset in bounded chunks and produces exactly one
// artifact per (format, EPSG) combination.
package writers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
	"github.com/openterra/efflux/internal/stagefile"
)

// artifactPath composes the output path inside the request directory:
// "{name} - {epsg}.{ext}", with the EPSG segment omitted for tabular
// outputs.
func artifactPath(req output.WriteRequest) string {
	base := sanitizeName(req.Name)
	if req.Spec.TargetEPSG != 0 {
		base = fmt.Sprintf("%s - %d", base, req.Spec.TargetEPSG)
	}
	return filepath.Join(req.Dir, base+"."+req.Spec.Format.Extension())
}

// sanitizeName keeps resource names usable as file name stems.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "resource"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, name)
}

// encodeErr tags a writer failure with its (format, EPSG) combination so
// the orchestrator can isolate it.
func encodeErr(spec domain.OutputSpec, err error) error {
	return &domain.EncodingError{Format: spec.Format, EPSG: spec.TargetEPSG, Err: err}
}

// forEachChunk streams the staged dataset through fn, one bounded chunk at
// a time.
func forEachChunk(ctx context.Context, path string, chunkSize int, fn func([]domain.Row) error) error {
	r, err := stagefile.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := r.Next(chunkSize)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rows); err != nil {
			return err
		}
	}
}

// reproject extracts the row's geometry and applies the transform. A nil
// or identity transform passes the geometry through.
func reproject(ctx context.Context, t output.Transform, row domain.Row, geomIdx int) (domain.Geometry, error) {
	g, ok := row[geomIdx].(domain.Geometry)
	if !ok {
		return domain.Geometry{}, &domain.ValidationError{
			Field:      domain.GeometryFieldName,
			Value:      row[geomIdx],
			Constraint: "normalized geometry value",
			Message:    "staged row carries a non-geometry value in the geometry field",
		}
	}
	if t == nil || t.Identity() {
		return g, nil
	}
	return t.Apply(ctx, g)
}

// formatValue renders a staged value as text for the character-based
// encodings. Geometry values render as their GeoJSON form.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case domain.Geometry:
		data, err := t.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

// artifactFile is a buffered, digest-tracking file writer for the
// character-based formats.
type artifactFile struct {
	f    *os.File
	buf  *bufio.Writer
	hash *xxh3.Hasher
	out  io.Writer
}

func createArtifact(path string) (*artifactFile, error) {
	f, err := os.Create(path) //#nosec G304 -- path is under the request scratch directory
	if err != nil {
		return nil, err
	}
	a := &artifactFile{
		f:    f,
		buf:  bufio.NewWriter(f),
		hash: xxh3.New(),
	}
	a.out = io.MultiWriter(a.buf, a.hash)
	return a, nil
}

func (a *artifactFile) Write(p []byte) (int, error) {
	return a.out.Write(p)
}

func (a *artifactFile) WriteString(s string) (int, error) {
	return io.WriteString(a.out, s)
}

func (a *artifactFile) Digest() string {
	return fmt.Sprintf("%016x", a.hash.Sum64())
}

func (a *artifactFile) Close() error {
	if err := a.buf.Flush(); err != nil {
		_ = a.f.Close()
		return err
	}
	return a.f.Close()
}

// hashFile digests an already-written artifact. Used by the writers that
// delegate the on-disk encoding to a library.
func hashFile(path string) (string, error) {
	f, err := os.Open(path) //#nosec G304 -- path is under the request scratch directory
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
