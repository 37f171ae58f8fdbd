package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
)

// mockRowSource implements output.RowSource for testing.
type mockRowSource struct {
	schema      domain.Schema
	rows        []domain.Row
	describeErr error
	fetchErr    error
	fetches     int
}

func (m *mockRowSource) Describe(_ context.Context, _ string) (domain.Schema, error) {
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	return m.schema, nil
}

func (m *mockRowSource) Fetch(_ context.Context, _ string, offset, limit int) ([]domain.Row, error) {
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if offset >= len(m.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.rows) {
		end = len(m.rows)
	}
	page := make([]domain.Row, end-offset)
	for i := range page {
		row := make(domain.Row, len(m.rows[offset+i]))
		copy(row, m.rows[offset+i])
		page[i] = row
	}
	return page, nil
}

// mockWorkspace implements output.Workspace on a test temp directory.
type mockWorkspace struct {
	root     string
	mu       sync.Mutex
	pruned   []string
	pruneErr error
	dirErr   error
}

func (m *mockWorkspace) Root() string { return m.root }

func (m *mockWorkspace) NewRequestDir() (string, error) {
	if m.dirErr != nil {
		return "", m.dirErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dir := filepath.Join(m.root, fmt.Sprintf("req-%d", len(m.pruned)+time.Now().Nanosecond()))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}

func (m *mockWorkspace) Prune(path string) error {
	if m.pruneErr != nil {
		return m.pruneErr
	}
	m.mu.Lock()
	m.pruned = append(m.pruned, path)
	m.mu.Unlock()
	return os.RemoveAll(path)
}

func (m *mockWorkspace) Usage() (int, int64, error) {
	var files int
	var bytes int64
	err := filepath.Walk(m.root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files++
			bytes += info.Size()
		}
		return nil
	})
	return files, bytes, err
}

func (m *mockWorkspace) RequestDirs() ([]output.RequestDir, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	var dirs []output.RequestDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, _ := e.Info()
		dirs = append(dirs, output.RequestDir{
			Path:    filepath.Join(m.root, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	return dirs, nil
}

// mockTransformer implements output.GeometryTransformer. Transforms shift
// X by a fixed amount so tests can tell reprojected output apart.
type mockTransformer struct {
	buildErr error
}

func (m *mockTransformer) BuildTransform(sourceEPSG, targetEPSG int) (output.Transform, error) {
	if m.buildErr != nil {
		return nil, m.buildErr
	}
	if sourceEPSG == targetEPSG {
		return &mockTransform{identity: true}, nil
	}
	return &mockTransform{shift: 1}, nil
}

func (m *mockTransformer) Close() error { return nil }

type mockTransform struct {
	identity bool
	shift    float64
}

func (m *mockTransform) Identity() bool { return m.identity }

func (m *mockTransform) Apply(_ context.Context, g domain.Geometry) (domain.Geometry, error) {
	if m.identity {
		return g, nil
	}
	if coords, ok := g.Coordinates.([]domain.Position); ok {
		shifted := make([]domain.Position, len(coords))
		for i, c := range coords {
			shifted[i] = domain.Position{c[0] + m.shift, c[1]}
		}
		return domain.Geometry{Type: g.Type, Coordinates: shifted}, nil
	}
	return g, nil
}

// mockWriter implements output.FormatWriter. It touches a file so prune
// and usage behavior stays observable.
type mockWriter struct {
	format   domain.Format
	writeErr error
	mu       sync.Mutex
	requests []output.WriteRequest
}

func (m *mockWriter) Format() domain.Format { return m.format }

func (m *mockWriter) Write(_ context.Context, req output.WriteRequest) (domain.Artifact, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.writeErr != nil {
		return domain.Artifact{}, m.writeErr
	}
	path := filepath.Join(req.Dir, req.Spec.Key()+"."+req.Spec.Format.Extension())
	if err := os.WriteFile(path, []byte("artifact"), 0600); err != nil {
		return domain.Artifact{}, err
	}
	return domain.Artifact{Spec: req.Spec, Path: path, Rows: 1}, nil
}

// mockPublisher implements output.ArtifactPublisher.
type mockPublisher struct {
	mu         sync.Mutex
	keys       []string
	publishErr error
}

func (m *mockPublisher) Publish(_ context.Context, _, key string) error {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	return m.publishErr
}
