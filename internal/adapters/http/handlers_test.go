package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"log/slog"

	"github.com/openterra/efflux/internal/config"
	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/input"
)

// mockConverter implements input.Converter for handler tests.
type mockConverter struct {
	report     *domain.Report
	convertErr error
	pruneErr   error
	pruned     []string
}

func (m *mockConverter) ToFile(_ context.Context, req domain.ConvertRequest) (*domain.Report, error) {
	if m.convertErr != nil {
		return nil, m.convertErr
	}
	report := *m.report
	report.ResourceID = req.ResourceID
	return &report, nil
}

func (m *mockConverter) Prune(_ context.Context, path string) error {
	if m.pruneErr != nil {
		return m.pruneErr
	}
	m.pruned = append(m.pruned, path)
	return nil
}

// mockRegistry implements input.ConversionRegistry.
type mockRegistry struct {
	reports []domain.Report
}

func (m *mockRegistry) ListConversions(_ context.Context) ([]domain.Report, error) {
	return m.reports, nil
}

func (m *mockRegistry) GetConversion(_ context.Context, id string) (*domain.Report, error) {
	for i := range m.reports {
		if strings.HasSuffix(m.reports[i].Dir, id) {
			return &m.reports[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

// mockHealth implements input.HealthChecker.
type mockHealth struct {
	healthy bool
	ready   bool
}

func (m *mockHealth) IsHealthy(_ context.Context) bool { return m.healthy }
func (m *mockHealth) IsReady(_ context.Context) bool   { return m.ready }
func (m *mockHealth) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:    m.healthy,
		Ready:      m.ready,
		Components: map[string]string{"scratch": "ok"},
	}
}

func newTestServer(converter *mockConverter, registry *mockRegistry, health *mockHealth) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		converter,
		registry,
		health,
		nil,
		logger,
	)
}

func doneReport() *domain.Report {
	return &domain.Report{
		Dir:      "/scratch/abc123",
		RowCount: 10,
		State:    domain.StateDone,
		Artifacts: []domain.Artifact{
			{
				Spec: domain.OutputSpec{Format: domain.FormatGeoJSON, SourceEPSG: 4326, TargetEPSG: 2952},
				Path: "/scratch/abc123/stops - 2952.geojson",
				Rows: 10,
			},
		},
	}
}

func TestHandleConvert(t *testing.T) {
	converter := &mockConverter{report: doneReport()}
	s := newTestServer(converter, &mockRegistry{}, &mockHealth{healthy: true, ready: true})

	body := `{"resource_id":"stops","source_epsg":4326,"target_epsgs":[2952],"target_formats":["geojson"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/convert", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["state"] != "done" {
		t.Errorf("state = %v, want done", resp["state"])
	}
	if resp["resource_id"] != "stops" {
		t.Errorf("resource_id = %v, want stops", resp["resource_id"])
	}
	paths, ok := resp["paths"].([]interface{})
	if !ok || len(paths) != 1 {
		t.Errorf("paths = %v, want one entry", resp["paths"])
	}
}

func TestHandleConvertRejectsUnknownFormat(t *testing.T) {
	s := newTestServer(&mockConverter{report: doneReport()}, &mockRegistry{}, &mockHealth{healthy: true, ready: true})

	body := `{"resource_id":"stops","target_formats":["parquet"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/convert", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleConvertErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "validation error",
			err:        &domain.ValidationError{Field: "source_epsg", Message: "source_epsg is required for spatial resources"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty resource",
			err:        domain.ErrEmptyResource,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "resource not found",
			err:        domain.ErrResourceNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "remote query error",
			err:        &domain.RemoteQueryError{ResourceID: "stops", Err: domain.ErrSourceUnavailable},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockConverter{convertErr: tt.err}, &mockRegistry{}, &mockHealth{healthy: true, ready: true})

			body := `{"resource_id":"stops","target_formats":["csv"]}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/convert", strings.NewReader(body))
			rr := httptest.NewRecorder()
			s.Router().ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandlePrune(t *testing.T) {
	converter := &mockConverter{report: doneReport()}
	s := newTestServer(converter, &mockRegistry{}, &mockHealth{healthy: true, ready: true})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prune", strings.NewReader(`{"path":"/scratch/abc123"}`))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(converter.pruned) != 1 || converter.pruned[0] != "/scratch/abc123" {
		t.Errorf("pruned = %v", converter.pruned)
	}
}

func TestHandlePruneOutsideScratchRoot(t *testing.T) {
	converter := &mockConverter{pruneErr: domain.ErrOutsideScratchRoot}
	s := newTestServer(converter, &mockRegistry{}, &mockHealth{healthy: true, ready: true})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prune", strings.NewReader(`{"path":"/etc/passwd"}`))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandlePruneRequiresPath(t *testing.T) {
	s := newTestServer(&mockConverter{}, &mockRegistry{}, &mockHealth{healthy: true, ready: true})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prune", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleListConversions(t *testing.T) {
	registry := &mockRegistry{reports: []domain.Report{*doneReport()}}
	s := newTestServer(&mockConverter{report: doneReport()}, registry, &mockHealth{healthy: true, ready: true})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversions", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestHandleGetConversion(t *testing.T) {
	registry := &mockRegistry{reports: []domain.Report{*doneReport()}}
	s := newTestServer(&mockConverter{report: doneReport()}, registry, &mockHealth{healthy: true, ready: true})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversions/abc123", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/conversions/missing", nil)
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		health     *mockHealth
		wantStatus int
	}{
		{"health ok", "/health", &mockHealth{healthy: true, ready: true}, http.StatusOK},
		{"liveness ok", "/health/live", &mockHealth{healthy: true, ready: true}, http.StatusOK},
		{"readiness ok", "/health/ready", &mockHealth{healthy: true, ready: true}, http.StatusOK},
		{"readiness failing", "/health/ready", &mockHealth{healthy: true, ready: false}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockConverter{}, &mockRegistry{}, tt.health)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rr := httptest.NewRecorder()
			s.Router().ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	s := newTestServer(&mockConverter{}, &mockRegistry{}, &mockHealth{healthy: true, ready: true})

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var spec map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &spec); err != nil {
		t.Fatalf("spec should be valid JSON: %v", err)
	}
	if spec["openapi"] == "" {
		t.Error("spec should carry an openapi version")
	}
}
