package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openterra/efflux/internal/config"
)

func corsServer(origins ...string) *Server {
	return &Server{
		config: config.ServerConfig{
			CORS: config.CORSConfig{AllowedOrigins: origins},
		},
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		origin, want string
	}{
		{"https://example.com", "example.com"},
		{"https://example.com:8080", "example.com"},
		{"https://example.com:443/path", "example.com"},
		{"https://deep.sub.example.com", "deep.sub.example.com"},
		{"http://localhost:3000", "localhost"},
		{"http://192.168.1.1:8080", "192.168.1.1"},
		{"example.com", "example.com"},
	}
	for _, tt := range tests {
		if got := extractHost(tt.origin); got != tt.want {
			t.Errorf("extractHost(%q) = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		origin, pattern string
		want            bool
	}{
		{"https://example.com", "https://example.com", true},
		{"http://example.com", "https://example.com", false},
		{"https://example.com:8080", "https://example.com:9090", false},

		// Wildcards match subdomains at any depth but never the apex.
		{"https://sub.example.com", "*.example.com", true},
		{"https://deep.sub.example.com", "*.example.com", true},
		{"https://example.com", "*.example.com", false},
		{"https://notexample.com", "*.example.com", false},
		{"https://sub.other.com", "*.example.com", false},

		{"", "https://example.com", false},
		{"https://example.com", "", false},
	}
	for _, tt := range tests {
		if got := matchOrigin(tt.origin, tt.pattern); got != tt.want {
			t.Errorf("matchOrigin(%q, %q) = %v, want %v", tt.origin, tt.pattern, got, tt.want)
		}
	}
}

func TestIsOriginAllowed(t *testing.T) {
	s := corsServer("https://exact.com", "*.wildcard.com")

	allowed := []string{"https://exact.com", "https://sub.wildcard.com"}
	for _, origin := range allowed {
		if !s.isOriginAllowed(origin) {
			t.Errorf("isOriginAllowed(%q) = false, want true", origin)
		}
	}

	denied := []string{"https://other.com", "https://wildcard.com", ""}
	for _, origin := range denied {
		if s.isOriginAllowed(origin) {
			t.Errorf("isOriginAllowed(%q) = true, want false", origin)
		}
	}

	if corsServer().isOriginAllowed("https://exact.com") {
		t.Error("empty origin list allowed a request")
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		origin      string
		method      string
		wantHeaders bool
		wantStatus  int
	}{
		{"allowed GET", []string{"https://example.com"}, "https://example.com", http.MethodGet, true, http.StatusOK},
		{"allowed preflight", []string{"https://example.com"}, "https://example.com", http.MethodOptions, true, http.StatusNoContent},
		{"wildcard origin", []string{"*.example.com"}, "https://app.example.com", http.MethodGet, true, http.StatusOK},
		{"denied origin", []string{"https://example.com"}, "https://evil.com", http.MethodGet, false, http.StatusOK},
		{"no origin header", []string{"https://example.com"}, "", http.MethodGet, false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := corsServer(tt.origins...)
			handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/v1/convert", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			got := rr.Header().Get("Access-Control-Allow-Origin")
			if tt.wantHeaders {
				if got != tt.origin {
					t.Errorf("Allow-Origin = %q, want %q", got, tt.origin)
				}
				if vary := rr.Header().Get("Vary"); vary != "Origin" {
					t.Errorf("Vary = %q, want Origin", vary)
				}
			} else if got != "" {
				t.Errorf("unexpected Allow-Origin %q", got)
			}
		})
	}
}

func TestCORSPreflightStopsChain(t *testing.T) {
	nextCalled := false
	s := corsServer("https://example.com")
	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/convert", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if nextCalled {
		t.Error("preflight reached the next handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
}

func TestCORSConfigEnabled(t *testing.T) {
	if (&config.CORSConfig{}).Enabled() {
		t.Error("empty config reported enabled")
	}
	cfg := config.CORSConfig{AllowedOrigins: []string{"https://example.com"}}
	if !cfg.Enabled() {
		t.Error("configured origins reported disabled")
	}
}
