package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tranor/tranor/config"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name           string
		config         *config.CORSConfig
		method         string
		origin         string
		wantStatus     int
		wantCORSHeader bool
	}{
		{
			name: "CORS enabled with allowed origin",
			config: &config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000"},
				AllowedMethods: []string{"GET", "POST"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         3600,
			},
			method:         http.MethodGet,
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusOK,
			wantCORSHeader: true,
		},
		{
			name: "CORS enabled with wildcard origin",
			config: &config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST"},
			},
			method:         http.MethodGet,
			origin:         "http://example.com",
			wantStatus:     http.StatusOK,
			wantCORSHeader: true,
		},
		{
			name: "CORS enabled with disallowed origin",
			config: &config.CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:3000"},
			},
			method:         http.MethodGet,
			origin:         "http://evil.example.com",
			wantStatus:     http.StatusOK,
			wantCORSHeader: false,
		},
		{
			name: "CORS disabled",
			config: &config.CORSConfig{
				Enabled: false,
			},
			method:         http.MethodGet,
			origin:         "http://localhost:3000",
			wantStatus:     http.StatusOK,
			wantCORSHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			middleware := CORS(tt.config)
			wrappedHandler := middleware(handler)

			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			wrappedHandler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("CORS middleware status = %v, want %v", w.Code, tt.wantStatus)
			}

			corsHeader := w.Header().Get("Access-Control-Allow-Origin")
			if tt.wantCORSHeader && corsHeader == "" {
				t.Error("Expected CORS header but not found")
			}
			if !tt.wantCORSHeader && corsHeader != "" {
				t.Error("Unexpected CORS header found")
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	cfg := &config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		MaxAge:         300,
	}

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	wrappedHandler := CORS(cfg)(handler)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transactions", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Preflight status = %v, want %v", w.Code, http.StatusNoContent)
	}
	if handlerCalled {
		t.Error("Preflight request should not reach the handler")
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "300" {
		t.Errorf("Access-Control-Max-Age = %q, want 300", got)
	}
}
