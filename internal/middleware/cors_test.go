package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCORS_Preflight(t *testing.T) {
	called := false
	e := echo.New()
	e.Use(CORS())
	e.Any("/relay", func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	})

	tests := []struct {
		name   string
		origin string
	}{
		{"browser with origin", "https://app.example.com"},
		{"native client without origin", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/relay", http.NoBody)
			if tt.origin != "" {
				req.Header.Set(echo.HeaderOrigin, tt.origin)
			}
			req.Header.Set(echo.HeaderAccessControlRequestHeaders, "X-Target-Url, X-Custom-Trace")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
			}
			if v := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); v != "*" {
				t.Errorf("Allow-Origin = %q, want *", v)
			}
			if v := rec.Header().Get(echo.HeaderAccessControlAllowMethods); !strings.Contains(v, "POST") || !strings.Contains(v, "OPTIONS") {
				t.Errorf("Allow-Methods = %q", v)
			}
			allow := rec.Header().Get(echo.HeaderAccessControlAllowHeaders)
			for _, want := range []string{"x-target-url", "x-target-api-key", "x-target-base-url", "content-type", "x-custom-trace"} {
				if !strings.Contains(allow, want) {
					t.Errorf("Allow-Headers %q missing %q", allow, want)
				}
			}
			if strings.Count(allow, "x-target-url") != 1 {
				t.Errorf("Allow-Headers %q lists x-target-url more than once", allow)
			}
			if v := rec.Header().Get(echo.HeaderAccessControlMaxAge); v != "86400" {
				t.Errorf("Max-Age = %q, want 86400", v)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("preflight body = %q, want empty", rec.Body.String())
			}
		})
	}

	if called {
		t.Error("handler ran for a preflight request")
	}
}

func TestCORS_AllowOriginOnResponses(t *testing.T) {
	e := echo.New()
	e.Use(CORS())
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/relay", func(c echo.Context) error {
		c.Response().WriteHeader(http.StatusOK)
		_, _ = c.Response().Write([]byte("data: {}\n\n"))
		return nil
	})

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodPost, "/relay", http.StatusOK},
		{http.MethodGet, "/missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != tt.status {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.status)
		}
		if v := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); v != "*" {
			t.Errorf("%s %s: Allow-Origin = %q, want *", tt.method, tt.path, v)
		}
	}
}

func TestAllowHeaders(t *testing.T) {
	got := allowHeaders([]string{"Authorization, X-Extra", " x-extra ", ""})
	want := "authorization, x-client-info, apikey, content-type, accept, x-target-url, x-target-api-key, x-target-base-url, x-extra"
	if got != want {
		t.Errorf("allowHeaders() = %q, want %q", got, want)
	}
}
