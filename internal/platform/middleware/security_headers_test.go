package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

var wantSecurityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Referrer-Policy":           "no-referrer",
	"Cache-Control":             "no-store",
}

func TestSecurityHeaders_APIResponses(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		handler  echo.HandlerFunc
		wantCode int // status carried by the returned *echo.HTTPError, 0 if none
	}{
		{
			name:   "options list",
			method: http.MethodGet,
			path:   "/api/v1/options",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string][]string{"layouts": {"ADT^A01"}})
			},
		},
		{
			name:   "generate result with echoed prompt",
			method: http.MethodPost,
			path:   "/api/v1/generate",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]interface{}{
					"status": "success",
					"data":   map[string]string{"rawResponse": "Test Case ID | ...", "prompt": "PID-3 -> Patient.identifier"},
				})
			},
		},
		{
			name:   "inspect rejects message",
			method: http.MethodPost,
			path:   "/api/v1/hl7v2/inspect",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusBadRequest, map[string]string{"status": "error", "message": "first segment must be MSH"})
			},
		},
		{
			name:   "upload too large",
			method: http.MethodPost,
			path:   "/api/v1/generate",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
			},
			wantCode: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(tt.method, tt.path, nil), rec)

			err := SecurityHeaders()(tt.handler)(c)

			if tt.wantCode == 0 && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantCode != 0 {
				httpErr, ok := err.(*echo.HTTPError)
				if !ok || httpErr.Code != tt.wantCode {
					t.Fatalf("expected HTTP error %d, got %v", tt.wantCode, err)
				}
			}
			for header, want := range wantSecurityHeaders {
				if got := rec.Header().Get(header); got != want {
					t.Errorf("header %s: got %q, want %q", header, got, want)
				}
			}
		})
	}
}
