package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		origins []string
		origin  string
		allowed bool
	}{
		{origins: nil, origin: "http://localhost:3000", allowed: true},
		{origins: nil, origin: "https://evil.example", allowed: false},
		{origins: []string{"https://kids.example"}, origin: "https://kids.example", allowed: true},
	}
	for _, tc := range cases {
		r := gin.New()
		r.Use(CORS(tc.origins))
		r.OPTIONS("/api/responses", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		req := httptest.NewRequest(http.MethodOptions, "/api/responses", nil)
		req.Header.Set("Origin", tc.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin")
		if tc.allowed && got != tc.origin {
			t.Fatalf("%s: allow-origin got=%q", tc.origin, got)
		}
		if !tc.allowed && got != "" {
			t.Fatalf("%s: should not be allowed, got=%q", tc.origin, got)
		}
	}
}
