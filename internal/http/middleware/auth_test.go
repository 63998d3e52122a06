package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/kidslab-backend/internal/platform/childauth"
	"github.com/yungbote/kidslab-backend/internal/platform/ctxutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

func authRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewAuthMiddleware(logger.NewNop(), secret).RequireChild())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, ctxutil.ChildID(c.Request.Context()))
	})
	return r
}

func TestRequireChild(t *testing.T) {
	secret := "s3cret"
	tok, err := childauth.Issue([]byte(secret), "child-9", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := []struct {
		name   string
		secret string
		header string
		query  string
		status int
		body   string
	}{
		{name: "disabled", status: http.StatusOK, body: AnonymousChild},
		{name: "missing", secret: secret, status: http.StatusUnauthorized},
		{name: "bearer", secret: secret, header: "Bearer " + tok, status: http.StatusOK, body: "child-9"},
		{name: "query", secret: secret, query: "?token=" + tok, status: http.StatusOK, body: "child-9"},
		{name: "garbage", secret: secret, header: "Bearer nope", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/whoami"+tc.query, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		authRouter(tc.secret).ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s: status want=%d got=%d body=%s", tc.name, tc.status, rec.Code, rec.Body.String())
		}
		if tc.body != "" && rec.Body.String() != tc.body {
			t.Fatalf("%s: body want=%q got=%q", tc.name, tc.body, rec.Body.String())
		}
	}
}
