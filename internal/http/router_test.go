package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/kidslab-backend/internal/http/handlers"
	httpMW "github.com/yungbote/kidslab-backend/internal/http/middleware"
	"github.com/yungbote/kidslab-backend/internal/platform/childauth"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

func TestRouterProtectsAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	r := NewRouter(RouterConfig{
		Log:            log,
		AuthMiddleware: httpMW.NewAuthMiddleware(log, "s3cret"),
		HealthHandler:  httpH.NewHealthHandler(nil),
		RunsHandler:    httpH.NewRunsHandler(log, nil),
	})

	get := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := get("/healthcheck", ""); code != http.StatusOK {
		t.Fatalf("healthcheck: %d", code)
	}
	if code := get("/api/runs", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	token, err := childauth.Issue([]byte("s3cret"), "child-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// The run store is disabled in this router, so an authorized call reaches
	// the handler and reports that.
	if code := get("/api/runs", token); code != http.StatusNotImplemented {
		t.Fatalf("with token: %d", code)
	}
	if code := get("/metrics", ""); code != http.StatusNotFound {
		t.Fatalf("metrics should not be routed when disabled: %d", code)
	}
}
