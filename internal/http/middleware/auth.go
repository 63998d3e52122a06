package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/kidslab-backend/internal/http/response"
	"github.com/yungbote/kidslab-backend/internal/platform/apierr"
	"github.com/yungbote/kidslab-backend/internal/platform/childauth"
	"github.com/yungbote/kidslab-backend/internal/platform/ctxutil"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

// AnonymousChild is the caller id used when token auth is disabled.
const AnonymousChild = "anonymous"

var errMissingToken = errors.New("missing or invalid token")

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

// NewAuthMiddleware with an empty secret lets every request through as
// AnonymousChild.
func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("Middleware", "AuthMiddleware"), secret: []byte(secret)}
}

func (am *AuthMiddleware) Enabled() bool { return len(am.secret) > 0 }

func (am *AuthMiddleware) RequireChild() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &ctxutil.RequestData{ChildID: AnonymousChild}
		if am.Enabled() {
			tokenString := extractToken(c)
			if tokenString == "" {
				response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, errMissingToken)
				c.Abort()
				return
			}
			childID, err := childauth.Verify(am.secret, tokenString)
			if err != nil {
				am.log.Debug("child token rejected", "error", err)
				response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, err)
				c.Abort()
				return
			}
			rd = &ctxutil.RequestData{ChildID: childID, TokenString: tokenString}
		}
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

// extractToken accepts a bearer header or ?token= (EventSource cannot set headers).
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}
