package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/http/response"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/ctxutil"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/services"
)

const userKey = "auth_user"

type AuthMiddleware struct {
	log        *logger.Logger
	auth       services.AuthService
	cookieName string
}

func NewAuthMiddleware(baseLog *logger.Logger, auth services.AuthService, cookieName string) *AuthMiddleware {
	if cookieName == "" {
		cookieName = "inkpress_session"
	}
	return &AuthMiddleware{
		log:        baseLog.With("middleware", "AuthMiddleware"),
		auth:       auth,
		cookieName: cookieName,
	}
}

// RequireAuth authenticates the session cookie first, then a bearer token.
// Browser traffic rides the cookie; API clients and download links use the
// token form.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := am.resolve(c)
		if err != nil {
			response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, err)
			c.Abort()
			return
		}
		c.Set(userKey, u)
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: u.ID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin layers on RequireAuth; mount it after.
func (am *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok || !u.IsAdmin() {
			response.RespondError(c, http.StatusForbidden, apierr.CodeForbidden, fmt.Errorf("admin only"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (am *AuthMiddleware) resolve(c *gin.Context) (*types.User, error) {
	if cookie, err := c.Cookie(am.cookieName); err == nil && cookie != "" {
		u, err := am.auth.ResolveSession(c.Request.Context(), cookie)
		if err == nil {
			return u, nil
		}
		am.log.Debug("Session cookie rejected", "error", err)
	}
	if token := extractToken(c); token != "" {
		return am.auth.ResolveAccessToken(c.Request.Context(), token)
	}
	return nil, fmt.Errorf("missing credentials")
}

// CurrentUser returns the user RequireAuth stored on the gin context.
func CurrentUser(c *gin.Context) (*types.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*types.User)
	return u, ok && u != nil
}

func extractToken(c *gin.Context) string {
	if q := c.Query("token"); q != "" {
		return q
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}
