package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/inkpress-backend/internal/http/middleware"
	"github.com/yungbote/inkpress-backend/internal/http/response"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/services"
)

type AuthHandler struct {
	log           *logger.Logger
	auth          services.AuthService
	cookieName    string
	secureCookies bool
}

func NewAuthHandler(baseLog *logger.Logger, auth services.AuthService, cookieName string, secureCookies bool) *AuthHandler {
	if cookieName == "" {
		cookieName = "inkpress_session"
	}
	return &AuthHandler{
		log:           baseLog.With("handler", "AuthHandler"),
		auth:          auth,
		cookieName:    cookieName,
		secureCookies: secureCookies,
	}
}

func (ah *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		PenName  string `json:"penName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	u, err := ah.auth.Register(c.Request.Context(), req.Email, req.Password, req.PenName)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"user": u})
}

func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"rememberMe"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, err)
		return
	}
	res, err := ah.auth.Login(c.Request.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	ah.setSessionCookie(c, res.SignedCookie, res.CookieMaxAge)
	response.RespondOK(c, gin.H{
		"user":         res.User,
		"access_token": res.AccessToken,
	})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(ah.cookieName); err == nil && cookie != "" {
		if err := ah.auth.Logout(c.Request.Context(), cookie); err != nil {
			ah.log.Warn("Session destroy failed", "error", err)
		}
	}
	ah.setSessionCookie(c, "", -1)
	response.RespondOK(c, gin.H{"ok": true})
}

func (ah *AuthHandler) Me(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, nil)
		return
	}
	response.RespondOK(c, gin.H{"user": u})
}

func (ah *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ah.cookieName, value, maxAge, "/", "", ah.secureCookies, true)
}
