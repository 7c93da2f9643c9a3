package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	userrepo "github.com/yungbote/inkpress-backend/internal/data/repos/user"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/session"
)

const minPasswordLen = 8

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type JWTClaims struct {
	jwt.RegisteredClaims
}

// LoginResult carries everything ingress needs to establish both credential
// forms: the signed cookie for browsers and the bearer token for API clients.
type LoginResult struct {
	User         *types.User
	SessionID    string
	SignedCookie string
	CookieMaxAge int
	AccessToken  string
}

type AuthService interface {
	Register(ctx context.Context, email, password, penName string) (*types.User, error)
	Login(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error)
	Logout(ctx context.Context, signedCookie string) error

	// ResolveSession authenticates a signed session cookie. Forged
	// signatures are rejected before the store is consulted.
	ResolveSession(ctx context.Context, signedCookie string) (*types.User, error)

	// ResolveAccessToken authenticates a bearer JWT.
	ResolveAccessToken(ctx context.Context, tokenString string) (*types.User, error)
}

type authService struct {
	log           *logger.Logger
	userRepo      userrepo.UserRepo
	sessions      session.Store
	sessionSecret string
	jwtSecretKey  string
	accessTTL     time.Duration
}

func NewAuthService(
	baseLog *logger.Logger,
	userRepo userrepo.UserRepo,
	sessions session.Store,
	sessionSecret string,
	jwtSecretKey string,
	accessTTL time.Duration,
) (AuthService, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if userRepo == nil {
		return nil, fmt.Errorf("userRepo is nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is nil")
	}
	if strings.TrimSpace(sessionSecret) == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if strings.TrimSpace(jwtSecretKey) == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &authService{
		log:           baseLog.With("service", "AuthService"),
		userRepo:      userRepo,
		sessions:      sessions,
		sessionSecret: sessionSecret,
		jwtSecretKey:  jwtSecretKey,
		accessTTL:     accessTTL,
	}, nil
}

func (as *authService) Register(ctx context.Context, email, password, penName string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	penName = strings.TrimSpace(penName)

	if !emailPattern.MatchString(email) {
		return nil, apierr.Validation(fmt.Errorf("invalid email address"))
	}
	if len(password) < minPasswordLen {
		return nil, apierr.Validation(fmt.Errorf("password must be at least %d characters", minPasswordLen))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &types.User{
		ID:       uuid.New(),
		Email:    email,
		Password: string(hashed),
		PenName:  penName,
		Tier:     types.TierFree,
	}
	if _, err := as.userRepo.Create(dbctx.Context{Ctx: ctx}, []*types.User{u}); err != nil {
		if userrepo.IsUniqueViolation(err) {
			return nil, apierr.Conflict(fmt.Errorf("email already registered"))
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	as.log.Info("User registered", "user_id", u.ID.String(), "tier", u.Tier)
	return u, nil
}

func (as *authService) Login(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := as.userRepo.GetByEmail(dbctx.Context{Ctx: ctx}, email)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, apierr.Unauthorized(fmt.Errorf("invalid email or password"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, apierr.Unauthorized(fmt.Errorf("invalid email or password"))
	}

	sessionID, sess, err := as.sessions.Create(ctx, u.ID, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	accessToken, err := as.generateAccessToken(u)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	return &LoginResult{
		User:         u,
		SessionID:    sessionID,
		SignedCookie: session.Sign(as.sessionSecret, sessionID),
		CookieMaxAge: int(sess.ExpiresAt.Sub(sess.CreatedAt).Seconds()),
		AccessToken:  accessToken,
	}, nil
}

func (as *authService) Logout(ctx context.Context, signedCookie string) error {
	id, ok := session.Verify(as.sessionSecret, signedCookie)
	if !ok {
		return nil
	}
	return as.sessions.Destroy(ctx, id)
}

func (as *authService) ResolveSession(ctx context.Context, signedCookie string) (*types.User, error) {
	id, ok := session.Verify(as.sessionSecret, signedCookie)
	if !ok {
		return nil, apierr.Unauthorized(fmt.Errorf("invalid session cookie"))
	}
	sess, err := as.sessions.Get(ctx, id)
	if err == session.ErrNotFound {
		return nil, apierr.Unauthorized(fmt.Errorf("session expired"))
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	u, err := as.userRepo.GetByID(dbctx.Context{Ctx: ctx}, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, apierr.Unauthorized(fmt.Errorf("session user no longer exists"))
	}
	return u, nil
}

func (as *authService) ResolveAccessToken(ctx context.Context, tokenString string) (*types.User, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return nil, apierr.Unauthorized(fmt.Errorf("invalid access token: %w", err))
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return nil, apierr.Unauthorized(fmt.Errorf("invalid or expired access token"))
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apierr.Unauthorized(fmt.Errorf("invalid subject in access token"))
	}
	u, err := as.userRepo.GetByID(dbctx.Context{Ctx: ctx}, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, apierr.Unauthorized(fmt.Errorf("token user no longer exists"))
	}
	return u, nil
}

func (as *authService) generateAccessToken(u *types.User) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}
