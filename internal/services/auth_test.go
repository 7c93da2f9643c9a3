package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/session"
)

type fakeUserRepo struct {
	byID    map[uuid.UUID]*types.User
	byEmail map[string]*types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:    map[uuid.UUID]*types.User{},
		byEmail: map[string]*types.User{},
	}
}

func (f *fakeUserRepo) Create(dbc dbctx.Context, users []*types.User) ([]*types.User, error) {
	for _, u := range users {
		if _, taken := f.byEmail[u.Email]; taken {
			return nil, &pgconn.PgError{Code: "23505", ConstraintName: "idx_user_email"}
		}
	}
	for _, u := range users {
		f.byID[u.ID] = u
		f.byEmail[u.Email] = u
	}
	return users, nil
}

func (f *fakeUserRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.User, error) {
	return f.byID[id], nil
}

func (f *fakeUserRepo) GetByEmail(dbc dbctx.Context, email string) (*types.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeUserRepo) EmailExists(dbc dbctx.Context, email string) (bool, error) {
	_, ok := f.byEmail[email]
	return ok, nil
}

func (f *fakeUserRepo) UpdateTier(dbc dbctx.Context, id uuid.UUID, tier string) error {
	if u := f.byID[id]; u != nil {
		u.Tier = tier
	}
	return nil
}

func (f *fakeUserRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if u := f.byID[id]; u != nil {
		delete(f.byEmail, u.Email)
		delete(f.byID, id)
	}
	return nil
}

func newTestAuth(t *testing.T) (AuthService, *fakeUserRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	sessions, err := session.NewRedisStore(logg, rdb, 30*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	repo := newFakeUserRepo()
	auth, err := NewAuthService(logg, repo, sessions, "session-secret", "jwt-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return auth, repo
}

func TestRegisterLoginAndResolve(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	u, err := auth.Register(ctx, "Author@Example.com", "correct-horse", "A. Writer")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "author@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.Password == "correct-horse" {
		t.Fatal("password stored in clear")
	}
	if u.Tier != types.TierFree {
		t.Fatalf("tier = %q, want free", u.Tier)
	}

	res, err := auth.Login(ctx, "author@example.com", "correct-horse", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.SessionID == "" || res.AccessToken == "" {
		t.Fatalf("login result incomplete: %+v", res)
	}
	if !strings.HasPrefix(res.SignedCookie, res.SessionID+".") {
		t.Fatalf("cookie %q does not embed the session id", res.SignedCookie)
	}
	if res.CookieMaxAge != int((30 * time.Minute).Seconds()) {
		t.Fatalf("CookieMaxAge = %d, want 1800", res.CookieMaxAge)
	}

	got, err := auth.ResolveSession(ctx, res.SignedCookie)
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("session resolved to %v, want %v", got.ID, u.ID)
	}

	got, err = auth.ResolveAccessToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("ResolveAccessToken: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("token resolved to %v, want %v", got.ID, u.ID)
	}

	if err := auth.Logout(ctx, res.SignedCookie); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := auth.ResolveSession(ctx, res.SignedCookie); !apierr.HasCode(err, apierr.CodeUnauthorized) {
		t.Fatalf("ResolveSession after logout = %v, want unauthorized", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "a@b.co", "password123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := auth.Login(ctx, "a@b.co", "wrong-password", false); !apierr.HasCode(err, apierr.CodeUnauthorized) {
		t.Fatalf("wrong password = %v, want unauthorized", err)
	}
	if _, err := auth.Login(ctx, "nobody@b.co", "password123", false); !apierr.HasCode(err, apierr.CodeUnauthorized) {
		t.Fatalf("unknown email = %v, want unauthorized", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "not-an-email", "password123", ""); !apierr.HasCode(err, apierr.CodeValidation) {
		t.Fatalf("bad email = %v, want validation error", err)
	}
	if _, err := auth.Register(ctx, "a@b.co", "short", ""); !apierr.HasCode(err, apierr.CodeValidation) {
		t.Fatalf("short password = %v, want validation error", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "dup@b.co", "password123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := auth.Register(ctx, "dup@b.co", "password456", ""); !apierr.HasCode(err, apierr.CodeConflict) {
		t.Fatalf("duplicate email = %v, want conflict", err)
	}
}

func TestResolveSessionRejectsTampering(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "a@b.co", "password123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res, err := auth.Login(ctx, "a@b.co", "password123", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	tampered := res.SignedCookie[:len(res.SignedCookie)-1]
	if strings.HasSuffix(res.SignedCookie, "0") {
		tampered += "1"
	} else {
		tampered += "0"
	}
	if _, err := auth.ResolveSession(ctx, tampered); !apierr.HasCode(err, apierr.CodeUnauthorized) {
		t.Fatalf("tampered cookie = %v, want unauthorized", err)
	}

	if _, err := auth.ResolveAccessToken(ctx, res.AccessToken+"x"); !apierr.HasCode(err, apierr.CodeUnauthorized) {
		t.Fatalf("tampered token = %v, want unauthorized", err)
	}
}
