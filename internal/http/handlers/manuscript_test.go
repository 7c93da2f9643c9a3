package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/http/middleware"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
)

func manuscriptRouter(t *testing.T, u *types.User, svc *fakeManuscripts, maxFileSize int64) *gin.Engine {
	t.Helper()
	h := NewManuscriptHandler(newTestLogger(t), svc, maxFileSize)
	am := middleware.NewAuthMiddleware(newTestLogger(t), &fakeAuth{user: u}, "")

	r := gin.New()
	api := r.Group("/api", am.RequireAuth())
	api.POST("/manuscripts", h.Upload)
	api.GET("/manuscripts", h.List)
	api.GET("/manuscripts/:id", h.Get)
	return r
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, w.FormDataContentType()
}

func TestUploadAcceptsManuscript(t *testing.T) {
	t.Parallel()
	u := &types.User{ID: uuid.New(), Tier: types.TierFree}
	svc := &fakeManuscripts{}
	r := manuscriptRouter(t, u, svc, 0)

	body, contentType := multipartUpload(t, "novel.txt", "It was a dark and stormy night.",
		map[string]string{"title": "Storm Season", "genre": "thriller"})
	req := httptest.NewRequest(http.MethodPost, "/api/manuscripts", body)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if len(svc.uploads) != 1 {
		t.Fatalf("unexpected upload count: got=%d want=1", len(svc.uploads))
	}
	in := svc.uploads[0]
	if in.Filename != "novel.txt" || in.Title != "Storm Season" || in.Genre != "thriller" {
		t.Fatalf("upload input lost fields: %+v", in)
	}
	if string(in.Data) != "It was a dark and stormy night." {
		t.Fatalf("upload data altered: %q", in.Data)
	}

	var out struct {
		Manuscript *types.Manuscript `json:"manuscript"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if out.Manuscript == nil || out.Manuscript.UserID != u.ID {
		t.Fatalf("unexpected manuscript in response: %+v", out.Manuscript)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	t.Parallel()
	u := &types.User{ID: uuid.New(), Tier: types.TierFree}
	r := manuscriptRouter(t, u, &fakeManuscripts{}, 0)

	body, contentType := multipartUpload(t, "", "", map[string]string{"title": "No File"})
	req := httptest.NewRequest(http.MethodPost, "/api/manuscripts", body)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestUploadRejectsOversizeFile(t *testing.T) {
	t.Parallel()
	u := &types.User{ID: uuid.New(), Tier: types.TierFree}
	svc := &fakeManuscripts{}
	r := manuscriptRouter(t, u, svc, 64) // 64 byte cap

	body, contentType := multipartUpload(t, "big.txt", strings.Repeat("x", 200), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/manuscripts", body)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if len(svc.uploads) != 0 {
		t.Fatalf("oversize upload reached the service")
	}
}

func TestListCapsLimit(t *testing.T) {
	t.Parallel()
	u := &types.User{ID: uuid.New(), Tier: types.TierFree}
	svc := &fakeManuscripts{}
	r := manuscriptRouter(t, u, svc, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/manuscripts?limit=9999", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastLimit != 50 {
		t.Fatalf("out-of-range limit must fall back to default: got=%d", svc.lastLimit)
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	t.Parallel()
	u := &types.User{ID: uuid.New(), Tier: types.TierFree}
	r := manuscriptRouter(t, u, &fakeManuscripts{}, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/manuscripts/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	t.Parallel()
	owner := uuid.New()
	m := &types.Manuscript{ID: uuid.New(), UserID: owner, Title: "Private Draft"}
	svc := &fakeManuscripts{byID: map[uuid.UUID]*types.Manuscript{m.ID: m}}

	u := &types.User{ID: uuid.New(), Tier: types.TierFree}
	r := manuscriptRouter(t, u, svc, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/manuscripts/"+m.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusForbidden)
	}

	admin := &types.User{ID: uuid.New(), Tier: types.TierAdmin}
	ar := manuscriptRouter(t, admin, svc, 0)
	req = httptest.NewRequest(http.MethodGet, "/api/manuscripts/"+m.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec = httptest.NewRecorder()
	ar.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("admin read should pass: got=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUploadSurfacesValidationError(t *testing.T) {
	t.Parallel()
	u := &types.User{ID: uuid.New(), Tier: types.TierFree}
	svc := &fakeManuscripts{uploadErr: apierr.Validation(fmt.Errorf("unsupported manuscript type"))}
	r := manuscriptRouter(t, u, svc, 0)

	body, contentType := multipartUpload(t, "novel.docx", "binary", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/manuscripts", body)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}
