package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/inkpress-backend/internal/http/middleware"
	"github.com/yungbote/inkpress-backend/internal/http/response"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/services"
)

type ManuscriptHandler struct {
	log         *logger.Logger
	manuscripts services.ManuscriptService
	maxFileSize int64
}

func NewManuscriptHandler(baseLog *logger.Logger, manuscripts services.ManuscriptService, maxFileSize int64) *ManuscriptHandler {
	if maxFileSize <= 0 {
		maxFileSize = 50 << 20
	}
	return &ManuscriptHandler{
		log:         baseLog.With("handler", "ManuscriptHandler"),
		manuscripts: manuscripts,
		maxFileSize: maxFileSize,
	}
}

// Upload accepts one manuscript file plus optional title and genre fields.
func (h *ManuscriptHandler) Upload(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, nil)
		return
	}

	// Bound the whole request before the multipart parse touches it; the
	// slack covers field boundaries around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+1<<20)
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, fmt.Errorf("invalid multipart form: %w", err))
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, fmt.Errorf("missing file field"))
		return
	}
	if fh.Size > h.maxFileSize {
		response.RespondError(c, http.StatusRequestEntityTooLarge, apierr.CodeValidation,
			fmt.Errorf("file exceeds the %d byte limit", h.maxFileSize))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondFromError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.RespondFromError(c, fmt.Errorf("read upload: %w", err))
		return
	}

	m, err := h.manuscripts.Upload(c.Request.Context(), u.ID, services.UploadInput{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
		Title:       strings.TrimSpace(c.PostForm("title")),
		Genre:       strings.TrimSpace(c.PostForm("genre")),
	})
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"manuscript": m})
}

func (h *ManuscriptHandler) List(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, nil)
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	out, err := h.manuscripts.List(c.Request.Context(), u.ID, limit)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"manuscripts": out})
}

func (h *ManuscriptHandler) Get(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation, fmt.Errorf("invalid manuscript id"))
		return
	}
	m, err := h.manuscripts.Get(c.Request.Context(), u, id)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"manuscript": m})
}
