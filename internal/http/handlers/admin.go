package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/inkpress-backend/internal/costs"
	"github.com/yungbote/inkpress-backend/internal/http/response"
	"github.com/yungbote/inkpress-backend/internal/pipeline"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/queue"
)

// AdminHandler serves the operator-only surface: spend reporting and queue
// health. Routes using it sit behind RequireAdmin.
type AdminHandler struct {
	log    *logger.Logger
	ledger costs.Ledger
	queue  queue.Queue
	queues []string
}

func NewAdminHandler(baseLog *logger.Logger, ledger costs.Ledger, q queue.Queue) *AdminHandler {
	return &AdminHandler{
		log:    baseLog.With("handler", "AdminHandler"),
		ledger: ledger,
		queue:  q,
		queues: []string{pipeline.QueueAnalysis},
	}
}

// Costs reports monthly spend. ?month=YYYY-MM selects a month (default
// current); ?user_id= switches to that user's recent entries instead.
func (h *AdminHandler) Costs(c *gin.Context) {
	if rawUser := strings.TrimSpace(c.Query("user_id")); rawUser != "" {
		userID, err := uuid.Parse(rawUser)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
				fmt.Errorf("malformed user_id"))
			return
		}
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		if limit > 500 {
			limit = 500
		}
		entries, err := h.ledger.ListByUser(c.Request.Context(), userID, limit)
		if err != nil {
			response.RespondFromError(c, fmt.Errorf("list user costs: %w", err))
			return
		}
		response.RespondOK(c, gin.H{"user_id": userID, "entries": entries})
		return
	}

	month := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("month")); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, apierr.CodeValidation,
				fmt.Errorf("month must be YYYY-MM"))
			return
		}
		month = parsed
	}
	summary, err := h.ledger.Summary(c.Request.Context(), month)
	if err != nil {
		response.RespondFromError(c, fmt.Errorf("cost summary: %w", err))
		return
	}
	response.RespondOK(c, summary)
}

// QueueStats reports depth counters for every known queue.
func (h *AdminHandler) QueueStats(c *gin.Context) {
	out := make(map[string]*queue.Stats, len(h.queues))
	for _, name := range h.queues {
		stats, err := h.queue.Stats(c.Request.Context(), name)
		if err != nil {
			response.RespondError(c, http.StatusServiceUnavailable, apierr.CodeQueueUnavailable, err)
			return
		}
		out[name] = stats
	}
	response.RespondOK(c, gin.H{"queues": out})
}
