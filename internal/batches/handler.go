package batches

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidya-academy/backend/pkg/response"
)

// Handler serves operator read endpoints for batches, sessions, and their
// recorded lessons.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a batches handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /batches.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.ListBatches(c.Request.Context())
	if err != nil {
		h.logger.Error("list batches failed", zap.Error(err))
		response.Internal(c, "failed to list batches")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /batches/:id. Sessions include meeting sync state so
// operators can see attempt counts and retry times.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid batch id")
		return
	}
	batch, err := h.repo.FindBatchByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get batch failed", zap.Error(err), zap.String("batch_id", id.String()))
		response.Internal(c, "failed to load batch")
		return
	}
	if batch == nil {
		response.NotFound(c, "batch not found")
		return
	}
	response.OK(c, batch)
}

// ListSessionLessons handles GET /sessions/:id/lessons.
func (h *Handler) ListSessionLessons(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	lessons, err := h.repo.ListLessonsBySession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list lessons failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to list lessons")
		return
	}
	response.OK(c, lessons)
}
