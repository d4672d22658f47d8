package recsync

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidya-academy/backend/pkg/response"
)

// Handler exposes the manual sync trigger for admin tooling.
type Handler struct {
	scanner *Scanner
	logger  *zap.Logger
}

// NewHandler creates the sync trigger handler.
func NewHandler(scanner *Scanner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{scanner: scanner, logger: logger}
}

type triggerRequest struct {
	BatchID string `json:"batch_id"`
}

// TriggerSync handles POST /admin/recordings/sync. With a batch_id (body or
// query) only that batch is processed and exhausted retry counters are reset;
// without one it behaves like the periodic full scan. Runs synchronously.
func (h *Handler) TriggerSync(c *gin.Context) {
	var body triggerRequest
	_ = c.ShouldBindJSON(&body) // empty body = full scan
	if body.BatchID == "" {
		body.BatchID = c.Query("batch_id")
	}

	if body.BatchID == "" {
		h.logger.Info("manual full recording scan triggered")
		h.scanner.ScanAll(c.Request.Context())
		response.OK(c, gin.H{"scope": "all"})
		return
	}

	batchID, err := uuid.Parse(body.BatchID)
	if err != nil {
		response.BadRequest(c, "invalid batch_id")
		return
	}
	h.logger.Info("manual batch recording sync triggered", zap.String("batch_id", batchID.String()))
	if err := h.scanner.ScanBatch(c.Request.Context(), batchID, true); err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.OK(c, gin.H{"scope": "batch", "batch_id": batchID})
}
