package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/requestdata"
	"github.com/edforge/edforge-backend/internal/services"
)

type GenerationHandler struct {
	log *logger.Logger
	svc services.GenerationService
}

func NewGenerationHandler(log *logger.Logger, svc services.GenerationService) *GenerationHandler {
	return &GenerationHandler{
		log: log.With("handler", "GenerationHandler"),
		svc: svc,
	}
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// POST /api/generations
func (h *GenerationHandler) Create(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var in services.StartInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	gen, err := h.svc.Start(c.Request.Context(), userID, in)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInput):
			RespondError(c, http.StatusBadRequest, "invalid_request", err)
		case errors.Is(err, services.ErrBudgetExhausted):
			RespondError(c, http.StatusPaymentRequired, "budget_exhausted", err)
		case errors.Is(err, services.ErrNotFound):
			RespondError(c, http.StatusNotFound, "user_not_found", err)
		default:
			h.log.Error("start generation failed", "error", err, "user_id", userID.String())
			RespondError(c, http.StatusInternalServerError, "start_failed", err)
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"generation": gen})
}

// POST /api/generations/:id/retry
func (h *GenerationHandler) Retry(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !h.authorize(c, id, userID) {
		return
	}
	gen, err := h.svc.Retry(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			RespondError(c, http.StatusNotFound, "not_found", err)
		case errors.Is(err, services.ErrNotRetryable):
			RespondError(c, http.StatusConflict, "not_retryable", err)
		default:
			h.log.Error("retry failed", "error", err, "generation_id", id.String())
			RespondError(c, http.StatusInternalServerError, "retry_failed", err)
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"generation": gen})
}

// POST /api/generations/:id/stop
func (h *GenerationHandler) Stop(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !h.authorize(c, id, userID) {
		return
	}
	if err := h.svc.Stop(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		h.log.Error("stop failed", "error", err, "generation_id", id.String())
		RespondError(c, http.StatusInternalServerError, "stop_failed", err)
		return
	}
	RespondOK(c, gin.H{"message": "stopping"})
}

// GET /api/generations/:id
func (h *GenerationHandler) Get(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	gen, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		h.log.Error("get generation failed", "error", err, "generation_id", id.String())
		RespondError(c, http.StatusInternalServerError, "get_failed", err)
		return
	}
	if gen.UserID != userID {
		RespondError(c, http.StatusForbidden, "forbidden", errors.New("not your generation"))
		return
	}
	RespondOK(c, gin.H{"generation": gen})
}

// GET /api/generations
func (h *GenerationHandler) List(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	gens, err := h.svc.List(c.Request.Context(), userID, limit)
	if err != nil {
		h.log.Error("list generations failed", "error", err, "user_id", userID.String())
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"generations": gens})
}

// GET /api/generations/:id/logs
func (h *GenerationHandler) Logs(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if !h.authorize(c, id, userID) {
		return
	}
	entries, err := h.svc.Logs(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		h.log.Error("list logs failed", "error", err, "generation_id", id.String())
		RespondError(c, http.StatusInternalServerError, "logs_failed", err)
		return
	}
	RespondOK(c, gin.H{"logs": entries})
}

// authorize confirms the generation belongs to the caller.
func (h *GenerationHandler) authorize(c *gin.Context, id, userID uuid.UUID) bool {
	gen, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return false
		}
		h.log.Error("ownership check failed", "error", err, "generation_id", id.String())
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return false
	}
	if gen.UserID != userID {
		RespondError(c, http.StatusForbidden, "forbidden", errors.New("not your generation"))
		return false
	}
	return true
}
