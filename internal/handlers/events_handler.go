package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/middleware"
	"github.com/rescuelink/backend/internal/models"
)

// EventsHandler publishes dashboard-facing events that have no other producer
// in this service.
type EventsHandler struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewEventsHandler(publisher Publisher, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		publisher: publisher,
		logger:    logger.With(zap.String("component", "events_api")),
	}
}

type NoticeRequest struct {
	Message string `json:"message" binding:"required,max=500"`
}

// PublishNotice broadcasts a system notice to every dashboard
func (h *EventsHandler) PublishNotice(c *gin.Context) {
	var req NoticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.publisher.PublishPayload(c.Request.Context(), models.EventSystemNotice, models.SystemNoticePayload{Message: req.Message}); err != nil {
		h.logger.Error("publish notice failed", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to publish notice")
		return
	}
	c.Status(http.StatusAccepted)
}

type OperatorStatusRequest struct {
	Status  string `json:"status" binding:"required,oneof=available busy away offline"`
	CallSID string `json:"callSid"`
}

// UpdateOperatorStatus announces the calling operator's availability
func (h *EventsHandler) UpdateOperatorStatus(c *gin.Context) {
	var req OperatorStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	payload := models.OperatorStatusPayload{
		OperatorID: c.GetString(middleware.ContextUserID),
		Status:     req.Status,
		CallSID:    req.CallSID,
	}
	if err := h.publisher.PublishPayload(c.Request.Context(), models.EventOperatorStatusChanged, payload); err != nil {
		h.logger.Error("publish operator status failed", zap.String("operator_id", payload.OperatorID), zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to publish status")
		return
	}
	c.Status(http.StatusAccepted)
}
