package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/models"
	"github.com/rescuelink/backend/internal/tracking"
)

// DispatchService assigns and cancels dispatches.
type DispatchService interface {
	Dispatch(ctx context.Context, dispatchID uuid.UUID) (*tracking.Assignment, error)
	Cancel(ctx context.Context, dispatchID uuid.UUID) (*models.Dispatch, error)
}

type DispatchStore interface {
	Create(ctx context.Context, d *models.Dispatch) error
	ListActive(ctx context.Context) ([]*models.Dispatch, error)
}

type Publisher interface {
	PublishPayload(ctx context.Context, name string, payload interface{}) error
}

type DispatchHandler struct {
	service   DispatchService
	store     DispatchStore
	publisher Publisher
	logger    *zap.Logger
}

func NewDispatchHandler(service DispatchService, store DispatchStore, publisher Publisher, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{
		service:   service,
		store:     store,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "dispatch_api")),
	}
}

type CreateDispatchRequest struct {
	Reference string  `json:"dispatchId" binding:"required"`
	Priority  int     `json:"priority" binding:"required,min=1,max=5"`
	Lat       float64 `json:"lat" binding:"min=-90,max=90"`
	Lng       float64 `json:"lng" binding:"min=-180,max=180"`
}

// CreateDispatch records a new pending dispatch
func (h *DispatchHandler) CreateDispatch(c *gin.Context) {
	var req CreateDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	d := &models.Dispatch{
		Reference: req.Reference,
		Priority:  req.Priority,
		Status:    models.DispatchPending,
		Location:  models.LatLng{Lat: req.Lat, Lng: req.Lng},
	}
	if err := h.store.Create(c.Request.Context(), d); err != nil {
		h.logger.Error("create dispatch failed", zap.String("reference", req.Reference), zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to create dispatch")
		return
	}

	if err := h.publisher.PublishPayload(c.Request.Context(), models.EventDispatchCreated, models.DispatchStatusPayload{
		DispatchID: d.ID,
		Reference:  d.Reference,
		Status:     d.Status,
	}); err != nil {
		h.logger.Warn("publish dispatch.created failed", zap.String("dispatch_id", d.ID.String()), zap.Error(err))
	}

	c.JSON(http.StatusCreated, d)
}

// ListActive returns dispatches that are still open
func (h *DispatchHandler) ListActive(c *gin.Context) {
	dispatches, err := h.store.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Error("list dispatches failed", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list dispatches")
		return
	}
	if dispatches == nil {
		dispatches = []*models.Dispatch{}
	}
	c.JSON(http.StatusOK, gin.H{"dispatches": dispatches})
}

// AssignAmbulance picks the nearest available ambulance and starts its movement
func (h *DispatchHandler) AssignAmbulance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	assignment, err := h.service.Dispatch(c.Request.Context(), id)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("assign ambulance failed", zap.String("dispatch_id", id.String()), zap.Error(err))
		}
		ErrorResponse(c, status, err.Error())
		return
	}

	c.JSON(http.StatusOK, assignment)
}

// CancelDispatch cancels a dispatch and recalls its ambulance
func (h *DispatchHandler) CancelDispatch(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	d, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("cancel dispatch failed", zap.String("dispatch_id", id.String()), zap.Error(err))
		}
		ErrorResponse(c, status, err.Error())
		return
	}

	c.JSON(http.StatusOK, d)
}
