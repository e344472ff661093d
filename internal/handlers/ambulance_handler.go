package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/models"
)

type AmbulanceStore interface {
	List(ctx context.Context) ([]*models.Ambulance, error)
	Track(ctx context.Context, ambulanceID uuid.UUID, limit int) ([]models.LocationRecord, error)
}

type AmbulanceHandler struct {
	store  AmbulanceStore
	logger *zap.Logger
}

func NewAmbulanceHandler(store AmbulanceStore, logger *zap.Logger) *AmbulanceHandler {
	return &AmbulanceHandler{
		store:  store,
		logger: logger.With(zap.String("component", "ambulance_api")),
	}
}

// ListAmbulances returns the fleet with current positions
func (h *AmbulanceHandler) ListAmbulances(c *gin.Context) {
	ambulances, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list ambulances failed", zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to list ambulances")
		return
	}
	if ambulances == nil {
		ambulances = []*models.Ambulance{}
	}
	c.JSON(http.StatusOK, gin.H{"ambulances": ambulances})
}

// GetTrack returns recent location records, newest first
func (h *AmbulanceHandler) GetTrack(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	records, err := h.store.Track(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Error("get track failed", zap.String("ambulance_id", id.String()), zap.Error(err))
		ErrorResponse(c, http.StatusInternalServerError, "Failed to get track")
		return
	}
	if records == nil {
		records = []models.LocationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"ambulanceId": id, "locations": records})
}
