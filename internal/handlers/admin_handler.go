package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meshlift/backend/internal/services"
)

type AdminHandler struct {
	assetService *services.AssetService
	eventService *services.PipelineEventService
}

func NewAdminHandler(assetService *services.AssetService, eventService *services.PipelineEventService) *AdminHandler {
	return &AdminHandler{
		assetService: assetService,
		eventService: eventService,
	}
}

// ListPipelineEvents returns the pipeline event log
// GET /admin/pipeline/events?asset_id=&limit=&offset=
func (h *AdminHandler) ListPipelineEvents(c *gin.Context) {
	limit, offset := parsePagination(c)

	var assetID *uuid.UUID
	if v := c.Query("asset_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset_id"})
			return
		}
		assetID = &id
	}

	events, total, err := h.eventService.List(assetID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// PipelineStats returns event counts per stage plus process counters
// GET /admin/pipeline/stats
func (h *AdminHandler) PipelineStats(c *gin.Context) {
	counts, err := h.eventService.StageCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stage_counts":        counts,
		"mesh_anomalies":      h.eventService.Stats.MeshAnomalies.Load(),
		"background_failures": h.eventService.Stats.BackgroundFailures.Load(),
	})
}

// ListAssets returns assets across all users
// GET /admin/assets?limit=&offset=
func (h *AdminHandler) ListAssets(c *gin.Context) {
	limit, offset := parsePagination(c)

	assets, total, err := h.assetService.ListAllAssets(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve assets"})
		return
	}

	list := make([]gin.H, len(assets))
	for i := range assets {
		resp := assetResponse(&assets[i])
		resp["user_id"] = assets[i].UserID
		list[i] = resp
	}
	c.JSON(http.StatusOK, gin.H{
		"assets": list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
