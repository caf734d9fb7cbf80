package services

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/meshlift/backend/internal/config"
	"github.com/meshlift/backend/internal/models"
	"gorm.io/gorm"
)

// Pipeline event levels.
const (
	EventLevelInfo  = "info"
	EventLevelWarn  = "warn"
	EventLevelError = "error"
)

// Pipeline stages as recorded in events.
const (
	StageUpload    = "upload"
	StageSegment   = "segment"
	StageSeed      = "seed"
	StageMesh      = "mesh"
	StageNormalize = "normalize"
	StageStore     = "store"
	StageQueue     = "queue"
)

// PipelineStats are in-process counters surfaced alongside the event log.
type PipelineStats struct {
	MeshAnomalies      atomic.Int64
	BackgroundFailures atomic.Int64
}

// PipelineEventService records pipeline events to the database. Phase 2 has
// no user-facing error channel, so this log is where its outcomes land.
// Recording is best-effort: a failed insert is logged and swallowed.
type PipelineEventService struct {
	db    *gorm.DB
	cfg   *config.Config
	Stats PipelineStats
}

func NewPipelineEventService(db *gorm.DB, cfg *config.Config) *PipelineEventService {
	return &PipelineEventService{db: db, cfg: cfg}
}

// Record stores one pipeline event.
func (s *PipelineEventService) Record(assetID *uuid.UUID, stage, level, message string, details map[string]interface{}) {
	detailsJSON := ""
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			detailsJSON = string(data)
		}
	}

	event := &models.PipelineEvent{
		AssetID: assetID,
		Stage:   stage,
		Level:   level,
		Message: message,
		Details: detailsJSON,
	}
	if err := s.db.Create(event).Error; err != nil {
		log.Printf("Failed to record pipeline event (%s/%s): %v", stage, level, err)
	}
}

// List returns events newest first, optionally filtered to one asset.
func (s *PipelineEventService) List(assetID *uuid.UUID, limit, offset int) ([]models.PipelineEvent, int64, error) {
	var events []models.PipelineEvent
	var total int64

	query := s.db.Model(&models.PipelineEvent{})
	if assetID != nil {
		query = query.Where("asset_id = ?", *assetID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// StageCounts aggregates events by stage and level.
func (s *PipelineEventService) StageCounts() (map[string]int64, error) {
	type row struct {
		Stage string
		Level string
		N     int64
	}
	var rows []row
	err := s.db.Model(&models.PipelineEvent{}).
		Select("stage, level, count(*) as n").
		Group("stage, level").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Stage+":"+r.Level] = r.N
	}
	return counts, nil
}

// Prune deletes events older than the configured retention window and
// returns how many were removed.
func (s *PipelineEventService) Prune() (int64, error) {
	cutoff := time.Now().Add(-s.cfg.EventRetention)
	tx := s.db.Where("created_at < ?", cutoff).Delete(&models.PipelineEvent{})
	return tx.RowsAffected, tx.Error
}
