package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PipelineEvent records what happened to an asset inside the generation
// pipeline. Phase 2 runs with no caller to report to, so this log is the only
// place its failures and anomalies become visible.
type PipelineEvent struct {
	ID      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssetID *uuid.UUID `gorm:"type:uuid;index" json:"asset_id,omitempty"`
	Stage   string     `gorm:"size:32;not null;index" json:"stage"`
	Level   string     `gorm:"size:16;not null" json:"level"`
	Message string     `gorm:"size:512" json:"message"`
	Details string     `gorm:"type:text" json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (e *PipelineEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
