package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssetStatus string

const (
	AssetStatusPending    AssetStatus = "pending"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusFailed     AssetStatus = "failed"
)

// Asset is one generated 3D object in a user's collection: the uploaded
// image, the segmented image the pipeline derives from it, and eventually the
// GLB mesh. GlbKey is non-null exactly when Status is ready; SegmentedImageKey
// is never cleared once set, even if mesh generation later fails.
type Asset struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID   `gorm:"type:uuid;not null;index" json:"user_id"`
	ImageKey          string      `gorm:"size:512;not null" json:"image_key"`
	SegmentedImageKey *string     `gorm:"size:512" json:"segmented_image_key,omitempty"`
	GlbKey            *string     `gorm:"size:512" json:"glb_key,omitempty"`
	Status            AssetStatus `gorm:"size:16;default:pending" json:"status"`
	Seed              int64       `json:"seed"`

	UploadedAt  time.Time  `json:"uploaded_at"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
