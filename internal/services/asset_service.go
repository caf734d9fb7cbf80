package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meshlift/backend/internal/config"
	"github.com/meshlift/backend/internal/models"
	"gorm.io/gorm"
)

// AssetService owns the per-user collection of asset records. All queries are
// user-scoped; an asset id from another user's collection behaves exactly
// like a missing record.
type AssetService struct {
	db      *gorm.DB
	cfg     *config.Config
	storage *StorageService
	s3      *S3Service // nil when no mirror is configured
}

func NewAssetService(db *gorm.DB, cfg *config.Config, storage *StorageService, s3 *S3Service) *AssetService {
	return &AssetService{db: db, cfg: cfg, storage: storage, s3: s3}
}

// CreateAsset inserts a new pending record for an accepted upload.
func (s *AssetService) CreateAsset(userID uuid.UUID, imageKey string, seed int64, uploadedAt time.Time) (*models.Asset, error) {
	asset := &models.Asset{
		UserID:     userID,
		ImageKey:   imageKey,
		Status:     models.AssetStatusPending,
		Seed:       seed,
		UploadedAt: uploadedAt,
	}
	if err := s.db.Create(asset).Error; err != nil {
		return nil, fmt.Errorf("failed to create asset record: %w", err)
	}
	return asset, nil
}

// GetAsset returns one asset from the user's collection.
func (s *AssetService) GetAsset(userID, assetID uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := s.db.First(&asset, "id = ? AND user_id = ?", assetID, userID).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListAssets returns the user's collection, newest first.
func (s *AssetService) ListAssets(userID uuid.UUID, limit, offset int) ([]models.Asset, int64, error) {
	var assets []models.Asset
	var total int64

	query := s.db.Model(&models.Asset{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&assets).Error; err != nil {
		return nil, 0, err
	}
	return assets, total, nil
}

// ListAllAssets returns assets across every user, newest first. Admin only.
func (s *AssetService) ListAllAssets(limit, offset int) ([]models.Asset, int64, error) {
	var assets []models.Asset
	var total int64

	if err := s.db.Model(&models.Asset{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := s.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&assets).Error; err != nil {
		return nil, 0, err
	}
	return assets, total, nil
}

// UpdateAssetFields merges a partial field map into the record. The record is
// matched fresh at update time; zero rows affected means it no longer exists
// (the user deleted it), reported as gorm.ErrRecordNotFound so Phase 2 can
// treat it as a legitimate outcome.
func (s *AssetService) UpdateAssetFields(userID, assetID uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now().UTC()
	tx := s.db.Model(&models.Asset{}).
		Where("id = ? AND user_id = ?", assetID, userID).
		Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAsset removes the record and every artifact it references. A second
// delete of the same id returns gorm.ErrRecordNotFound cleanly.
func (s *AssetService) DeleteAsset(ctx context.Context, userID, assetID uuid.UUID) error {
	asset, err := s.GetAsset(userID, assetID)
	if err != nil {
		return err
	}

	keys := []string{asset.ImageKey}
	if asset.SegmentedImageKey != nil {
		keys = append(keys, *asset.SegmentedImageKey)
	}
	if asset.GlbKey != nil {
		keys = append(keys, *asset.GlbKey)
	}
	for _, key := range keys {
		if err := s.storage.Delete(key); err != nil {
			log.Printf("Failed to delete artifact %s: %v", key, err)
		}
		if s.s3 != nil {
			if err := s.s3.DeleteArtifact(ctx, kindOfKey(key), key); err != nil {
				log.Printf("Failed to delete mirrored artifact %s: %v", key, err)
			}
		}
	}

	return s.db.Delete(&models.Asset{}, "id = ? AND user_id = ?", assetID, userID).Error
}

// kindOfKey recovers the namespace from a storage key prefix.
func kindOfKey(key string) ArtifactKind {
	switch {
	case strings.HasPrefix(key, string(ArtifactMesh)+"/"):
		return ArtifactMesh
	case strings.HasPrefix(key, string(ArtifactDiagnostic)+"/"):
		return ArtifactDiagnostic
	default:
		return ArtifactImage
	}
}
