package services

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/meshlift/backend/internal/config"
	"github.com/meshlift/backend/internal/models"
	"github.com/meshlift/backend/internal/pkg/genpayload"
	"github.com/meshlift/backend/internal/pkg/imaging"
	"github.com/meshlift/backend/internal/pkg/sniff"
	"github.com/meshlift/backend/internal/queue"
	"gorm.io/gorm"
)

// ErrUnsupportedImageFormat rejects uploads that are not PNG or JPEG.
var ErrUnsupportedImageFormat = errors.New("unsupported image format, expected PNG or JPEG")

// MeshEnqueuer schedules Phase 2 of the pipeline. Satisfied by queue.Client;
// tests substitute a stub.
type MeshEnqueuer interface {
	EnqueueGenerateMesh(ctx context.Context, p queue.GenerateMeshPayload) error
}

// GenerationParams is the caller-facing parameter bag for one generation.
// Zero-valued numeric fields are filled from configured defaults.
type GenerationParams struct {
	Seed           *uint32
	RandomizeSeed  bool
	NumSteps       int
	CfgScale       float64
	GridRes        int
	SimplifyMesh   bool
	TargetNumFaces int
}

func (p *GenerationParams) applyDefaults(cfg *config.Config) {
	if p.NumSteps <= 0 {
		p.NumSteps = cfg.GenNumSteps
	}
	if p.CfgScale <= 0 {
		p.CfgScale = cfg.GenCfgScale
	}
	if p.GridRes <= 0 {
		p.GridRes = cfg.GenGridRes
	}
	if p.TargetNumFaces <= 0 {
		p.TargetNumFaces = cfg.GenTargetNumFaces
	}
}

// StartResult is what the upload endpoint replies with.
type StartResult struct {
	Asset *models.Asset
}

// GenerationService sequences the image-to-mesh pipeline. Phase 1
// (StartGeneration) runs synchronously under the upload request; Phase 2
// (CompleteGeneration) runs on the worker via the queue.
type GenerationService struct {
	cfg      *config.Config
	assets   *AssetService
	storage  *StorageService
	s3       *S3Service // nil when no mirror is configured
	events   *PipelineEventService
	api      GenerationAPI
	enqueuer MeshEnqueuer
	http     *http.Client
}

func NewGenerationService(cfg *config.Config, assets *AssetService, storage *StorageService, s3 *S3Service, events *PipelineEventService, api GenerationAPI, enqueuer MeshEnqueuer) *GenerationService {
	return &GenerationService{
		cfg:      cfg,
		assets:   assets,
		storage:  storage,
		s3:       s3,
		events:   events,
		api:      api,
		enqueuer: enqueuer,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

// StartGeneration runs Phase 1: persist the upload, create the record,
// attempt segmentation, and schedule mesh generation. The returned asset is
// the synchronous reply; everything after segmentation is best-effort and
// never fails the upload.
func (s *GenerationService) StartGeneration(ctx context.Context, userID uuid.UUID, image []byte, params GenerationParams) (*StartResult, error) {
	format := sniff.Classify(image)
	if format != sniff.FormatPNG && format != sniff.FormatJPEG {
		return nil, ErrUnsupportedImageFormat
	}
	params.applyDefaults(s.cfg)

	imageKey, err := s.storage.SaveBytes(ArtifactImage, sniff.Ext(format), image)
	if err != nil {
		return nil, err
	}
	s.mirror(ctx, ArtifactImage, imageKey, image, sniff.ContentType(format))

	var recordSeed int64
	if params.Seed != nil {
		recordSeed = int64(*params.Seed)
	}
	asset, err := s.assets.CreateAsset(userID, imageKey, recordSeed, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.events.Record(&asset.ID, StageUpload, EventLevelInfo, "upload accepted", map[string]interface{}{
		"format": sniff.ContentType(format),
		"bytes":  len(image),
	})

	s.segmentAndStore(ctx, asset, image)

	job := queue.GenerateMeshPayload{
		UserID:         userID.String(),
		AssetID:        asset.ID.String(),
		Seed:           params.Seed,
		RandomizeSeed:  params.RandomizeSeed,
		NumSteps:       params.NumSteps,
		CfgScale:       params.CfgScale,
		GridRes:        params.GridRes,
		SimplifyMesh:   params.SimplifyMesh,
		TargetNumFaces: params.TargetNumFaces,
	}
	if err := s.enqueuer.EnqueueGenerateMesh(ctx, job); err != nil {
		// The upload reply still goes out; the asset simply never advances.
		log.Printf("Failed to enqueue mesh job for asset %s: %v", asset.ID, err)
		s.events.Record(&asset.ID, StageQueue, EventLevelError, "mesh job enqueue failed", map[string]interface{}{
			"error": err.Error(),
		})
		s.events.Stats.BackgroundFailures.Add(1)
	}

	// Re-read so the reply reflects the segmentation outcome.
	fresh, err := s.assets.GetAsset(userID, asset.ID)
	if err != nil {
		return &StartResult{Asset: asset}, nil
	}
	return &StartResult{Asset: fresh}, nil
}

// segmentAndStore calls remote segmentation and persists whatever it yields.
// Every failure path here is non-fatal to the upload.
func (s *GenerationService) segmentAndStore(ctx context.Context, asset *models.Asset, image []byte) {
	payload, err := s.api.Segment(ctx, image)
	if err != nil {
		log.Printf("Segmentation failed for asset %s: %v", asset.ID, err)
		s.events.Record(&asset.ID, StageSegment, EventLevelWarn, "segmentation call failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	result := genpayload.Normalize(ctx, s.http, payload)
	if !result.Produced() {
		if result.Diagnostic != nil {
			s.storeDiagnostic(asset.ID, StageSegment, result.Diagnostic)
		} else {
			s.events.Record(&asset.ID, StageSegment, EventLevelWarn, "segmentation produced no artifact", nil)
		}
		return
	}

	ext := result.Ext
	if f := sniff.Classify(result.Data); sniff.IsImage(f) {
		ext = sniff.Ext(f)
	}
	key, err := s.storage.SaveBytes(ArtifactImage, ext, result.Data)
	if err != nil {
		log.Printf("Failed to store segmented image for asset %s: %v", asset.ID, err)
		s.events.Record(&asset.ID, StageStore, EventLevelError, "segmented image store failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.mirror(ctx, ArtifactImage, key, result.Data, contentTypeOf(result.Data))

	if err := s.assets.UpdateAssetFields(asset.UserID, asset.ID, map[string]interface{}{
		"segmented_image_key": key,
	}); err != nil {
		log.Printf("Failed to record segmented image for asset %s: %v", asset.ID, err)
		return
	}
	s.events.Record(&asset.ID, StageSegment, EventLevelInfo, "segmented image stored", map[string]interface{}{
		"key": key,
	})
}

// CompleteGeneration runs Phase 2 for one queued job. A nil return
// acknowledges the task; an error return hands it back to the queue for
// retry, so only transport-level failures return errors.
func (s *GenerationService) CompleteGeneration(ctx context.Context, job queue.GenerateMeshPayload) error {
	userID, err := uuid.Parse(job.UserID)
	if err != nil {
		log.Printf("Mesh job carries bad user id %q: %v", job.UserID, err)
		return nil
	}
	assetID, err := uuid.Parse(job.AssetID)
	if err != nil {
		log.Printf("Mesh job carries bad asset id %q: %v", job.AssetID, err)
		return nil
	}

	asset, err := s.assets.GetAsset(userID, assetID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Deleted between enqueue and pickup.
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.assets.UpdateAssetFields(userID, assetID, map[string]interface{}{
		"status": models.AssetStatusProcessing,
	}); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	seed := s.resolveSeed(ctx, asset, job)
	if err := s.assets.UpdateAssetFields(userID, assetID, map[string]interface{}{
		"seed": int64(seed),
	}); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Failed to record resolved seed for asset %s: %v", assetID, err)
	}

	source, ok := s.selectSourceImage(asset)
	if !ok {
		// No valid image anywhere; the record keeps its prior state.
		s.events.Record(&assetID, StageMesh, EventLevelWarn, "no valid source image, generation abandoned", nil)
		return nil
	}
	source = s.transcodeIfWebP(assetID, source)

	req := MeshRequest{
		NumSteps:       job.NumSteps,
		CfgScale:       job.CfgScale,
		GridRes:        job.GridRes,
		Seed:           seed,
		SimplifyMesh:   job.SimplifyMesh,
		TargetNumFaces: job.TargetNumFaces,
	}
	payload, err := s.api.GenerateMesh(ctx, source, req)
	if err != nil {
		log.Printf("Mesh generation failed for asset %s: %v", assetID, err)
		s.events.Record(&assetID, StageMesh, EventLevelError, "mesh call failed", map[string]interface{}{
			"error": err.Error(),
		})
		s.events.Stats.BackgroundFailures.Add(1)
		return err
	}

	result := genpayload.Normalize(ctx, s.http, payload)
	if !result.Produced() {
		if result.Diagnostic != nil {
			// Unrecognized shape; retrying would yield the same thing.
			s.storeDiagnostic(assetID, StageMesh, result.Diagnostic)
			return nil
		}
		s.events.Record(&assetID, StageMesh, EventLevelWarn, "mesh artifact not yet available", nil)
		return errors.New("mesh stage produced no artifact")
	}

	ext := ".glb"
	if sniff.Classify(result.Data) != sniff.FormatGLB {
		// Stored anyway; the anomaly is visible in the event log.
		s.events.Record(&assetID, StageMesh, EventLevelWarn, "mesh bytes missing GLB signature", map[string]interface{}{
			"bytes": len(result.Data),
		})
		s.events.Stats.MeshAnomalies.Add(1)
		if result.Ext != "" {
			ext = result.Ext
		}
	}

	glbKey, err := s.storage.SaveBytes(ArtifactMesh, ext, result.Data)
	if err != nil {
		s.events.Record(&assetID, StageStore, EventLevelError, "mesh store failed", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	s.mirror(ctx, ArtifactMesh, glbKey, result.Data, "model/gltf-binary")

	now := time.Now().UTC()
	err = s.assets.UpdateAssetFields(userID, assetID, map[string]interface{}{
		"glb_key":      glbKey,
		"status":       models.AssetStatusReady,
		"generated_at": now,
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Deleted mid-generation; drop the orphaned artifact.
		if derr := s.storage.Delete(glbKey); derr != nil {
			log.Printf("Failed to remove orphaned mesh %s: %v", glbKey, derr)
		}
		return nil
	}
	if err != nil {
		return err
	}

	s.events.Record(&assetID, StageMesh, EventLevelInfo, "mesh ready", map[string]interface{}{
		"key":  glbKey,
		"seed": seed,
	})
	return nil
}

// resolveSeed applies the seed policy: a caller seed wins unless
// randomization was requested, remote resolution covers the rest, and any
// failure falls back to the caller seed or zero.
func (s *GenerationService) resolveSeed(ctx context.Context, asset *models.Asset, job queue.GenerateMeshPayload) uint32 {
	if job.Seed != nil && !job.RandomizeSeed {
		return clampSeed(int64(*job.Seed))
	}

	var fallback uint32
	if job.Seed != nil {
		fallback = clampSeed(int64(*job.Seed))
	}
	seed, err := s.api.ResolveSeed(ctx, job.RandomizeSeed, fallback)
	if err != nil {
		log.Printf("Seed resolution failed for asset %s: %v", asset.ID, err)
		s.events.Record(&asset.ID, StageSeed, EventLevelWarn, "seed resolution failed", map[string]interface{}{
			"error":    err.Error(),
			"fallback": fallback,
		})
		return fallback
	}
	return seed
}

// selectSourceImage prefers the segmented image when it actually sniffs as an
// image, then the original upload.
func (s *GenerationService) selectSourceImage(asset *models.Asset) ([]byte, bool) {
	if asset.SegmentedImageKey != nil {
		data, err := s.storage.Load(*asset.SegmentedImageKey)
		if err == nil && sniff.IsImage(sniff.Classify(data)) {
			return data, true
		}
		if err != nil {
			log.Printf("Failed to load segmented image %s: %v", *asset.SegmentedImageKey, err)
		}
	}
	data, err := s.storage.Load(asset.ImageKey)
	if err != nil {
		log.Printf("Failed to load original image %s: %v", asset.ImageKey, err)
		return nil, false
	}
	if !sniff.IsImage(sniff.Classify(data)) {
		return nil, false
	}
	return data, true
}

// transcodeIfWebP converts WebP sources to PNG for the mesh service.
// Transcode failure keeps the original bytes.
func (s *GenerationService) transcodeIfWebP(assetID uuid.UUID, data []byte) []byte {
	if sniff.Classify(data) != sniff.FormatWebP {
		return data
	}
	converted, err := imaging.WebPToPNG(data)
	if err != nil {
		log.Printf("WebP transcode failed for asset %s: %v", assetID, err)
		s.events.Record(&assetID, StageNormalize, EventLevelWarn, "webp transcode failed", map[string]interface{}{
			"error": err.Error(),
		})
		return data
	}
	return converted
}

// storeDiagnostic persists an unrecognized remote payload for inspection.
func (s *GenerationService) storeDiagnostic(assetID uuid.UUID, stage string, diagnostic []byte) {
	key, err := s.storage.SaveBytes(ArtifactDiagnostic, ".json", diagnostic)
	if err != nil {
		log.Printf("Failed to store %s diagnostic for asset %s: %v", stage, assetID, err)
		key = ""
	}
	s.events.Record(&assetID, stage, EventLevelError, "unrecognized remote payload", map[string]interface{}{
		"diagnostic_key": key,
	})
}

func contentTypeOf(data []byte) string {
	return sniff.ContentType(sniff.Classify(data))
}

// mirror uploads an artifact copy to object storage when a mirror is
// configured. Failures are logged only.
func (s *GenerationService) mirror(ctx context.Context, kind ArtifactKind, key string, data []byte, contentType string) {
	if s.s3 == nil {
		return
	}
	if err := s.s3.UploadArtifact(ctx, kind, key, data, contentType); err != nil {
		log.Printf("Failed to mirror artifact %s: %v", key, err)
	}
}
