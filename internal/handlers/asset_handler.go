package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meshlift/backend/internal/config"
	"github.com/meshlift/backend/internal/models"
	"github.com/meshlift/backend/internal/pkg/sniff"
	"github.com/meshlift/backend/internal/services"
	"github.com/meshlift/backend/pkg/polling"
	"gorm.io/gorm"
)

type AssetHandler struct {
	cfg               *config.Config
	assetService      *services.AssetService
	storageService    *services.StorageService
	generationService *services.GenerationService
}

func NewAssetHandler(cfg *config.Config, assetService *services.AssetService, storageService *services.StorageService, generationService *services.GenerationService) *AssetHandler {
	return &AssetHandler{
		cfg:               cfg,
		assetService:      assetService,
		storageService:    storageService,
		generationService: generationService,
	}
}

// Upload starts a generation from one uploaded image
// POST /user/assets
// Multipart form: image (required) plus the generation parameter fields
func (h *AssetHandler) Upload(c *gin.Context) {
	userID := c.MustGet("userID").(uuid.UUID)

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}
	defer file.Close()

	if header.Size > h.cfg.UploadMaxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "image too large",
			"max_bytes": h.cfg.UploadMaxImageSize,
		})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.UploadMaxImageSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
		return
	}
	if int64(len(data)) > h.cfg.UploadMaxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "image too large",
			"max_bytes": h.cfg.UploadMaxImageSize,
		})
		return
	}

	params, err := parseGenerationParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.generationService.StartGeneration(c.Request.Context(), userID, data, params)
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedImageFormat) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start generation"})
		return
	}

	c.JSON(http.StatusCreated, uploadResponse(result.Asset))
}

// parseGenerationParams reads the parameter bag from the multipart form.
// Absent numeric fields stay zero and pick up configured defaults downstream.
func parseGenerationParams(c *gin.Context) (services.GenerationParams, error) {
	var params services.GenerationParams

	if v := c.PostForm("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 || n > 1<<31-1 {
			return params, fmt.Errorf("seed must be an integer in [0, 2147483647]")
		}
		seed := uint32(n)
		params.Seed = &seed
	}
	params.RandomizeSeed = c.PostForm("randomize_seed") == "true"

	intFields := []struct {
		name string
		dst  *int
	}{
		{"num_steps", &params.NumSteps},
		{"grid_res", &params.GridRes},
		{"target_num_faces", &params.TargetNumFaces},
	}
	for _, f := range intFields {
		if v := c.PostForm(f.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return params, fmt.Errorf("%s must be a positive integer", f.name)
			}
			*f.dst = n
		}
	}
	if v := c.PostForm("cfg_scale"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return params, fmt.Errorf("cfg_scale must be a positive number")
		}
		params.CfgScale = f
	}

	params.SimplifyMesh = true
	if v := c.PostForm("simplify_mesh"); v != "" {
		params.SimplifyMesh = v == "true"
	}
	return params, nil
}

// List returns the user's asset collection
// GET /user/assets?limit=&offset=
func (h *AssetHandler) List(c *gin.Context) {
	userID := c.MustGet("userID").(uuid.UUID)
	limit, offset := parsePagination(c)

	assets, total, err := h.assetService.ListAssets(userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve assets"})
		return
	}

	list := make([]gin.H, len(assets))
	for i := range assets {
		list[i] = assetResponse(&assets[i])
	}
	c.JSON(http.StatusOK, gin.H{
		"assets": list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get returns one asset
// GET /user/assets/:id
func (h *AssetHandler) Get(c *gin.Context) {
	userID := c.MustGet("userID").(uuid.UUID)
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}

	asset, err := h.assetService.GetAsset(userID, assetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	c.JSON(http.StatusOK, assetResponse(asset))
}

// Wait blocks until the requested artifact exists or the polling budget runs
// out, then returns the last observed state
// GET /user/assets/:id/wait?target=segmented|mesh
func (h *AssetHandler) Wait(c *gin.Context) {
	userID := c.MustGet("userID").(uuid.UUID)
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}

	target := c.DefaultQuery("target", "mesh")
	var attempts int
	var ready func(interface{}) bool
	switch target {
	case "segmented":
		attempts = h.cfg.SegmentedPollAttempts
		ready = func(v interface{}) bool {
			return v.(*models.Asset).SegmentedImageKey != nil
		}
	case "mesh":
		attempts = h.cfg.MeshPollAttempts
		ready = func(v interface{}) bool {
			return v.(*models.Asset).Status == models.AssetStatusReady
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "target must be segmented or mesh"})
		return
	}

	fetch := func(ctx context.Context) (interface{}, error) {
		asset, err := h.assetService.GetAsset(userID, assetID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, polling.Permanent(err)
		}
		if err != nil {
			return nil, err
		}
		return asset, nil
	}

	v, err := polling.Wait(c.Request.Context(), polling.Options{
		Interval:    h.cfg.PollInterval,
		MaxAttempts: attempts,
	}, fetch, ready)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
	case errors.Is(err, polling.ErrTimeout):
		resp := gin.H{"ready": false}
		if asset, ok := v.(*models.Asset); ok {
			resp["asset"] = assetResponse(asset)
		}
		c.JSON(http.StatusOK, resp)
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to poll asset"})
	default:
		c.JSON(http.StatusOK, gin.H{"ready": true, "asset": assetResponse(v.(*models.Asset))})
	}
}

// Delete removes an asset and its artifacts
// DELETE /user/assets/:id
func (h *AssetHandler) Delete(c *gin.Context) {
	userID := c.MustGet("userID").(uuid.UUID)
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}

	if err := h.assetService.DeleteAsset(c.Request.Context(), userID, assetID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete asset"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "asset deleted"})
}

// ServeImage streams the original upload
// GET /user/assets/:id/image
func (h *AssetHandler) ServeImage(c *gin.Context) {
	h.serveArtifact(c, func(a *models.Asset) *string { return &a.ImageKey })
}

// ServeSegmented streams the segmented image
// GET /user/assets/:id/segmented
func (h *AssetHandler) ServeSegmented(c *gin.Context) {
	h.serveArtifact(c, func(a *models.Asset) *string { return a.SegmentedImageKey })
}

// ServeMesh streams the GLB file
// GET /user/assets/:id/mesh
func (h *AssetHandler) ServeMesh(c *gin.Context) {
	h.serveArtifact(c, func(a *models.Asset) *string { return a.GlbKey })
}

func (h *AssetHandler) serveArtifact(c *gin.Context, pick func(*models.Asset) *string) {
	userID := c.MustGet("userID").(uuid.UUID)
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}

	asset, err := h.assetService.GetAsset(userID, assetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}

	key := pick(asset)
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not available"})
		return
	}
	data, err := h.storageService.Load(*key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not available"})
		return
	}
	c.Data(http.StatusOK, sniff.ContentType(sniff.Classify(data)), data)
}

// uploadResponse is the synchronous Phase 1 reply.
func uploadResponse(asset *models.Asset) gin.H {
	resp := gin.H{
		"asset_id":            asset.ID,
		"image_url":           proxyURL(asset.ID, "image"),
		"segmented_image_url": nil,
		"status":              asset.Status,
	}
	if asset.SegmentedImageKey != nil {
		resp["segmented_image_url"] = proxyURL(asset.ID, "segmented")
	}
	return resp
}

func assetResponse(asset *models.Asset) gin.H {
	resp := gin.H{
		"id":                  asset.ID,
		"status":              asset.Status,
		"seed":                asset.Seed,
		"image_url":           proxyURL(asset.ID, "image"),
		"segmented_image_url": nil,
		"glb_url":             nil,
		"uploaded_at":         asset.UploadedAt,
		"created_at":          asset.CreatedAt,
		"updated_at":          asset.UpdatedAt,
	}
	if asset.SegmentedImageKey != nil {
		resp["segmented_image_url"] = proxyURL(asset.ID, "segmented")
	}
	if asset.GlbKey != nil {
		resp["glb_url"] = proxyURL(asset.ID, "mesh")
	}
	if asset.GeneratedAt != nil {
		resp["generated_at"] = asset.GeneratedAt
	}
	return resp
}

// proxyURL builds the authenticated file proxy URL (faster than presigned
// mirror URLs)
func proxyURL(assetID uuid.UUID, kind string) string {
	return fmt.Sprintf("/api/v1/user/assets/%s/%s", assetID, kind)
}

func parsePagination(c *gin.Context) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
