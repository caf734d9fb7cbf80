package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/meshlift/backend/internal/config"
	"github.com/meshlift/backend/internal/models"
	"github.com/meshlift/backend/internal/queue"
	"github.com/meshlift/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubGenAPI struct {
	segmentFn func(ctx context.Context, image []byte) (interface{}, error)
	meshFn    func(ctx context.Context, image []byte, req services.MeshRequest) (interface{}, error)
}

func (s *stubGenAPI) Segment(ctx context.Context, image []byte) (interface{}, error) {
	if s.segmentFn == nil {
		return nil, nil
	}
	return s.segmentFn(ctx, image)
}

func (s *stubGenAPI) ResolveSeed(ctx context.Context, randomize bool, seed uint32) (uint32, error) {
	return seed, nil
}

func (s *stubGenAPI) GenerateMesh(ctx context.Context, image []byte, req services.MeshRequest) (interface{}, error) {
	if s.meshFn == nil {
		return nil, nil
	}
	return s.meshFn(ctx, image, req)
}

type stubEnqueuer struct {
	jobs []queue.GenerateMeshPayload
}

func (s *stubEnqueuer) EnqueueGenerateMesh(ctx context.Context, p queue.GenerateMeshPayload) error {
	s.jobs = append(s.jobs, p)
	return nil
}

type testStack struct {
	cfg        *config.Config
	router     *gin.Engine
	userID     uuid.UUID
	api        *stubGenAPI
	enqueuer   *stubEnqueuer
	generation *services.GenerationService
	assets     *services.AssetService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.New()
	cfg.LocalAssetsPath = t.TempDir()
	cfg.PollInterval = time.Millisecond
	cfg.SegmentedPollAttempts = 2
	cfg.MeshPollAttempts = 2

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Asset{}, &models.PipelineEvent{}))

	storage := services.NewStorageService(cfg)
	assets := services.NewAssetService(db, cfg, storage, nil)
	events := services.NewPipelineEventService(db, cfg)
	api := &stubGenAPI{}
	enqueuer := &stubEnqueuer{}
	generation := services.NewGenerationService(cfg, assets, storage, nil, events, api, enqueuer)

	stack := &testStack{
		cfg:        cfg,
		userID:     uuid.New(),
		api:        api,
		enqueuer:   enqueuer,
		generation: generation,
		assets:     assets,
	}

	assetHandler := NewAssetHandler(cfg, assets, storage, generation)
	adminHandler := NewAdminHandler(assets, events)

	router := gin.New()
	api1 := router.Group("/api/v1")
	user := api1.Group("/user")
	user.Use(func(c *gin.Context) { c.Set("userID", stack.userID) })
	{
		user.POST("/assets", assetHandler.Upload)
		user.GET("/assets", assetHandler.List)
		user.GET("/assets/:id", assetHandler.Get)
		user.GET("/assets/:id/wait", assetHandler.Wait)
		user.DELETE("/assets/:id", assetHandler.Delete)
		user.GET("/assets/:id/image", assetHandler.ServeImage)
		user.GET("/assets/:id/segmented", assetHandler.ServeSegmented)
		user.GET("/assets/:id/mesh", assetHandler.ServeMesh)
	}
	admin := api1.Group("/admin")
	{
		admin.GET("/assets", adminHandler.ListAssets)
		admin.GET("/pipeline/events", adminHandler.ListPipelineEvents)
		admin.GET("/pipeline/stats", adminHandler.PipelineStats)
	}
	stack.router = router
	return stack
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, imageData []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "input.png")
	require.NoError(t, err)
	_, err = part.Write(imageData)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/v1/user/assets", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func doJSON(t *testing.T, router *gin.Engine, req *http.Request, wantStatus int) map[string]interface{} {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, wantStatus, w.Code, "body: %s", w.Body.String())
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestUploadThroughMeshFlow(t *testing.T) {
	stack := newTestStack(t)
	pngData := testPNG(t)
	stack.api.segmentFn = func(ctx context.Context, image []byte) (interface{}, error) {
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData), nil
	}
	stack.api.meshFn = func(ctx context.Context, image []byte, req services.MeshRequest) (interface{}, error) {
		glb := append([]byte("glTF"), make([]byte, 128)...)
		return base64.StdEncoding.EncodeToString(glb), nil
	}

	resp := doJSON(t, stack.router, uploadRequest(t, pngData, map[string]string{
		"seed": "42",
	}), http.StatusCreated)
	assetID := resp["asset_id"].(string)
	assert.NotEmpty(t, resp["image_url"])
	assert.NotNil(t, resp["segmented_image_url"])

	// Segmented artifact serves back as an image.
	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/user/assets/"+assetID+"/segmented", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	// Mesh not available yet.
	w = httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/user/assets/"+assetID+"/mesh", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Run Phase 2 the way the worker would.
	require.Len(t, stack.enqueuer.jobs, 1)
	require.NoError(t, stack.generation.CompleteGeneration(context.Background(), stack.enqueuer.jobs[0]))

	got := doJSON(t, stack.router, httptest.NewRequest("GET", "/api/v1/user/assets/"+assetID, nil), http.StatusOK)
	assert.Equal(t, "ready", got["status"])
	assert.NotNil(t, got["glb_url"])
	assert.Equal(t, float64(42), got["seed"])

	w = httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/user/assets/"+assetID+"/mesh", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "model/gltf-binary", w.Header().Get("Content-Type"))

	wait := doJSON(t, stack.router, httptest.NewRequest("GET", "/api/v1/user/assets/"+assetID+"/wait?target=mesh", nil), http.StatusOK)
	assert.Equal(t, true, wait["ready"])
}

func TestUploadWithFailedSegmentationStillReplies(t *testing.T) {
	stack := newTestStack(t)
	stack.api.segmentFn = func(ctx context.Context, image []byte) (interface{}, error) {
		return nil, context.DeadlineExceeded
	}

	resp := doJSON(t, stack.router, uploadRequest(t, testPNG(t), nil), http.StatusCreated)
	assert.Nil(t, resp["segmented_image_url"])
	assert.Equal(t, "pending", resp["status"])
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	stack := newTestStack(t)

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, uploadRequest(t, []byte("this is just text, no image magic"), nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUploadRequiresImageField(t *testing.T) {
	stack := newTestStack(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("seed", "1"))
	require.NoError(t, writer.Close())
	req := httptest.NewRequest("POST", "/api/v1/user/assets", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsOversizedImage(t *testing.T) {
	stack := newTestStack(t)
	stack.cfg.UploadMaxImageSize = 64

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, uploadRequest(t, testPNG(t), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadValidatesParams(t *testing.T) {
	stack := newTestStack(t)

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, uploadRequest(t, testPNG(t), map[string]string{"seed": "-1"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	stack.router.ServeHTTP(w, uploadRequest(t, testPNG(t), map[string]string{"num_steps": "zero"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndPagination(t *testing.T) {
	stack := newTestStack(t)
	for i := 0; i < 3; i++ {
		doJSON(t, stack.router, uploadRequest(t, testPNG(t), nil), http.StatusCreated)
	}

	resp := doJSON(t, stack.router, httptest.NewRequest("GET", "/api/v1/user/assets?limit=2", nil), http.StatusOK)
	assert.Equal(t, float64(3), resp["total"])
	assert.Len(t, resp["assets"], 2)
}

func TestDeleteTwiceReturnsNotFound(t *testing.T) {
	stack := newTestStack(t)
	resp := doJSON(t, stack.router, uploadRequest(t, testPNG(t), nil), http.StatusCreated)
	assetID := resp["asset_id"].(string)

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/v1/user/assets/"+assetID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/v1/user/assets/"+assetID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWaitTimesOutWithLastState(t *testing.T) {
	stack := newTestStack(t)
	resp := doJSON(t, stack.router, uploadRequest(t, testPNG(t), nil), http.StatusCreated)
	assetID := resp["asset_id"].(string)

	wait := doJSON(t, stack.router, httptest.NewRequest("GET", "/api/v1/user/assets/"+assetID+"/wait?target=segmented", nil), http.StatusOK)
	assert.Equal(t, false, wait["ready"])
	assert.NotNil(t, wait["asset"])
}

func TestWaitUnknownAsset(t *testing.T) {
	stack := newTestStack(t)

	w := httptest.NewRecorder()
	stack.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/user/assets/"+uuid.NewString()+"/wait", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminPipelineSurfaces(t *testing.T) {
	stack := newTestStack(t)
	doJSON(t, stack.router, uploadRequest(t, testPNG(t), nil), http.StatusCreated)

	events := doJSON(t, stack.router, httptest.NewRequest("GET", "/api/v1/admin/pipeline/events", nil), http.StatusOK)
	assert.Greater(t, events["total"].(float64), float64(0))

	stats := doJSON(t, stack.router, httptest.NewRequest("GET", "/api/v1/admin/pipeline/stats", nil), http.StatusOK)
	assert.NotNil(t, stats["stage_counts"])

	assets := doJSON(t, stack.router, httptest.NewRequest("GET", "/api/v1/admin/assets", nil), http.StatusOK)
	assert.Equal(t, float64(1), assets["total"])
}
