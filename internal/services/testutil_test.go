package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/meshlift/backend/internal/config"
	"github.com/meshlift/backend/internal/models"
	"github.com/meshlift/backend/internal/queue"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Asset{}, &models.PipelineEvent{}))
	return db
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.LocalAssetsPath = t.TempDir()
	cfg.GenAPISegmentTimeout = 5 * time.Second
	cfg.GenAPISeedTimeout = 5 * time.Second
	cfg.GenAPIMeshTimeout = 5 * time.Second
	return cfg
}

// pngBytes renders a tiny valid PNG.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// glbBytes fabricates a minimal buffer carrying the GLB magic.
func glbBytes() []byte {
	return append([]byte("glTF"), make([]byte, 12)...)
}

func pngDataURI(t *testing.T) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
}

// stubGenAPI lets each test script the remote service.
type stubGenAPI struct {
	segmentFn func(ctx context.Context, image []byte) (interface{}, error)
	seedFn    func(ctx context.Context, randomize bool, seed uint32) (uint32, error)
	meshFn    func(ctx context.Context, image []byte, req MeshRequest) (interface{}, error)
}

func (s *stubGenAPI) Segment(ctx context.Context, image []byte) (interface{}, error) {
	if s.segmentFn == nil {
		return nil, nil
	}
	return s.segmentFn(ctx, image)
}

func (s *stubGenAPI) ResolveSeed(ctx context.Context, randomize bool, seed uint32) (uint32, error) {
	if s.seedFn == nil {
		return seed, nil
	}
	return s.seedFn(ctx, randomize, seed)
}

func (s *stubGenAPI) GenerateMesh(ctx context.Context, image []byte, req MeshRequest) (interface{}, error) {
	if s.meshFn == nil {
		return nil, nil
	}
	return s.meshFn(ctx, image, req)
}

// stubEnqueuer records enqueued jobs instead of touching Redis.
type stubEnqueuer struct {
	jobs []queue.GenerateMeshPayload
	err  error
}

func (s *stubEnqueuer) EnqueueGenerateMesh(ctx context.Context, p queue.GenerateMeshPayload) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, p)
	return nil
}

type pipelineFixture struct {
	cfg        *config.Config
	db         *gorm.DB
	storage    *StorageService
	assets     *AssetService
	events     *PipelineEventService
	api        *stubGenAPI
	enqueuer   *stubEnqueuer
	generation *GenerationService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	cfg := newTestConfig(t)
	db := newTestDB(t)
	storage := NewStorageService(cfg)
	assets := NewAssetService(db, cfg, storage, nil)
	events := NewPipelineEventService(db, cfg)
	api := &stubGenAPI{}
	enqueuer := &stubEnqueuer{}
	return &pipelineFixture{
		cfg:        cfg,
		db:         db,
		storage:    storage,
		assets:     assets,
		events:     events,
		api:        api,
		enqueuer:   enqueuer,
		generation: NewGenerationService(cfg, assets, storage, nil, events, api, enqueuer),
	}
}
