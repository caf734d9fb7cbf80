package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type routed through asynq.
const TypeGenerateMesh = "asset:generate_mesh"

// GenerateMeshPayload carries everything the worker needs to run mesh
// generation for one asset. Record state is re-read at execution time, so the
// payload holds identity and parameters only.
type GenerateMeshPayload struct {
	UserID  string `json:"user_id"`
	AssetID string `json:"asset_id"`

	Seed           *uint32 `json:"seed,omitempty"`
	RandomizeSeed  bool    `json:"randomize_seed"`
	NumSteps       int     `json:"num_steps"`
	CfgScale       float64 `json:"cfg_scale"`
	GridRes        int     `json:"grid_res"`
	SimplifyMesh   bool    `json:"simplify_mesh"`
	TargetNumFaces int     `json:"target_num_faces"`
}

// NewGenerateMeshTask builds the asynq task for one mesh generation job.
func NewGenerateMeshTask(p GenerateMeshPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mesh task payload: %w", err)
	}
	return asynq.NewTask(TypeGenerateMesh, payload), nil
}

// Client enqueues pipeline jobs onto Redis.
type Client struct {
	inner    *asynq.Client
	maxRetry int
}

func NewClient(redisAddr, password string, db, maxRetry int) *Client {
	return &Client{
		inner: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		}),
		maxRetry: maxRetry,
	}
}

// EnqueueGenerateMesh schedules Phase 2 for an asset.
func (c *Client) EnqueueGenerateMesh(ctx context.Context, p GenerateMeshPayload) error {
	task, err := NewGenerateMeshTask(p)
	if err != nil {
		return err
	}
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(c.maxRetry)); err != nil {
		return fmt.Errorf("failed to enqueue mesh task: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.inner.Close()
}
