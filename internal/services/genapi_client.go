package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meshlift/backend/internal/config"
)

// seedMax is the upper bound of the seed domain, 2^31-1.
const seedMax = 1<<31 - 1

// MeshRequest is the parameter bag forwarded to the mesh-generation
// operation.
type MeshRequest struct {
	NumSteps       int     `json:"num_steps"`
	CfgScale       float64 `json:"cfg_scale"`
	GridRes        int     `json:"grid_res"`
	Seed           uint32  `json:"seed"`
	SimplifyMesh   bool    `json:"simplify_mesh"`
	TargetNumFaces int     `json:"target_num_faces"`
}

// GenerationAPI is the remote generation service as the orchestrator sees it.
// Segment and GenerateMesh return the decoded reply payload verbatim; its
// shape varies by deployment and is resolved by the payload normalizer.
type GenerationAPI interface {
	Segment(ctx context.Context, image []byte) (interface{}, error)
	ResolveSeed(ctx context.Context, randomize bool, seed uint32) (uint32, error)
	GenerateMesh(ctx context.Context, image []byte, req MeshRequest) (interface{}, error)
}

// StageTimeoutError marks a remote call that hit its per-stage deadline, so
// callers can tell a slow stage from a broken one.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("%s stage timed out after %s", e.Stage, e.Timeout)
}

// GenAPIClient talks HTTP JSON to the generation service.
type GenAPIClient struct {
	baseURL string
	cfg     *config.Config
	http    *http.Client
}

func NewGenAPIClient(cfg *config.Config) *GenAPIClient {
	return &GenAPIClient{
		baseURL: strings.TrimRight(cfg.GenAPIBaseURL, "/"),
		cfg:     cfg,
		// Per-request deadlines come from the stage contexts.
		http: &http.Client{},
	}
}

// Segment requests background removal for the image.
func (c *GenAPIClient) Segment(ctx context.Context, image []byte) (interface{}, error) {
	body := map[string]interface{}{
		"image": base64.StdEncoding.EncodeToString(image),
	}
	return c.post(ctx, "segment", "/segment", c.cfg.GenAPISegmentTimeout, body)
}

// ResolveSeed asks the service for the effective generation seed. The reply
// is a number or a numeric string depending on deployment; either way the
// result is clamped to the seed domain.
func (c *GenAPIClient) ResolveSeed(ctx context.Context, randomize bool, seed uint32) (uint32, error) {
	body := map[string]interface{}{
		"randomize_seed": randomize,
		"seed":           seed,
	}
	payload, err := c.post(ctx, "seed", "/seed", c.cfg.GenAPISeedTimeout, body)
	if err != nil {
		return 0, err
	}
	return seedFromPayload(payload)
}

// GenerateMesh requests 3D mesh generation from the image and parameter bag.
func (c *GenAPIClient) GenerateMesh(ctx context.Context, image []byte, req MeshRequest) (interface{}, error) {
	body := map[string]interface{}{
		"image":            base64.StdEncoding.EncodeToString(image),
		"num_steps":        req.NumSteps,
		"cfg_scale":        req.CfgScale,
		"grid_res":         req.GridRes,
		"seed":             req.Seed,
		"simplify_mesh":    req.SimplifyMesh,
		"target_num_faces": req.TargetNumFaces,
	}
	return c.post(ctx, "mesh", "/generate", c.cfg.GenAPIMeshTimeout, body)
}

// post sends one JSON request under the stage deadline and decodes the reply.
// Non-JSON reply bodies are returned as raw bytes for the normalizer to
// judge.
func (c *GenAPIClient) post(ctx context.Context, stage, path string, timeout time.Duration, body interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", stage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &StageTimeoutError{Stage: stage, Timeout: timeout}
		}
		return nil, fmt.Errorf("%s request failed: %w", stage, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &StageTimeoutError{Stage: stage, Timeout: timeout}
		}
		return nil, fmt.Errorf("failed to read %s response: %w", stage, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s request returned status %d: %s", stage, resp.StatusCode, truncateForError(raw))
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Some deployments stream the artifact directly.
		return raw, nil
	}
	return payload, nil
}

// seedFromPayload extracts a seed from the reply, accepting a bare number, a
// numeric string, or an object carrying a "seed" field.
func seedFromPayload(payload interface{}) (uint32, error) {
	switch v := payload.(type) {
	case float64:
		return clampSeed(int64(v)), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("seed response %q is not numeric", v)
		}
		return clampSeed(n), nil
	case map[string]interface{}:
		if inner, ok := v["seed"]; ok {
			return seedFromPayload(inner)
		}
		return 0, fmt.Errorf("seed response object has no seed field")
	default:
		return 0, fmt.Errorf("unexpected seed response type %T", payload)
	}
}

// clampSeed forces a value into [0, 2^31-1].
func clampSeed(n int64) uint32 {
	if n < 0 {
		return 0
	}
	if n > seedMax {
		return seedMax
	}
	return uint32(n)
}

func truncateForError(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
