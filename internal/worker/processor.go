package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/meshlift/backend/internal/queue"
	"github.com/meshlift/backend/internal/services"
)

// Processor executes queued pipeline jobs.
type Processor struct {
	generation *services.GenerationService
}

func NewProcessor(generation *services.GenerationService) *Processor {
	return &Processor{generation: generation}
}

// Mux returns the task router for the asynq server.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeGenerateMesh, p.handleGenerateMesh)
	return mux
}

func (p *Processor) handleGenerateMesh(ctx context.Context, t *asynq.Task) error {
	var payload queue.GenerateMeshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// Retrying an unparseable payload cannot help.
		log.Printf("Dropping malformed mesh task: %v", err)
		return fmt.Errorf("malformed mesh task payload: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("Processing mesh job for asset %s", payload.AssetID)
	return p.generation.CompleteGeneration(ctx, payload)
}
