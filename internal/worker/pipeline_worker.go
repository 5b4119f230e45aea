package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/orafaelscosta/music/internal/model"
	"github.com/orafaelscosta/music/internal/pipeline"
	"github.com/orafaelscosta/music/internal/service"
)

// PipelineWorker executes queued pipeline tasks. Each task runs one
// project's steps strictly in sequence; different projects run
// concurrently up to the asynq server's concurrency limit.
type PipelineWorker struct {
	orchestrator *pipeline.Orchestrator
}

// NewPipelineWorker creates a new pipeline worker.
func NewPipelineWorker(orchestrator *pipeline.Orchestrator) *PipelineWorker {
	return &PipelineWorker{orchestrator: orchestrator}
}

// ProcessFullPipeline handles a pipeline:full task.
func (w *PipelineWorker) ProcessFullPipeline(ctx context.Context, t *asynq.Task) error {
	var payload service.FullPipelinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal pipeline payload: %w", err)
	}

	log.Printf("Worker picked up full pipeline for project %s", payload.ProjectID)
	return w.orchestrator.RunFullPipeline(ctx, payload.ProjectID)
}

// ProcessStep handles a pipeline:step task.
func (w *PipelineWorker) ProcessStep(ctx context.Context, t *asynq.Task) error {
	var payload service.StepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal step payload: %w", err)
	}

	if _, ok := model.ParseStep(string(payload.Step)); !ok {
		return fmt.Errorf("unknown pipeline step %q", payload.Step)
	}

	log.Printf("Worker picked up step %s for project %s", payload.Step, payload.ProjectID)
	return w.orchestrator.RunSingleStep(ctx, payload.ProjectID, payload.Step)
}
