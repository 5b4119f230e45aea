package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/orafaelscosta/music/internal/model"
	"github.com/orafaelscosta/music/internal/progress"
	"github.com/orafaelscosta/music/internal/store"
)

// ProgressFunc reports percent-complete and a free-text message for the
// step currently running. Handlers call it as often as they like; percent
// is clamped to 0-100.
type ProgressFunc func(percent int, message string)

// StepFunc runs one pipeline step for a project. A step reads its inputs
// from the project's storage directory and the project fields, writes its
// outputs back to storage, and returns an error on unrecoverable failure.
// Steps must not touch Status or CurrentStep; the orchestrator owns those.
type StepFunc func(ctx context.Context, project *model.Project, report ProgressFunc) error

// stepStatus maps each step to the lifecycle status a project enters while
// that step runs. Several steps share a status on purpose.
var stepStatus = map[model.PipelineStep]model.ProjectStatus{
	model.StepSeparation: model.StatusAnalyzing,
	model.StepAnalysis:   model.StatusAnalyzing,
	model.StepMelody:     model.StatusMelodyReady,
	model.StepSynthesis:  model.StatusSynthesizing,
	model.StepRefinement: model.StatusRefining,
	model.StepMix:        model.StatusMixing,
}

// Orchestrator runs the vocal production pipeline for one project at a
// time: fixed step order, per-project skip predicates, strictly sequential
// execution, first failure halts the run.
type Orchestrator struct {
	store     store.ProjectStore
	publisher progress.Publisher
	handlers  map[model.PipelineStep]StepFunc
}

// NewOrchestrator builds an orchestrator over the given handler table. It
// fails fast when any runnable step lacks a handler, so a miswired table
// is caught at startup rather than mid-run.
func NewOrchestrator(projectStore store.ProjectStore, publisher progress.Publisher, handlers map[model.PipelineStep]StepFunc) (*Orchestrator, error) {
	for _, step := range model.StepOrder {
		if step == model.StepUpload {
			continue
		}
		if _, ok := handlers[step]; !ok {
			return nil, fmt.Errorf("no handler registered for step %s", step)
		}
	}

	return &Orchestrator{
		store:     projectStore,
		publisher: publisher,
		handlers:  handlers,
	}, nil
}

// shouldSkip evaluates the skip predicate for a step against a project.
func shouldSkip(project *model.Project, step model.PipelineStep) (bool, string) {
	switch step {
	case model.StepUpload:
		return true, "upload is completed before the pipeline starts"
	case model.StepSeparation:
		if !project.HasVocals {
			return true, "source audio is a pure instrumental"
		}
	case model.StepMelody:
		if !project.SynthesisEngine.UsesNoteSequence() {
			return true, fmt.Sprintf("engine %s synthesizes directly from lyrics", project.SynthesisEngine)
		}
	}
	return false, ""
}

// RunFullPipeline executes every non-skipped step in order for the
// project. Step failures are captured here: the project is marked errored,
// an error event is published, and the run stops. The caller decides
// whether a failed or missing project warrants a re-enqueue.
func (o *Orchestrator) RunFullPipeline(ctx context.Context, projectID string) error {
	project, err := o.store.Load(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			log.Printf("Pipeline run for unknown project %s, skipping", projectID)
			return nil
		}
		return fmt.Errorf("failed to load project %s: %w", projectID, err)
	}

	log.Printf("Starting full pipeline for project %s", projectID)

	for _, step := range model.StepOrder {
		if skip, reason := shouldSkip(project, step); skip {
			if step != model.StepUpload {
				log.Printf("Skipping step %s for project %s: %s", step, projectID, reason)
			}
			continue
		}

		o.publish(ctx, project.ID, string(step), 0, fmt.Sprintf("Starting %s...", step), model.ProgressProcessing, 0, nil)

		if err := o.RunStep(ctx, project, step); err != nil {
			return o.failRun(ctx, project, step, err)
		}

		o.publish(ctx, project.ID, string(step), 100, fmt.Sprintf("%s completed", step), model.ProgressCompleted, 0, nil)
	}

	project.Status = model.StatusCompleted
	project.Progress = 100
	if err := o.store.Save(ctx, project); err != nil {
		return fmt.Errorf("failed to save completed project %s: %w", projectID, err)
	}

	o.publish(ctx, project.ID, "completed", 100, "Pipeline completed", model.ProgressCompleted, 0, nil)
	log.Printf("Full pipeline completed for project %s", projectID)
	return nil
}

// RunSingleStep loads the project and runs exactly one step with the same
// error containment as a full run. Used when a caller re-runs one stage,
// for example after manual edits to melody data. A step the project would
// skip in a full run (upload always, separation without vocals, melody for
// text-to-audio engines) is a no-op success, never an error.
func (o *Orchestrator) RunSingleStep(ctx context.Context, projectID string, step model.PipelineStep) error {
	project, err := o.store.Load(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			log.Printf("Step %s for unknown project %s, skipping", step, projectID)
			return nil
		}
		return fmt.Errorf("failed to load project %s: %w", projectID, err)
	}

	if skip, reason := shouldSkip(project, step); skip {
		log.Printf("Step %s is a no-op for project %s: %s", step, projectID, reason)
		return nil
	}

	o.publish(ctx, project.ID, string(step), 0, fmt.Sprintf("Starting %s...", step), model.ProgressProcessing, 0, nil)

	if err := o.RunStep(ctx, project, step); err != nil {
		return o.failRun(ctx, project, step, err)
	}

	o.publish(ctx, project.ID, string(step), 100, fmt.Sprintf("%s completed", step), model.ProgressCompleted, 0, nil)
	return nil
}

// RunStep dispatches one step to its handler. CurrentStep and Progress are
// persisted before the handler starts so a concurrent status poll reflects
// the new step immediately; Progress is persisted again at step end rather
// than on every callback to bound write volume.
func (o *Orchestrator) RunStep(ctx context.Context, project *model.Project, step model.PipelineStep) error {
	handler, ok := o.handlers[step]
	if !ok {
		return fmt.Errorf("no handler registered for step %s", step)
	}

	log.Printf("Starting step %s for project %s", step, project.ID)

	project.CurrentStep = step
	project.Progress = 0
	if status, ok := stepStatus[step]; ok {
		project.Status = status
	}
	if err := o.store.Save(ctx, project); err != nil {
		return fmt.Errorf("failed to save project before step %s: %w", step, err)
	}

	start := time.Now()
	report := func(percent int, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}

		elapsed := int(time.Since(start).Seconds())
		var eta *int
		if percent > 0 && percent < 100 {
			// Linear extrapolation, no smoothing. Inaccurate for steps
			// dominated by model load time, and left that way.
			v := elapsed * (100 - percent) / percent
			eta = &v
		}

		o.publish(ctx, project.ID, string(step), percent, message, model.ProgressProcessing, elapsed, eta)
		project.Progress = percent
	}

	if err := handler(ctx, project, report); err != nil {
		return err
	}

	project.Progress = 100
	if err := o.store.Save(ctx, project); err != nil {
		return fmt.Errorf("failed to save project after step %s: %w", step, err)
	}

	log.Printf("Completed step %s for project %s", step, project.ID)
	return nil
}

// failRun marks the project errored, persists it and publishes an error
// event. The step error is not propagated further; a failed project needs
// an explicit external restart.
func (o *Orchestrator) failRun(ctx context.Context, project *model.Project, step model.PipelineStep, stepErr error) error {
	log.Printf("Step %s failed for project %s: %v", step, project.ID, stepErr)

	project.Status = model.StatusError
	project.ErrorMessage = fmt.Sprintf("step %s failed: %v", step, stepErr)
	if err := o.store.Save(ctx, project); err != nil {
		log.Printf("Failed to persist error state for project %s: %v", project.ID, err)
	}

	o.publish(ctx, project.ID, "error", 0, project.ErrorMessage, model.ProgressError, 0, nil)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, projectID, step string, percent int, message string, status model.ProgressState, elapsed int, eta *int) {
	o.publisher.Publish(ctx, progress.Event{
		Type:           "progress",
		ProjectID:      projectID,
		Step:           step,
		Progress:       percent,
		Message:        message,
		Status:         status,
		ElapsedSeconds: elapsed,
		ETASeconds:     eta,
		Timestamp:      time.Now().Unix(),
	})
}
