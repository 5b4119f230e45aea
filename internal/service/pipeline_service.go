package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/orafaelscosta/music/internal/model"
	"github.com/orafaelscosta/music/internal/pipeline"
	"github.com/orafaelscosta/music/internal/store"
)

// Task types
const (
	TaskTypePipelineFull = "pipeline:full"
	TaskTypePipelineStep = "pipeline:step"
)

const (
	queuePipeline = "pipeline"
)

// ErrPipelineRunning is returned when a run for the project is already in
// flight; the queue enforces single-flight per project.
var ErrPipelineRunning = errors.New("pipeline already running for this project")

// ErrStepPrerequisite is returned when a step's inputs are not in place.
type ErrStepPrerequisite struct {
	Step    model.PipelineStep
	Missing string
}

func (e *ErrStepPrerequisite) Error() string {
	return fmt.Sprintf("step %s prerequisite missing: %s", e.Step, e.Missing)
}

// TaskEnqueuer is the slice of asynq.Client the service uses.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// FullPipelinePayload is the task payload for a full pipeline run.
type FullPipelinePayload struct {
	ProjectID string `json:"projectId"`
}

// StepPayload is the task payload for a single step run.
type StepPayload struct {
	ProjectID string             `json:"projectId"`
	Step      model.PipelineStep `json:"step"`
}

// PipelineService queues pipeline work and answers status queries.
type PipelineService struct {
	store       store.ProjectStore
	tasks       TaskEnqueuer
	storageRoot string
	taskTimeout time.Duration
}

// NewPipelineService creates the pipeline service.
func NewPipelineService(projectStore store.ProjectStore, tasks TaskEnqueuer, storageRoot string, taskTimeout time.Duration) *PipelineService {
	return &PipelineService{
		store:       projectStore,
		tasks:       tasks,
		storageRoot: storageRoot,
		taskTimeout: taskTimeout,
	}
}

// EnqueueFullPipeline queues a full pipeline run for the project. A second
// enqueue while one run is in flight fails with ErrPipelineRunning.
func (s *PipelineService) EnqueueFullPipeline(ctx context.Context, projectID string) error {
	project, err := s.store.Load(ctx, projectID)
	if err != nil {
		return err
	}
	if project.InstrumentalFilename == "" {
		return &ErrStepPrerequisite{Step: model.StepAnalysis, Missing: "instrumental upload"}
	}

	data, err := json.Marshal(FullPipelinePayload{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypePipelineFull, data)
	_, err = s.tasks.EnqueueContext(ctx, task,
		asynq.Queue(queuePipeline),
		asynq.MaxRetry(0),
		asynq.Timeout(s.taskTimeout),
		asynq.Retention(24*time.Hour),
		asynq.Unique(s.taskTimeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return ErrPipelineRunning
		}
		return fmt.Errorf("failed to enqueue pipeline task: %w", err)
	}

	// Reflect the queued run right away so a status poll between enqueue
	// and worker pickup is not ambiguous.
	project.Status = model.StatusAnalyzing
	project.CurrentStep = model.StepAnalysis
	if project.HasVocals {
		project.CurrentStep = model.StepSeparation
	}
	project.Progress = 0
	project.ErrorMessage = ""
	return s.store.Save(ctx, project)
}

// QuickStart creates a project record and queues its full pipeline in one
// call. The instrumental is already in place when this runs; the request
// carries its recorded filename and format plus the lyrics and engine flags.
func (s *PipelineService) QuickStart(ctx context.Context, req *model.QuickStartRequest) (*model.Project, error) {
	engine := req.SynthesisEngine
	if engine == "" {
		engine = model.EngineDiffSinger
	}
	language := req.Language
	if language == "" {
		language = "it"
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename))
	}

	now := time.Now()
	project := &model.Project{
		ID:                   uuid.New().String(),
		Name:                 name,
		Status:               model.StatusCreated,
		Lyrics:               req.Lyrics,
		Language:             language,
		HasVocals:            req.HasVocals,
		SynthesisEngine:      engine,
		VoiceModel:           req.VoiceModel,
		AudioFormat:          req.AudioFormat,
		InstrumentalFilename: req.Filename,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.Create(ctx, project); err != nil {
		return nil, err
	}

	if err := s.EnqueueFullPipeline(ctx, project.ID); err != nil {
		return nil, err
	}

	return s.store.Load(ctx, project.ID)
}

// EnqueueStep queues one pipeline step for the project after checking its
// prerequisites.
func (s *PipelineService) EnqueueStep(ctx context.Context, projectID string, step model.PipelineStep) error {
	project, err := s.store.Load(ctx, projectID)
	if err != nil {
		return err
	}

	if missing := stepPrerequisite(project, step); missing != "" {
		return &ErrStepPrerequisite{Step: step, Missing: missing}
	}

	data, err := json.Marshal(StepPayload{ProjectID: projectID, Step: step})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypePipelineStep, data)
	_, err = s.tasks.EnqueueContext(ctx, task,
		asynq.Queue(queuePipeline),
		asynq.MaxRetry(0),
		asynq.Timeout(s.taskTimeout),
		asynq.Retention(24*time.Hour),
		asynq.Unique(s.taskTimeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return ErrPipelineRunning
		}
		return fmt.Errorf("failed to enqueue step task: %w", err)
	}

	project.CurrentStep = step
	project.Progress = 0
	project.ErrorMessage = ""
	return s.store.Save(ctx, project)
}

// stepPrerequisite returns the name of the missing input for a step, or ""
// when the step can run.
func stepPrerequisite(project *model.Project, step model.PipelineStep) string {
	switch step {
	case model.StepSeparation, model.StepAnalysis:
		if project.InstrumentalFilename == "" {
			return "instrumental upload"
		}
	case model.StepMelody:
		if project.BPM == 0 {
			return "audio analysis (BPM)"
		}
	case model.StepSynthesis:
		if project.Lyrics == "" {
			return "lyrics"
		}
	}
	return ""
}

// GetStatus returns the project's pipeline state plus a per-step view
// derived from which artifacts exist on disk.
func (s *PipelineService) GetStatus(ctx context.Context, projectID string) (*model.PipelineStatusResponse, error) {
	project, err := s.store.Load(ctx, projectID)
	if err != nil {
		return nil, err
	}

	files := map[string]bool{
		"instrumental": instrumentalExists(s.storageRoot, project),
	}
	for _, name := range []string{
		pipeline.ArtifactVocalsStem,
		pipeline.ArtifactMelodyJSON,
		pipeline.ArtifactMelodyMIDI,
		pipeline.ArtifactVocalsRaw,
		pipeline.ArtifactVocalsRefined,
		pipeline.ArtifactMixFinal,
	} {
		files[name] = pipeline.ArtifactExists(s.storageRoot, projectID, name)
	}

	steps := map[string]model.StepState{
		string(model.StepUpload): {
			Completed: files["instrumental"],
			Available: true,
		},
		string(model.StepSeparation): {
			Completed: files[pipeline.ArtifactVocalsStem],
			Available: files["instrumental"] && project.HasVocals,
		},
		string(model.StepAnalysis): {
			Completed: project.BPM != 0,
			Available: files["instrumental"],
		},
		string(model.StepMelody): {
			Completed: files[pipeline.ArtifactMelodyMIDI],
			Available: project.BPM != 0,
		},
		string(model.StepSynthesis): {
			Completed: files[pipeline.ArtifactVocalsRaw],
			Available: files[pipeline.ArtifactMelodyMIDI] || !project.SynthesisEngine.UsesNoteSequence(),
		},
		string(model.StepRefinement): {
			Completed: files[pipeline.ArtifactVocalsRefined],
			Available: files[pipeline.ArtifactVocalsRaw],
		},
		string(model.StepMix): {
			Completed: files[pipeline.ArtifactMixFinal],
			Available: files[pipeline.ArtifactVocalsRaw] || files[pipeline.ArtifactVocalsRefined],
		},
	}

	return &model.PipelineStatusResponse{
		ProjectID:    projectID,
		Status:       project.Status,
		CurrentStep:  project.CurrentStep,
		Progress:     project.Progress,
		ErrorMessage: project.ErrorMessage,
		Files:        files,
		Steps:        steps,
	}, nil
}

func instrumentalExists(storageRoot string, project *model.Project) bool {
	if project.AudioFormat == "" {
		return false
	}
	return pipeline.ArtifactExists(storageRoot, project.ID, "instrumental."+project.AudioFormat)
}
