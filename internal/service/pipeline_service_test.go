package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orafaelscosta/music/internal/model"
	"github.com/orafaelscosta/music/internal/pipeline"
	"github.com/orafaelscosta/music/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	projects map[string]model.Project
}

func newMemStore() *memStore {
	return &memStore{projects: make(map[string]model.Project)}
}

func (s *memStore) Create(ctx context.Context, p *model.Project) error {
	return s.Save(ctx, p)
}

func (s *memStore) Load(_ context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrProjectNotFound
	}
	copied := p
	return &copied, nil
}

func (s *memStore) Save(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = *p
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

// fakeEnqueuer records enqueued tasks and can simulate the queue's
// duplicate-task rejection.
type fakeEnqueuer struct {
	tasks     []*asynq.Task
	duplicate bool
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.duplicate {
		return nil, asynq.ErrDuplicateTask
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func newUploadedProject(t *testing.T, st *memStore) *model.Project {
	t.Helper()
	p := &model.Project{
		ID:                   "proj-1",
		Name:                 "test track",
		Status:               model.StatusCreated,
		SynthesisEngine:      model.EngineDiffSinger,
		Lyrics:               "la la la",
		AudioFormat:          "wav",
		InstrumentalFilename: "track.wav",
	}
	require.NoError(t, st.Create(context.Background(), p))
	return p
}

func newService(st *memStore, q TaskEnqueuer, storageRoot string) *PipelineService {
	return NewPipelineService(st, q, storageRoot, time.Hour)
}

func TestEnqueueFullPipeline(t *testing.T) {
	st := newMemStore()
	q := &fakeEnqueuer{}
	svc := newService(st, q, t.TempDir())
	p := newUploadedProject(t, st)

	require.NoError(t, svc.EnqueueFullPipeline(context.Background(), p.ID))

	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskTypePipelineFull, q.tasks[0].Type())

	var payload FullPipelinePayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	assert.Equal(t, p.ID, payload.ProjectID)

	saved, _ := st.Load(context.Background(), p.ID)
	assert.Equal(t, model.StatusAnalyzing, saved.Status)
	assert.Equal(t, model.StepAnalysis, saved.CurrentStep)
	assert.Zero(t, saved.Progress)
}

func TestEnqueueFullPipeline_VocalsStartAtSeparation(t *testing.T) {
	st := newMemStore()
	svc := newService(st, &fakeEnqueuer{}, t.TempDir())
	p := newUploadedProject(t, st)
	p.HasVocals = true
	require.NoError(t, st.Save(context.Background(), p))

	require.NoError(t, svc.EnqueueFullPipeline(context.Background(), p.ID))

	saved, _ := st.Load(context.Background(), p.ID)
	assert.Equal(t, model.StatusAnalyzing, saved.Status)
	assert.Equal(t, model.StepSeparation, saved.CurrentStep)
}

func TestEnqueueFullPipeline_AlreadyRunning(t *testing.T) {
	st := newMemStore()
	svc := newService(st, &fakeEnqueuer{duplicate: true}, t.TempDir())
	p := newUploadedProject(t, st)

	err := svc.EnqueueFullPipeline(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrPipelineRunning)
}

func TestEnqueueFullPipeline_UnknownProject(t *testing.T) {
	svc := newService(newMemStore(), &fakeEnqueuer{}, t.TempDir())

	err := svc.EnqueueFullPipeline(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrProjectNotFound)
}

func TestEnqueueFullPipeline_RequiresUpload(t *testing.T) {
	st := newMemStore()
	p := &model.Project{ID: "proj-1", Status: model.StatusCreated}
	require.NoError(t, st.Create(context.Background(), p))
	svc := newService(st, &fakeEnqueuer{}, t.TempDir())

	err := svc.EnqueueFullPipeline(context.Background(), p.ID)

	var prereq *ErrStepPrerequisite
	require.ErrorAs(t, err, &prereq)
	assert.Contains(t, prereq.Error(), "instrumental")
}

func TestQuickStart(t *testing.T) {
	st := newMemStore()
	q := &fakeEnqueuer{}
	svc := newService(st, q, t.TempDir())

	project, err := svc.QuickStart(context.Background(), &model.QuickStartRequest{
		Lyrics:      "la la la",
		Filename:    "my track.wav",
		AudioFormat: "wav",
	})
	require.NoError(t, err)

	assert.Equal(t, "my track", project.Name)
	assert.Equal(t, model.EngineDiffSinger, project.SynthesisEngine)
	assert.Equal(t, "it", project.Language)
	assert.Equal(t, "my track.wav", project.InstrumentalFilename)
	assert.Equal(t, model.StatusAnalyzing, project.Status)
	assert.Equal(t, model.StepAnalysis, project.CurrentStep)

	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskTypePipelineFull, q.tasks[0].Type())

	var payload FullPipelinePayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	assert.Equal(t, project.ID, payload.ProjectID)
}

func TestQuickStart_KeepsExplicitFields(t *testing.T) {
	st := newMemStore()
	svc := newService(st, &fakeEnqueuer{}, t.TempDir())

	project, err := svc.QuickStart(context.Background(), &model.QuickStartRequest{
		Name:            "Aria",
		Lyrics:          "words",
		Language:        "en",
		HasVocals:       true,
		SynthesisEngine: model.EngineACEStep,
		Filename:        "demo.mp3",
		AudioFormat:     "mp3",
	})
	require.NoError(t, err)

	assert.Equal(t, "Aria", project.Name)
	assert.Equal(t, model.EngineACEStep, project.SynthesisEngine)
	assert.Equal(t, "en", project.Language)
	assert.True(t, project.HasVocals)
	assert.Equal(t, model.StepSeparation, project.CurrentStep)
}

func TestEnqueueStep(t *testing.T) {
	st := newMemStore()
	q := &fakeEnqueuer{}
	svc := newService(st, q, t.TempDir())
	p := newUploadedProject(t, st)
	p.BPM = 120
	require.NoError(t, st.Save(context.Background(), p))

	require.NoError(t, svc.EnqueueStep(context.Background(), p.ID, model.StepMelody))

	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskTypePipelineStep, q.tasks[0].Type())

	var payload StepPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	assert.Equal(t, model.StepMelody, payload.Step)

	saved, _ := st.Load(context.Background(), p.ID)
	assert.Equal(t, model.StepMelody, saved.CurrentStep)
	assert.Zero(t, saved.Progress)
}

func TestEnqueueStep_PrerequisiteMissing(t *testing.T) {
	st := newMemStore()
	svc := newService(st, &fakeEnqueuer{}, t.TempDir())
	p := newUploadedProject(t, st) // no BPM yet

	err := svc.EnqueueStep(context.Background(), p.ID, model.StepMelody)

	var prereq *ErrStepPrerequisite
	require.ErrorAs(t, err, &prereq)
	assert.Equal(t, model.StepMelody, prereq.Step)
	assert.Contains(t, prereq.Missing, "BPM")
}

func TestStepPrerequisite(t *testing.T) {
	p := &model.Project{}
	assert.NotEmpty(t, stepPrerequisite(p, model.StepAnalysis))
	assert.NotEmpty(t, stepPrerequisite(p, model.StepMelody))
	assert.NotEmpty(t, stepPrerequisite(p, model.StepSynthesis))
	assert.Empty(t, stepPrerequisite(p, model.StepRefinement))
	assert.Empty(t, stepPrerequisite(p, model.StepMix))

	p.InstrumentalFilename = "track.wav"
	p.BPM = 98
	p.Lyrics = "words"
	assert.Empty(t, stepPrerequisite(p, model.StepAnalysis))
	assert.Empty(t, stepPrerequisite(p, model.StepMelody))
	assert.Empty(t, stepPrerequisite(p, model.StepSynthesis))
}

func TestGetStatus_DerivesStepsFromArtifacts(t *testing.T) {
	st := newMemStore()
	root := t.TempDir()
	svc := newService(st, &fakeEnqueuer{}, root)

	p := newUploadedProject(t, st)
	p.BPM = 120
	p.Status = model.StatusSynthesizing
	p.CurrentStep = model.StepSynthesis
	p.Progress = 40
	require.NoError(t, st.Save(context.Background(), p))

	dir := pipeline.ProjectDir(root, p.ID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"instrumental.wav", pipeline.ArtifactMelodyJSON, pipeline.ArtifactMelodyMIDI, pipeline.ArtifactVocalsRaw} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	status, err := svc.GetStatus(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSynthesizing, status.Status)
	assert.Equal(t, model.StepSynthesis, status.CurrentStep)
	assert.Equal(t, 40, status.Progress)

	assert.True(t, status.Files["instrumental"])
	assert.True(t, status.Files[pipeline.ArtifactVocalsRaw])
	assert.False(t, status.Files[pipeline.ArtifactMixFinal])

	assert.True(t, status.Steps["upload"].Completed)
	assert.True(t, status.Steps["analysis"].Completed)
	assert.True(t, status.Steps["melody"].Completed)
	assert.True(t, status.Steps["synthesis"].Completed)
	assert.False(t, status.Steps["refinement"].Completed)
	assert.True(t, status.Steps["refinement"].Available)
	assert.False(t, status.Steps["mix"].Completed)
	assert.True(t, status.Steps["mix"].Available)
}

func TestGetStatus_UnknownProject(t *testing.T) {
	svc := newService(newMemStore(), &fakeEnqueuer{}, t.TempDir())

	_, err := svc.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrProjectNotFound)
}
