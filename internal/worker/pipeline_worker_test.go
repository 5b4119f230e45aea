package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orafaelscosta/music/internal/model"
	"github.com/orafaelscosta/music/internal/pipeline"
	"github.com/orafaelscosta/music/internal/progress"
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

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, progress.Event) {}

func newTestWorker(t *testing.T, st *memStore, calls *[]model.PipelineStep) *PipelineWorker {
	t.Helper()
	handlers := make(map[model.PipelineStep]pipeline.StepFunc)
	for _, step := range model.StepOrder {
		if step == model.StepUpload {
			continue
		}
		step := step
		handlers[step] = func(context.Context, *model.Project, pipeline.ProgressFunc) error {
			*calls = append(*calls, step)
			return nil
		}
	}

	orc, err := pipeline.NewOrchestrator(st, nopPublisher{}, handlers)
	require.NoError(t, err)
	return NewPipelineWorker(orc)
}

func TestProcessFullPipeline(t *testing.T) {
	st := newMemStore()
	var calls []model.PipelineStep
	w := newTestWorker(t, st, &calls)

	p := &model.Project{ID: "proj-1", SynthesisEngine: model.EngineDiffSinger, HasVocals: true}
	require.NoError(t, st.Create(context.Background(), p))

	task := asynq.NewTask("pipeline:full", []byte(`{"projectId":"proj-1"}`))
	require.NoError(t, w.ProcessFullPipeline(context.Background(), task))

	assert.Len(t, calls, 6)
	saved, _ := st.Load(context.Background(), "proj-1")
	assert.Equal(t, model.StatusCompleted, saved.Status)
}

func TestProcessFullPipeline_BadPayload(t *testing.T) {
	w := newTestWorker(t, newMemStore(), &[]model.PipelineStep{})

	task := asynq.NewTask("pipeline:full", []byte("not json"))
	assert.Error(t, w.ProcessFullPipeline(context.Background(), task))
}

func TestProcessStep(t *testing.T) {
	st := newMemStore()
	var calls []model.PipelineStep
	w := newTestWorker(t, st, &calls)

	p := &model.Project{ID: "proj-1", SynthesisEngine: model.EngineDiffSinger}
	require.NoError(t, st.Create(context.Background(), p))

	task := asynq.NewTask("pipeline:step", []byte(`{"projectId":"proj-1","step":"mix"}`))
	require.NoError(t, w.ProcessStep(context.Background(), task))

	assert.Equal(t, []model.PipelineStep{model.StepMix}, calls)
}

func TestProcessStep_UnknownStep(t *testing.T) {
	w := newTestWorker(t, newMemStore(), &[]model.PipelineStep{})

	task := asynq.NewTask("pipeline:step", []byte(`{"projectId":"proj-1","step":"remaster"}`))
	err := w.ProcessStep(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remaster")
}
