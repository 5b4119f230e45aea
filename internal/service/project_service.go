package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orafaelscosta/music/internal/model"
	"github.com/orafaelscosta/music/internal/store"
)

// ProjectService handles project record lifecycle. Upload byte plumbing
// and deletion of artifacts live outside the pipeline core.
type ProjectService struct {
	store store.ProjectStore
}

func NewProjectService(projectStore store.ProjectStore) *ProjectService {
	return &ProjectService{store: projectStore}
}

// Create makes a new project record in the created state.
func (s *ProjectService) Create(ctx context.Context, req *model.CreateProjectRequest) (*model.Project, error) {
	engine := req.SynthesisEngine
	if engine == "" {
		engine = model.EngineDiffSinger
	}
	language := req.Language
	if language == "" {
		language = "it"
	}

	now := time.Now()
	project := &model.Project{
		ID:                   uuid.New().String(),
		Name:                 req.Name,
		Description:          req.Description,
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

	return project, nil
}

// Get loads a project by id.
func (s *ProjectService) Get(ctx context.Context, id string) (*model.Project, error) {
	return s.store.Load(ctx, id)
}

// Delete removes a project record.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}
