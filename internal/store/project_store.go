package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orafaelscosta/music/internal/model"
)

// ErrProjectNotFound is returned when a project id does not resolve to a
// stored record.
var ErrProjectNotFound = errors.New("project not found")

// ProjectStore persists project records. Implementations must provide
// read-your-writes consistency within a single orchestrator run; concurrent
// runs for the same project are prevented at the queue layer, not here.
type ProjectStore interface {
	Create(ctx context.Context, project *model.Project) error
	Load(ctx context.Context, id string) (*model.Project, error)
	Save(ctx context.Context, project *model.Project) error
	Delete(ctx context.Context, id string) error
}

const projectTTL = 7 * 24 * time.Hour

// RedisProjectStore stores projects as JSON blobs keyed by project id.
type RedisProjectStore struct {
	redis *redis.Client
}

// NewRedisProjectStore creates a Redis-backed project store.
func NewRedisProjectStore(redisClient *redis.Client) *RedisProjectStore {
	return &RedisProjectStore{redis: redisClient}
}

func projectKey(id string) string {
	return fmt.Sprintf("project:%s", id)
}

// Create stores a new project record.
func (s *RedisProjectStore) Create(ctx context.Context, project *model.Project) error {
	return s.Save(ctx, project)
}

// Load fetches a project by id.
func (s *RedisProjectStore) Load(ctx context.Context, id string) (*model.Project, error) {
	data, err := s.redis.Get(ctx, projectKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}

	var project model.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project %s: %w", id, err)
	}

	return &project, nil
}

// Save persists the project, refreshing its retention window.
func (s *RedisProjectStore) Save(ctx context.Context, project *model.Project) error {
	project.UpdatedAt = time.Now()

	data, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", project.ID, err)
	}

	if err := s.redis.Set(ctx, projectKey(project.ID), data, projectTTL).Err(); err != nil {
		return fmt.Errorf("failed to save project %s: %w", project.ID, err)
	}

	return nil
}

// Delete removes a project record.
func (s *RedisProjectStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, projectKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	return nil
}
