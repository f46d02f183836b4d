package asr

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/internal/infrastructure/shared"
	"brokle/pkg/ulid"
)

// TaskRepository implements asrDomain.TaskRepository using PostgreSQL.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) getDB(ctx context.Context) *gorm.DB {
	return shared.GetDB(ctx, r.db)
}

// Create implements asrDomain.TaskRepository.Create.
func (r *TaskRepository) Create(ctx context.Context, task *asrDomain.Task) error {
	if task.ID.IsZero() {
		task.ID = ulid.New()
	}
	return r.getDB(ctx).WithContext(ctx).Create(task).Error
}

// GetByID implements asrDomain.TaskRepository.GetByID.
func (r *TaskRepository) GetByID(ctx context.Context, id ulid.ULID) (*asrDomain.Task, error) {
	var task asrDomain.Task
	err := r.getDB(ctx).WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, asrDomain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// FindActiveByUserAndHash implements asrDomain.TaskRepository.FindActiveByUserAndHash:
// non-deleted tasks for userID sharing contentHash, newest first (§4.E step 2).
func (r *TaskRepository) FindActiveByUserAndHash(ctx context.Context, userID ulid.ULID, contentHash string) ([]*asrDomain.Task, error) {
	var tasks []*asrDomain.Task
	err := r.getDB(ctx).WithContext(ctx).
		Where("user_id = ? AND content_hash = ? AND deleted_at IS NULL", userID, contentHash).
		Order("created_at DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateStatus implements asrDomain.TaskRepository.UpdateStatus.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id ulid.ULID, status asrDomain.TaskStatus, stage string, progress int) error {
	now := time.Now().UTC()
	return r.getDB(ctx).WithContext(ctx).
		Model(&asrDomain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"stage":      stage,
			"progress":   progress,
			"updated_at": now,
		}).Error
}
