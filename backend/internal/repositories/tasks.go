package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"

	"taskify/backend/internal/models"
	"taskify/backend/internal/validation"
)

// ErrNotFound is returned when a row does not exist or belongs to another
// user. Callers cannot tell the two apart.
var ErrNotFound = errors.New("record not found")

var allowedSort = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"due_date":   true,
	"title":      true,
	"status":     true,
}

// TaskRepository is the persistence gateway for tasks. Every method takes
// the owning user's id and scopes the query to it.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) scoped(ctx context.Context, owner uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Task{}).Where("user_id = ?", owner)
}

// Create stores task for owner. Any id on task is replaced.
func (r *TaskRepository) Create(ctx context.Context, owner uuid.UUID, task models.Task) (models.Task, error) {
	task.ID = uuid.Nil
	task.UserID = owner
	if task.Status == "" {
		task.Status = models.StatusTodo
	}
	if err := validation.CheckRecord(task); err != nil {
		return models.Task{}, err
	}
	if err := r.db.WithContext(ctx).Create(&task).Error; err != nil {
		return models.Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// Update applies patch to the owner's task and returns the stored result.
func (r *TaskRepository) Update(ctx context.Context, owner, id uuid.UUID, patch models.TaskPatch) (models.Task, error) {
	var updated models.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Task
		if err := tx.Where("id = ? AND user_id = ?", id, owner).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load task: %w", err)
		}

		updated = patch.ApplyTo(current)
		if err := validation.CheckRecord(updated); err != nil {
			return err
		}
		if patch.IsEmpty() {
			return nil
		}

		result := tx.Model(&models.Task{}).
			Where("id = ? AND user_id = ?", id, owner).
			Updates(patch.Columns())
		if result.Error != nil {
			return fmt.Errorf("failed to update task: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return models.Task{}, err
	}
	return updated, nil
}

func (r *TaskRepository) Delete(ctx context.Context, owner, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, owner).Delete(&models.Task{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) FindOne(ctx context.Context, owner, id uuid.UUID) (models.Task, error) {
	var task models.Task
	if err := r.scoped(ctx, owner).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Task{}, ErrNotFound
		}
		return models.Task{}, fmt.Errorf("failed to find task: %w", err)
	}
	return task, nil
}

// FindMany lists the owner's tasks matching filter. A DueBefore bound
// excludes tasks without a due date.
func (r *TaskRepository) FindMany(ctx context.Context, owner uuid.UUID, filter models.TaskFilter) ([]models.Task, error) {
	q := r.scoped(ctx, owner)
	if filter.DueBefore != nil {
		q = q.Where("due_date IS NOT NULL AND due_date <= ?", *filter.DueBefore)
	}
	if filter.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTill != nil {
		q = q.Where("created_at <= ?", *filter.CreatedTill)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	sortBy := filter.SortBy
	if !allowedSort[sortBy] {
		sortBy = "created_at"
	}
	order := filter.Order
	if order != "asc" && order != "desc" {
		order = "asc"
	}

	tasks := []models.Task{}
	if err := q.Order(sortBy + " " + order).Order("id").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}
