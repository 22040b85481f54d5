package services

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/cache"
	"taskify/backend/internal/models"
	"taskify/backend/internal/repositories"
	"taskify/backend/internal/validation"
)

type TaskService interface {
	CreateTask(ctx context.Context, session *auth.Session, input validation.TaskInput) (models.Task, error)
	UpdateTask(ctx context.Context, session *auth.Session, input validation.TaskUpdateInput) (models.Task, error)
	DeleteTask(ctx context.Context, session *auth.Session, rawID string) (models.Task, error)
	GetTask(ctx context.Context, session *auth.Session, rawID string) (models.Task, error)
	ListTasks(ctx context.Context, session *auth.Session, filter models.TaskFilter) ([]models.Task, error)
}

type TaskServiceImpl struct {
	repo  *repositories.TaskRepository
	lists *cache.TaskListCache
	log   logrus.FieldLogger
}

// NewTaskService accepts a nil lists cache, in which case every list is read
// from the store.
func NewTaskService(repo *repositories.TaskRepository, lists *cache.TaskListCache, log logrus.FieldLogger) *TaskServiceImpl {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TaskServiceImpl{repo: repo, lists: lists, log: log.WithField("component", "tasks")}
}

func owner(session *auth.Session) (uuid.UUID, error) {
	if session == nil || session.User.ID == uuid.Nil {
		return uuid.Nil, ErrUnauthorized
	}
	return session.User.ID, nil
}

func (s *TaskServiceImpl) CreateTask(ctx context.Context, session *auth.Session, input validation.TaskInput) (models.Task, error) {
	userID, err := owner(session)
	if err != nil {
		return models.Task{}, err
	}
	task, err := validation.ValidateNewTask(input)
	if err != nil {
		return models.Task{}, err
	}

	created, err := s.repo.Create(ctx, userID, task)
	if err != nil {
		return models.Task{}, s.storeError("create", err)
	}
	s.invalidate(ctx, userID)
	s.log.WithFields(logrus.Fields{"user_id": userID, "task_id": created.ID}).Info("task created")
	return created, nil
}

func (s *TaskServiceImpl) UpdateTask(ctx context.Context, session *auth.Session, input validation.TaskUpdateInput) (models.Task, error) {
	userID, err := owner(session)
	if err != nil {
		return models.Task{}, err
	}
	id, patch, err := validation.ValidateUpdateTask(input)
	if err != nil {
		return models.Task{}, err
	}

	updated, err := s.repo.Update(ctx, userID, id, patch)
	if err != nil {
		return models.Task{}, s.storeError("update", err)
	}
	s.invalidate(ctx, userID)
	s.log.WithFields(logrus.Fields{"user_id": userID, "task_id": id}).Info("task updated")
	return updated, nil
}

func (s *TaskServiceImpl) DeleteTask(ctx context.Context, session *auth.Session, rawID string) (models.Task, error) {
	userID, err := owner(session)
	if err != nil {
		return models.Task{}, err
	}
	id, err := validation.ValidateTaskID(rawID)
	if err != nil {
		return models.Task{}, err
	}

	task, err := s.repo.FindOne(ctx, userID, id)
	if err != nil {
		return models.Task{}, s.storeError("delete", err)
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return models.Task{}, s.storeError("delete", err)
	}
	s.invalidate(ctx, userID)
	s.log.WithFields(logrus.Fields{"user_id": userID, "task_id": id}).Info("task deleted")
	return task, nil
}

func (s *TaskServiceImpl) GetTask(ctx context.Context, session *auth.Session, rawID string) (models.Task, error) {
	userID, err := owner(session)
	if err != nil {
		return models.Task{}, err
	}
	id, err := validation.ValidateTaskID(rawID)
	if err != nil {
		return models.Task{}, err
	}
	task, err := s.repo.FindOne(ctx, userID, id)
	if err != nil {
		return models.Task{}, s.storeError("load", err)
	}
	return task, nil
}

func (s *TaskServiceImpl) ListTasks(ctx context.Context, session *auth.Session, filter models.TaskFilter) ([]models.Task, error) {
	userID, err := owner(session)
	if err != nil {
		return nil, err
	}

	load := func(ctx context.Context) ([]models.Task, error) {
		return s.repo.FindMany(ctx, userID, filter)
	}
	var tasks []models.Task
	if s.lists != nil {
		tasks, err = s.lists.GetOrLoad(ctx, userID, filter, load)
	} else {
		tasks, err = load(ctx)
	}
	if err != nil {
		return nil, s.storeError("list", err)
	}
	return tasks, nil
}

func (s *TaskServiceImpl) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.lists == nil {
		return
	}
	if err := s.lists.Invalidate(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("failed to invalidate task lists")
	}
}

// storeError maps gateway errors onto what callers may see. Missing and
// foreign rows both become ErrForbidden; validation errors pass through.
func (s *TaskServiceImpl) storeError(op string, err error) error {
	var verr *validation.Errors
	switch {
	case errors.As(err, &verr):
		return verr
	case errors.Is(err, repositories.ErrNotFound):
		return ErrForbidden
	}
	s.log.WithError(err).WithField("op", op).Error("task store failure")
	return &PersistenceError{Op: op, Err: err}
}
