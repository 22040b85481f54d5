package services

import (
	"context"
	"time"

	"github.com/gofrs/uuid"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/models"
	"taskify/backend/internal/validation"
)

// SessionMutator runs task mutations and list reads as one signed-in user.
// It satisfies optimistic.Mutator and optimistic.Fetcher.
type SessionMutator struct {
	tasks   TaskService
	session *auth.Session
	filter  models.TaskFilter
}

func NewSessionMutator(tasks TaskService, session *auth.Session, filter models.TaskFilter) *SessionMutator {
	return &SessionMutator{tasks: tasks, session: session, filter: filter}
}

func formatDue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// InputFromTask converts a task back into the raw form validated by the
// task actions.
func InputFromTask(t models.Task) validation.TaskInput {
	return validation.TaskInput{
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		DueDate:     formatDue(t.DueDate),
	}
}

func UpdateInputFromPatch(id uuid.UUID, p models.TaskPatch) validation.TaskUpdateInput {
	in := validation.TaskUpdateInput{ID: id.String(), Title: p.Title, Description: p.Description}
	if p.Status != nil {
		s := string(*p.Status)
		in.Status = &s
	}
	if p.DueDate != nil {
		d := formatDue(p.DueDate)
		in.DueDate = &d
	} else if p.ClearDueDate {
		empty := ""
		in.DueDate = &empty
	}
	return in
}

func (m *SessionMutator) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	return m.tasks.CreateTask(ctx, m.session, InputFromTask(task))
}

func (m *SessionMutator) UpdateTask(ctx context.Context, id uuid.UUID, patch models.TaskPatch) (models.Task, error) {
	return m.tasks.UpdateTask(ctx, m.session, UpdateInputFromPatch(id, patch))
}

func (m *SessionMutator) DeleteTask(ctx context.Context, id uuid.UUID) error {
	_, err := m.tasks.DeleteTask(ctx, m.session, id.String())
	return err
}

func (m *SessionMutator) FetchTasks(ctx context.Context) ([]models.Task, error) {
	return m.tasks.ListTasks(ctx, m.session, m.filter)
}
