package optimistic

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/models"
)

// Mutator performs the real write against the server.
type Mutator interface {
	CreateTask(ctx context.Context, task models.Task) (models.Task, error)
	UpdateTask(ctx context.Context, id uuid.UUID, patch models.TaskPatch) (models.Task, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
}

// Fetcher re-reads the authoritative list after a successful write.
type Fetcher interface {
	FetchTasks(ctx context.Context) ([]models.Task, error)
}

type FetcherFunc func(ctx context.Context) ([]models.Task, error)

func (f FetcherFunc) FetchTasks(ctx context.Context) ([]models.Task, error) {
	return f(ctx)
}

// Result reports the outcome of a submitted action.
type Result struct {
	Action  Action
	Entries []Entry
	Task    models.Task
	Failed  bool
	Message string
	Err     error
}

type Dispatcher struct {
	list    *List
	mutator Mutator
	fetcher Fetcher
	log     logrus.FieldLogger
	busy    atomic.Bool
}

func NewDispatcher(list *List, mutator Mutator, fetcher Fetcher, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{list: list, mutator: mutator, fetcher: fetcher, log: log}
}

func (d *Dispatcher) List() *List {
	return d.list
}

func (d *Dispatcher) InFlight() bool {
	return d.busy.Load()
}

// Submit applies action to the view, performs the write, and on success
// replaces the view with a fresh server read. On failure the overlay stays
// in place and the returned Result carries the message to show. A second
// Submit while one is running returns ErrMutationInFlight.
func (d *Dispatcher) Submit(ctx context.Context, action Action) (*Result, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return nil, ErrMutationInFlight
	}
	defer d.busy.Store(false)

	d.list.Apply(action)

	task, err := d.write(ctx, action)
	if err != nil {
		d.log.WithError(err).WithField("action", action.Kind.String()).Warn("mutation failed")
		return &Result{
			Action:  action,
			Entries: d.list.Entries(),
			Failed:  true,
			Message: ErrorMessage(err),
			Err:     err,
		}, nil
	}

	tasks, err := d.fetcher.FetchTasks(ctx)
	if err != nil {
		d.log.WithError(err).Warn("refresh after mutation failed")
		return &Result{
			Action:  action,
			Entries: d.list.Entries(),
			Task:    task,
			Failed:  true,
			Message: ErrorMessage(err),
			Err:     err,
		}, nil
	}
	d.list.Reset(tasks)

	return &Result{Action: action, Entries: d.list.Entries(), Task: task}, nil
}

func (d *Dispatcher) write(ctx context.Context, action Action) (models.Task, error) {
	switch action.Kind {
	case ActionCreate:
		return d.mutator.CreateTask(ctx, action.Task)
	case ActionUpdate:
		return d.mutator.UpdateTask(ctx, action.ID, action.Patch)
	case ActionDelete:
		return models.Task{}, d.mutator.DeleteTask(ctx, action.ID)
	}
	return models.Task{}, fmt.Errorf("unknown action kind %d", action.Kind)
}
