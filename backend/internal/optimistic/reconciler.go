// Package optimistic keeps a client-held view of a task list with at most
// one pending mutation layered on top of the last list read from the server.
package optimistic

import (
	"sync"

	"github.com/gofrs/uuid"

	"taskify/backend/internal/models"
)

// Sentinel ids shown for entries the server has not confirmed yet.
const (
	CreatingID = "optimistic"
	DeletingID = "delete"
)

type EntryKind int

const (
	Confirmed EntryKind = iota
	PendingCreate
	PendingDelete
)

func (k EntryKind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case PendingCreate:
		return "pending_create"
	case PendingDelete:
		return "pending_delete"
	}
	return "unknown"
}

// Entry is one row of the view.
type Entry struct {
	Kind EntryKind
	Task models.Task
}

// ID is the identifier the view exposes for the entry. Pending kinds expose
// their sentinel instead of the task id.
func (e Entry) ID() string {
	switch e.Kind {
	case PendingCreate:
		return CreatingID
	case PendingDelete:
		return DeletingID
	}
	return e.Task.ID.String()
}

func (e Entry) Pending() bool {
	return e.Kind != Confirmed
}

type ActionKind int

const (
	ActionCreate ActionKind = iota + 1
	ActionUpdate
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// Action describes an intended mutation.
type Action struct {
	Kind  ActionKind
	ID    uuid.UUID
	Task  models.Task
	Patch models.TaskPatch
}

func Create(task models.Task) Action {
	return Action{Kind: ActionCreate, Task: task}
}

func Update(id uuid.UUID, patch models.TaskPatch) Action {
	return Action{Kind: ActionUpdate, ID: id, Patch: patch}
}

func Delete(id uuid.UUID) Action {
	return Action{Kind: ActionDelete, ID: id}
}

// Entries wraps server tasks as confirmed entries.
func Entries(tasks []models.Task) []Entry {
	out := make([]Entry, len(tasks))
	for i, t := range tasks {
		out[i] = Entry{Kind: Confirmed, Task: t}
	}
	return out
}

// Apply returns the view after action. It never modifies entries.
func Apply(entries []Entry, action Action) []Entry {
	out := make([]Entry, len(entries), len(entries)+1)
	copy(out, entries)

	switch action.Kind {
	case ActionCreate:
		return append(out, Entry{Kind: PendingCreate, Task: action.Task})
	case ActionUpdate:
		for i, e := range out {
			if e.Kind == PendingDelete || e.Task.ID != action.ID {
				continue
			}
			out[i].Task = action.Patch.ApplyTo(e.Task)
		}
	case ActionDelete:
		for i, e := range out {
			if e.Task.ID == action.ID {
				out[i].Kind = PendingDelete
			}
		}
	}
	return out
}

// List is the mutable holder of a view, safe for concurrent use.
type List struct {
	mu      sync.RWMutex
	entries []Entry
	pending *Action
}

func NewList(tasks []models.Task) *List {
	return &List{entries: Entries(tasks)}
}

// Entries returns a snapshot of the view.
func (l *List) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Apply layers action onto the view and records it as the pending action.
func (l *List) Apply(action Action) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = Apply(l.entries, action)
	a := action
	l.pending = &a
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Reset replaces the view with a fresh server list and drops the overlay.
func (l *List) Reset(tasks []models.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = Entries(tasks)
	l.pending = nil
}

// Pending returns the last applied action not yet cleared by Reset.
func (l *List) Pending() (Action, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.pending == nil {
		return Action{}, false
	}
	return *l.pending, true
}
