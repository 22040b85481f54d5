package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

var TaskStatuses = []TaskStatus{StatusTodo, StatusInProgress, StatusDone}

var statusLabels = map[TaskStatus]string{
	StatusTodo:       "To Do",
	StatusInProgress: "In Progress",
	StatusDone:       "Done",
}

func (s TaskStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label is the human-readable name shown in the UI.
func (s TaskStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

type Task struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	Title       string     `json:"title" gorm:"size:256;not null"`
	Description string     `json:"description" gorm:"size:2000;not null;default:''"`
	Status      TaskStatus `json:"status" gorm:"size:20;not null;default:'TODO'"`
	DueDate     *time.Time `json:"due_date" gorm:"index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		t.ID = id
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	return nil
}

// TaskPatch carries the fields of a partial update. A nil pointer leaves the
// field untouched; ClearDueDate removes the due date.
type TaskPatch struct {
	Title        *string     `json:"title,omitempty"`
	Description  *string     `json:"description,omitempty"`
	Status       *TaskStatus `json:"status,omitempty"`
	DueDate      *time.Time  `json:"due_date,omitempty"`
	ClearDueDate bool        `json:"-"`
}

func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.DueDate == nil && !p.ClearDueDate
}

// ApplyTo returns a copy of t with the patch fields overwritten.
func (p TaskPatch) ApplyTo(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	} else if p.ClearDueDate {
		t.DueDate = nil
	}
	return t
}

// Columns maps the patch onto column updates. A map is used so that empty
// strings still overwrite.
func (p TaskPatch) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.DueDate != nil {
		cols["due_date"] = *p.DueDate
	} else if p.ClearDueDate {
		cols["due_date"] = nil
	}
	return cols
}

// PatchFrom builds a patch that sets every editable field of t.
func PatchFrom(t Task) TaskPatch {
	title, desc, status := t.Title, t.Description, t.Status
	p := TaskPatch{Title: &title, Description: &desc, Status: &status}
	if t.DueDate != nil {
		d := *t.DueDate
		p.DueDate = &d
	} else {
		p.ClearDueDate = true
	}
	return p
}

type TaskFilter struct {
	DueBefore   *time.Time
	CreatedFrom *time.Time
	CreatedTill *time.Time
	Status      TaskStatus
	SortBy      string
	Order       string
}
