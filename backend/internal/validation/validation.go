package validation

import (
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"taskify/backend/internal/models"
	"taskify/backend/internal/utils"
)

// TaskInput is the raw, untrusted form of a task as submitted by a form or
// JSON body.
type TaskInput struct {
	Title       string `json:"title" form:"title"`
	Description string `json:"description" form:"description"`
	Status      string `json:"status" form:"status"`
	DueDate     string `json:"due_date" form:"due_date"`
}

// TaskUpdateInput uses pointers so that omitted fields stay untouched.
type TaskUpdateInput struct {
	ID          string  `json:"id" form:"id"`
	Title       *string `json:"title" form:"title"`
	Description *string `json:"description" form:"description"`
	Status      *string `json:"status" form:"status"`
	DueDate     *string `json:"due_date" form:"due_date"`
}

type CredentialsInput struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type AccountInput struct {
	Name  string `json:"name" form:"name"`
	Email string `json:"email" form:"email"`
}

// Location is used to interpret date-only due dates.
var Location = time.Local

// ValidateNewTask checks a create payload and returns the coerced task. The
// returned task has no id or owner; those are assigned by the caller.
func ValidateNewTask(in TaskInput) (models.Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Status == "" {
		in.Status = string(models.StatusTodo)
	}

	errs := validate(TaskInsert, map[string]interface{}{
		"title":       in.Title,
		"description": in.Description,
		"status":      in.Status,
		"due_date":    in.DueDate,
	})
	if errs == nil {
		errs = NewErrors()
	}
	due := parseDueDate(in.DueDate, errs)
	if err := errs.OrNil(); err != nil {
		return models.Task{}, err
	}

	return models.Task{
		Title:       in.Title,
		Description: in.Description,
		Status:      models.TaskStatus(in.Status),
		DueDate:     due,
	}, nil
}

// ValidateUpdateTask checks a partial update. Only the fields present in the
// input are validated and carried into the patch.
func ValidateUpdateTask(in TaskUpdateInput) (uuid.UUID, models.TaskPatch, error) {
	instance := map[string]interface{}{"id": in.ID}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		in.Title = &t
		instance["title"] = t
	}
	if in.Description != nil {
		instance["description"] = *in.Description
	}
	if in.Status != nil {
		instance["status"] = *in.Status
	}
	if in.DueDate != nil {
		instance["due_date"] = *in.DueDate
	}

	errs := validate(TaskUpdate, instance)
	if errs == nil {
		errs = NewErrors()
	}
	if in.ID == "" && !errs.Has("id") {
		errs.Add("id", "Required")
	}

	var patch models.TaskPatch
	patch.Title = in.Title
	patch.Description = in.Description
	if in.Status != nil {
		s := models.TaskStatus(*in.Status)
		patch.Status = &s
	}
	if in.DueDate != nil {
		if strings.TrimSpace(*in.DueDate) == "" {
			patch.ClearDueDate = true
		} else {
			patch.DueDate = parseDueDate(*in.DueDate, errs)
		}
	}
	if err := errs.OrNil(); err != nil {
		return uuid.Nil, models.TaskPatch{}, err
	}

	id, err := uuid.FromString(in.ID)
	if err != nil {
		errs.Add("id", "Invalid format")
		return uuid.Nil, models.TaskPatch{}, errs
	}
	return id, patch, nil
}

func ValidateTaskID(raw string) (uuid.UUID, error) {
	errs := validate(TaskID, map[string]interface{}{"id": raw})
	if raw == "" {
		errs = NewErrors()
		errs.Add("id", "Required")
	}
	if err := errs.OrNil(); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		errs = NewErrors()
		errs.Add("id", "Invalid format")
		return uuid.Nil, errs
	}
	return id, nil
}

// ValidateCredentials normalises the email to lower case.
func ValidateCredentials(in CredentialsInput) (CredentialsInput, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	errs := validate(Credentials, map[string]interface{}{
		"email":    in.Email,
		"password": in.Password,
	})
	if in.Email == "" {
		if errs == nil {
			errs = NewErrors()
		}
		if !errs.Has("email") {
			errs.Add("email", "Required")
		}
	}
	if err := errs.OrNil(); err != nil {
		return CredentialsInput{}, err
	}
	return in, nil
}

// ValidateAccount checks an account update. An empty name is allowed and
// means "no name".
func ValidateAccount(in AccountInput) (AccountInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	instance := map[string]interface{}{"email": in.Email}
	if in.Name != "" {
		instance["name"] = in.Name
	}
	errs := validate(Account, instance)
	if err := errs.OrNil(); err != nil {
		return AccountInput{}, err
	}
	return in, nil
}

// CheckRecord verifies the constraints a stored task must satisfy. The
// persistence layer calls it before every write.
func CheckRecord(t models.Task) error {
	errs := NewErrors()
	if strings.TrimSpace(t.Title) == "" {
		errs.Add("title", "Required")
	} else if len([]rune(t.Title)) > 256 {
		errs.Add("title", "Must be at most 256 characters")
	}
	if len([]rune(t.Description)) > 2000 {
		errs.Add("description", "Must be at most 2000 characters")
	}
	if !t.Status.Valid() {
		errs.Add("status", "Invalid option")
	}
	if t.UserID == uuid.Nil {
		errs.Add("user_id", "Required")
	}
	return errs.OrNil()
}

// parseDueDate turns the raw due date into a UTC timestamp. A bare calendar
// date becomes the end of that day in Location.
func parseDueDate(raw string, errs *Errors) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || errs.Has("due_date") {
		return nil
	}
	t, err := utils.ParseDate(raw, Location)
	if err != nil {
		errs.Add("due_date", "Invalid date")
		return nil
	}
	if len(raw) == len(utils.DateLayout) {
		t = utils.EndOfDay(t)
	}
	t = t.UTC()
	return &t
}
