package handlers

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/middleware"
	"taskify/backend/internal/models"
	"taskify/backend/internal/optimistic"
	"taskify/backend/internal/utils"
	"taskify/backend/internal/validation"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// dateInput formats a due date for an <input type="date">.
func dateInput(t *time.Time) string {
	if t == nil {
		return ""
	}
	local := t.In(validation.Location)
	return utils.FormatDate(&local)
}

type statusSelect struct {
	Current  string
	Statuses []models.TaskStatus
}

var templateFuncs = template.FuncMap{
	"dateInput": dateInput,
	"statusSelect": func(current string, statuses []models.TaskStatus) statusSelect {
		return statusSelect{Current: current, Statuses: statuses}
	},
}

// Templates parses the embedded page templates for gin's HTML renderer.
func Templates() *template.Template {
	return template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.tmpl"))
}

type layoutData struct {
	Title string
	User  *auth.User
	CSRF  string
}

func layout(c *gin.Context, title string) layoutData {
	d := layoutData{Title: title, CSRF: middleware.CSRFToken(c)}
	if s := middleware.SessionFrom(c); s != nil {
		u := s.User
		d.User = &u
	}
	return d
}

// EntryView is one row as rendered. Pending rows are shown greyed out and,
// after a failed save, flagged. Retry rows carry an edit form filled with
// the values that failed to save.
type EntryView struct {
	ID       string
	Task     models.Task
	Pending  bool
	Creating bool
	Deleting bool
	Failed   bool
	Retry    bool
}

func entryViews(entries []optimistic.Entry, failed bool) []EntryView {
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryView{
			ID:       e.ID(),
			Task:     e.Task,
			Pending:  e.Pending(),
			Creating: e.Kind == optimistic.PendingCreate,
			Deleting: e.Kind == optimistic.PendingDelete,
			Failed:   failed && e.Pending(),
		})
	}
	return out
}

// markUpdated flags the entry an update was applied to; updates keep the
// entry confirmed, so entryViews cannot tell it apart on its own.
func markUpdated(views []EntryView, action optimistic.Action) {
	if action.Kind != optimistic.ActionUpdate {
		return
	}
	for i := range views {
		if views[i].Task.ID == action.ID && !views[i].Deleting {
			views[i].Pending = true
			views[i].Failed = true
			views[i].Retry = true
		}
	}
}

type filterOption struct {
	Value string
	Label string
}

var filterOptions = []filterOption{
	{"all", "All"},
	{"todo", models.StatusTodo.Label()},
	{"in_progress", models.StatusInProgress.Label()},
	{"done", models.StatusDone.Label()},
}

type listPage struct {
	layoutData
	Entries  []EntryView
	DueDate  string
	Filter   string
	Filters  []filterOption
	Statuses []models.TaskStatus
	Form     validation.TaskInput
	Errors   *validation.Errors
	Message  string
}

type taskPage struct {
	layoutData
	Entry    EntryView
	Gone     bool
	DueDate  string
	Filter   string
	Statuses []models.TaskStatus
	Form     validation.TaskInput
	Errors   *validation.Errors
	Message  string
}

type authPage struct {
	layoutData
	SignUp  bool
	Email   string
	Errors  *validation.Errors
	Message string
}

type accountPage struct {
	layoutData
	Form    validation.AccountInput
	Errors  *validation.Errors
	Message string
	Saved   bool
}

type errorPage struct {
	layoutData
	Status  int
	Message string
}

func renderError(c *gin.Context, status int, message string) {
	c.HTML(status, "error.tmpl", errorPage{
		layoutData: layout(c, http.StatusText(status)),
		Status:     status,
		Message:    message,
	})
}
