package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/auth"
	"taskify/backend/internal/middleware"
	"taskify/backend/internal/models"
	"taskify/backend/internal/monitoring"
	"taskify/backend/internal/optimistic"
	"taskify/backend/internal/services"
	"taskify/backend/internal/utils"
	"taskify/backend/internal/validation"
)

const (
	dueDateCookie   = "dueDate"
	inFlightMessage = "Please wait, a change is already being saved."
)

// PageHandler renders the task pages and runs their form posts through the
// optimistic dispatcher of the page they came from.
type PageHandler struct {
	tasks  services.TaskService
	views  *Views
	secure bool
	now    func() time.Time
	log    logrus.FieldLogger
}

func NewPageHandler(tasks services.TaskService, views *Views, secureCookies bool, log logrus.FieldLogger) *PageHandler {
	return &PageHandler{
		tasks:  tasks,
		views:  views,
		secure: secureCookies,
		now:    time.Now,
		log:    log.WithField("component", "pages"),
	}
}

type listView struct {
	DueDate string
	Filter  string
	filter  models.TaskFilter
}

func (v listView) key() string {
	return "list:" + v.DueDate + ":" + v.Filter
}

func (v listView) url() string {
	q := url.Values{}
	q.Set("dueDate", v.DueDate)
	q.Set("filter", v.Filter)
	return "/tasks?" + q.Encode()
}

// resolveListView works out the date and status filter of a list page. An
// unusable date falls back to the cookie and then to today.
func (h *PageHandler) resolveListView(rawDate, rawFilter, cookie string) listView {
	today := h.now().In(validation.Location).Format(utils.DateLayout)
	v := listView{DueDate: today, Filter: "all"}

	for _, candidate := range []string{rawDate, cookie} {
		if candidate == "" {
			continue
		}
		if due, err := endOfDueDay(candidate); err == nil {
			v.DueDate = candidate
			v.filter.DueBefore = &due
			break
		}
	}
	if v.filter.DueBefore == nil {
		due, _ := endOfDueDay(today)
		v.filter.DueBefore = &due
	}

	if status, ok := statusFilter(rawFilter); ok && rawFilter != "" {
		v.Filter = rawFilter
		v.filter.Status = status
	}
	return v
}

func (h *PageHandler) listFromQuery(c *gin.Context) listView {
	cookie, _ := c.Cookie(dueDateCookie)
	v := h.resolveListView(c.Query("dueDate"), c.Query("filter"), cookie)
	if c.Query("dueDate") == v.DueDate {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(dueDateCookie, v.DueDate, 365*24*3600, "/", "", h.secure, true)
	}
	return v
}

func (h *PageHandler) listFromForm(c *gin.Context) listView {
	cookie, _ := c.Cookie(dueDateCookie)
	return h.resolveListView(c.PostForm("dueDate"), c.PostForm("filter"), cookie)
}

func (h *PageHandler) openList(ctx context.Context, session *auth.Session, v listView) (*optimistic.Dispatcher, bool, error) {
	m := services.NewSessionMutator(h.tasks, session, v.filter)
	return h.views.Open(ctx, session, v.key(), m, m)
}

// detailFetcher re-reads a single task. Once the task is gone the view is
// empty rather than failed.
func (h *PageHandler) detailFetcher(session *auth.Session, id uuid.UUID) optimistic.Fetcher {
	return optimistic.FetcherFunc(func(ctx context.Context) ([]models.Task, error) {
		t, err := h.tasks.GetTask(ctx, session, id.String())
		if errors.Is(err, services.ErrForbidden) {
			return []models.Task{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []models.Task{t}, nil
	})
}

func (h *PageHandler) openDetail(ctx context.Context, session *auth.Session, id uuid.UUID) (*optimistic.Dispatcher, bool, error) {
	m := services.NewSessionMutator(h.tasks, session, models.TaskFilter{})
	return h.views.Open(ctx, session, "task:"+id.String(), m, h.detailFetcher(session, id))
}

func (h *PageHandler) renderList(c *gin.Context, status int, v listView, entries []EntryView, form validation.TaskInput, errs *validation.Errors, message string) {
	c.HTML(status, "tasks.tmpl", listPage{
		layoutData: layout(c, "Tasks"),
		Entries:    entries,
		DueDate:    v.DueDate,
		Filter:     v.Filter,
		Filters:    filterOptions,
		Statuses:   models.TaskStatuses,
		Form:       form,
		Errors:     errs,
		Message:    message,
	})
}

// ListTasks renders /tasks. A fresh read replaces the view unless a save is
// still running, in which case its overlay is shown.
func (h *PageHandler) ListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	session := middleware.SessionFrom(c)
	v := h.listFromQuery(c)

	d, seeded, err := h.openList(ctx, session, v)
	if err != nil {
		h.log.WithError(err).Error("failed to open task list")
		renderError(c, statusFor(err), optimistic.ErrorMessage(err))
		return
	}
	if !seeded && !d.InFlight() {
		tasks, err := h.tasks.ListTasks(ctx, session, v.filter)
		if err != nil {
			renderError(c, statusFor(err), optimistic.ErrorMessage(err))
			return
		}
		d.List().Reset(tasks)
	}
	h.renderList(c, http.StatusOK, v, entryViews(d.List().Entries(), false), validation.TaskInput{Status: string(models.StatusTodo)}, nil, "")
}

// CreateTask handles the new-task form on the list page.
func (h *PageHandler) CreateTask(c *gin.Context) {
	ctx := c.Request.Context()
	session := middleware.SessionFrom(c)
	v := h.listFromForm(c)

	var in validation.TaskInput
	bindErr := bindForm(c, h.log, &in)

	d, _, err := h.openList(ctx, session, v)
	if err != nil {
		renderError(c, statusFor(err), optimistic.ErrorMessage(err))
		return
	}
	if bindErr != nil {
		h.renderList(c, http.StatusBadRequest, v, entryViews(d.List().Entries(), false), in, fieldErrors(bindErr), "")
		return
	}

	task, err := validation.ValidateNewTask(in)
	if err != nil {
		h.renderList(c, http.StatusBadRequest, v, entryViews(d.List().Entries(), false), in, fieldErrors(err), "")
		return
	}
	now := h.now().UTC()
	task.UserID = session.User.ID
	task.CreatedAt = now
	task.UpdatedAt = now

	res, err := d.Submit(ctx, optimistic.Create(task))
	if err != nil {
		monitoring.RecordMutation("create", "rejected")
		h.renderList(c, statusFor(err), v, entryViews(d.List().Entries(), false), in, nil, inFlightMessage)
		return
	}
	if res.Failed {
		monitoring.RecordMutation("create", "failed")
		h.renderList(c, statusFor(res.Err), v, entryViews(res.Entries, true), in, fieldErrors(res.Err), res.Message)
		return
	}
	monitoring.RecordMutation("create", "ok")
	c.Redirect(http.StatusSeeOther, v.url())
}

func (h *PageHandler) renderTask(c *gin.Context, status int, v listView, entries []EntryView, form validation.TaskInput, errs *validation.Errors, message string) {
	page := taskPage{
		layoutData: layout(c, "Task"),
		DueDate:    v.DueDate,
		Filter:     v.Filter,
		Statuses:   models.TaskStatuses,
		Form:       form,
		Errors:     errs,
		Message:    message,
	}
	if len(entries) == 0 {
		page.Gone = true
	} else {
		page.Entry = entries[0]
		page.Title = entries[0].Task.Title
	}
	c.HTML(status, "task.tmpl", page)
}

func formFromTask(t models.Task) validation.TaskInput {
	return validation.TaskInput{
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		DueDate:     dateInput(t.DueDate),
	}
}

// ShowTask renders /tasks/:id with the edit form filled from the stored task.
func (h *PageHandler) ShowTask(c *gin.Context) {
	ctx := c.Request.Context()
	session := middleware.SessionFrom(c)
	v := h.listFromQuery(c)

	if !utils.IsValidUUID(c.Param("id")) {
		renderError(c, http.StatusNotFound, "Task not found")
		return
	}
	task, err := h.tasks.GetTask(ctx, session, c.Param("id"))
	if err != nil {
		renderError(c, statusFor(err), optimistic.ErrorMessage(err))
		return
	}
	d, _, err := h.openDetail(ctx, session, task.ID)
	if err != nil {
		renderError(c, statusFor(err), optimistic.ErrorMessage(err))
		return
	}
	if !d.InFlight() {
		d.List().Reset([]models.Task{task})
	}
	h.renderTask(c, http.StatusOK, v, entryViews(d.List().Entries(), false), formFromTask(task), nil, "")
}

// UpdateTask handles the edit form. Posts from the list page carry
// view=list and go through the list's dispatcher instead.
func (h *PageHandler) UpdateTask(c *gin.Context) {
	ctx := c.Request.Context()
	session := middleware.SessionFrom(c)
	v := h.listFromForm(c)
	fromList := c.PostForm("view") == "list"

	id, err := validation.ValidateTaskID(c.Param("id"))
	if err != nil {
		renderError(c, http.StatusBadRequest, optimistic.ErrorMessage(err))
		return
	}

	var form validation.TaskInput
	bindErr := bindForm(c, h.log, &form)
	in := validation.TaskUpdateInput{ID: id.String()}
	for field, dst := range map[string]**string{
		"title":       &in.Title,
		"description": &in.Description,
		"status":      &in.Status,
		"due_date":    &in.DueDate,
	} {
		if value, ok := c.GetPostForm(field); ok {
			value := value
			*dst = &value
		}
	}

	var d *optimistic.Dispatcher
	if fromList {
		d, _, err = h.openList(ctx, session, v)
	} else {
		d, _, err = h.openDetail(ctx, session, id)
	}
	if err != nil {
		renderError(c, statusFor(err), optimistic.ErrorMessage(err))
		return
	}

	render := func(status int, entries []EntryView, errs *validation.Errors, message string) {
		if fromList {
			h.renderList(c, status, v, entries, validation.TaskInput{Status: string(models.StatusTodo)}, errs, message)
			return
		}
		h.renderTask(c, status, v, entries, form, errs, message)
	}

	if bindErr != nil {
		render(http.StatusBadRequest, entryViews(d.List().Entries(), false), fieldErrors(bindErr), "")
		return
	}

	_, patch, err := validation.ValidateUpdateTask(in)
	if err != nil {
		render(http.StatusBadRequest, entryViews(d.List().Entries(), false), fieldErrors(err), "")
		return
	}

	action := optimistic.Update(id, patch)
	res, err := d.Submit(ctx, action)
	if err != nil {
		monitoring.RecordMutation("update", "rejected")
		render(statusFor(err), entryViews(d.List().Entries(), false), nil, inFlightMessage)
		return
	}
	if res.Failed {
		monitoring.RecordMutation("update", "failed")
		entries := entryViews(res.Entries, true)
		markUpdated(entries, action)
		render(statusFor(res.Err), entries, fieldErrors(res.Err), res.Message)
		return
	}
	monitoring.RecordMutation("update", "ok")

	if fromList {
		c.Redirect(http.StatusSeeOther, v.url())
		return
	}
	c.Redirect(http.StatusSeeOther, "/tasks/"+id.String())
}

// DeleteTask handles delete buttons on both pages. A successful delete
// always lands on the list.
func (h *PageHandler) DeleteTask(c *gin.Context) {
	ctx := c.Request.Context()
	session := middleware.SessionFrom(c)
	v := h.listFromForm(c)
	fromList := c.PostForm("view") == "list"

	id, err := validation.ValidateTaskID(c.Param("id"))
	if err != nil {
		renderError(c, http.StatusBadRequest, optimistic.ErrorMessage(err))
		return
	}

	var d *optimistic.Dispatcher
	if fromList {
		d, _, err = h.openList(ctx, session, v)
	} else {
		d, _, err = h.openDetail(ctx, session, id)
	}
	if err != nil {
		renderError(c, statusFor(err), optimistic.ErrorMessage(err))
		return
	}

	render := func(status int, entries []EntryView, message string) {
		if fromList {
			h.renderList(c, status, v, entries, validation.TaskInput{Status: string(models.StatusTodo)}, nil, message)
			return
		}
		var form validation.TaskInput
		if len(entries) > 0 {
			form = formFromTask(entries[0].Task)
		}
		h.renderTask(c, status, v, entries, form, nil, message)
	}

	res, err := d.Submit(ctx, optimistic.Delete(id))
	if err != nil {
		monitoring.RecordMutation("delete", "rejected")
		render(statusFor(err), entryViews(d.List().Entries(), false), inFlightMessage)
		return
	}
	if res.Failed {
		monitoring.RecordMutation("delete", "failed")
		render(statusFor(res.Err), entryViews(res.Entries, true), res.Message)
		return
	}
	monitoring.RecordMutation("delete", "ok")
	c.Redirect(http.StatusSeeOther, v.url())
}
