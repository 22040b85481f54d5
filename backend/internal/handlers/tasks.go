package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/middleware"
	"taskify/backend/internal/models"
	"taskify/backend/internal/services"
	"taskify/backend/internal/utils"
	"taskify/backend/internal/validation"
)

// TaskHandler serves the JSON task API.
type TaskHandler struct {
	tasks services.TaskService
	log   logrus.FieldLogger
}

func NewTaskHandler(tasks services.TaskService, log logrus.FieldLogger) *TaskHandler {
	return &TaskHandler{tasks: tasks, log: log.WithField("component", "task_api")}
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var in validation.TaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := h.tasks.CreateTask(c.Request.Context(), middleware.SessionFrom(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// UpdateTask applies a partial update to the task named by the id query
// parameter. Fields missing from the body are left unchanged.
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	var in validation.TaskUpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if id := c.Query("id"); id != "" {
		in.ID = id
	}
	task, err := h.tasks.UpdateTask(c.Request.Context(), middleware.SessionFrom(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DeleteTask responds with the deleted task.
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	task, err := h.tasks.DeleteTask(c.Request.Context(), middleware.SessionFrom(c), c.Query("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.tasks.GetTask(c.Request.Context(), middleware.SessionFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListTasks accepts dueDate, createdFrom, createdTill, status, sort and order
// query parameters. Without dueDate every task is listed.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	filter, err := apiFilter(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	tasks, err := h.tasks.ListTasks(c.Request.Context(), middleware.SessionFrom(c), filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

func apiFilter(c *gin.Context) (models.TaskFilter, error) {
	errs := validation.NewErrors()
	filter := models.TaskFilter{
		SortBy: c.DefaultQuery("sort", "created_at"),
		Order:  c.DefaultQuery("order", "asc"),
	}

	if raw := c.Query("dueDate"); raw != "" {
		due, err := endOfDueDay(raw)
		if err != nil {
			errs.Add("dueDate", "Invalid date")
		} else {
			filter.DueBefore = &due
		}
	}
	for param, bound := range map[string]**time.Time{
		"createdFrom": &filter.CreatedFrom,
		"createdTill": &filter.CreatedTill,
	} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		day, err := time.ParseInLocation(utils.DateLayout, strings.TrimSpace(raw), validation.Location)
		if err != nil {
			errs.Add(param, "Invalid date")
			continue
		}
		if param == "createdTill" {
			day = utils.EndOfDay(day)
		}
		day = day.UTC()
		*bound = &day
	}
	if raw := c.Query("status"); raw != "" {
		status, ok := statusFilter(raw)
		if !ok {
			errs.Add("status", "Invalid option")
		}
		filter.Status = status
	}
	return filter, errs.OrNil()
}

// endOfDueDay parses a YYYY-MM-DD date and returns the last instant of that
// day in validation.Location.
func endOfDueDay(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(utils.DateLayout, strings.TrimSpace(raw), validation.Location)
	if err != nil {
		return time.Time{}, err
	}
	return utils.EndOfDay(t).UTC(), nil
}

// statusFilter accepts either a stored status (IN_PROGRESS) or a filter name
// (in_progress). "all" means no status filter.
func statusFilter(raw string) (models.TaskStatus, bool) {
	if raw == "" || strings.EqualFold(raw, "all") {
		return "", true
	}
	s := models.TaskStatus(strings.ToUpper(raw))
	return s, s.Valid()
}

// ValidateField checks one task field as the user types, without saving
// anything.
func (h *TaskHandler) ValidateField(c *gin.Context) {
	field := c.Query("field")
	if field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field is required"})
		return
	}
	msgs := validation.ValidateField(validation.TaskInsert, field, c.Query("value"))
	c.JSON(http.StatusOK, gin.H{
		"field":  field,
		"valid":  len(msgs) == 0,
		"errors": msgs,
	})
}
