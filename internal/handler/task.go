package handler

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/taskpilot/taskpilot/internal/middleware"
	"github.com/taskpilot/taskpilot/internal/model"
	"github.com/taskpilot/taskpilot/internal/repository"
)

// TaskHandler serves the per-user task CRUD. It is a consumer of the session
// core: every query is scoped by the resolved user id, and an id that belongs
// to another user is answered with 404 rather than 403 so existence is never
// confirmed to non-owners.
type TaskHandler struct {
	Tasks *repository.TaskRepo
}

func NewTaskHandler(tasks *repository.TaskRepo) *TaskHandler { return &TaskHandler{Tasks: tasks} }

type taskReq struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	DueDate     string `json:"dueDate"` // RFC 3339, optional
}

type taskPart struct {
	ID          uint64     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toTaskPart(t model.Task) taskPart {
	p := taskPart{
		ID: t.ID, Title: t.Title, Description: t.Description,
		Status: t.Status, Priority: t.Priority,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
	if t.DueDate.Valid {
		due := t.DueDate.Time
		p.DueDate = &due
	}
	return p
}

// normalize validates the payload and applies defaults. An empty status or
// priority falls back to the column defaults; anything else must be a known
// value.
func (r *taskReq) normalize() (status, priority string, due sql.NullTime, errMsg string) {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return "", "", sql.NullTime{}, "title is required"
	}
	status = r.Status
	if status == "" {
		status = model.TaskStatusTodo
	}
	if !model.ValidTaskStatus(status) {
		return "", "", sql.NullTime{}, "invalid status"
	}
	priority = r.Priority
	if priority == "" {
		priority = model.TaskPriorityMedium
	}
	if !model.ValidTaskPriority(priority) {
		return "", "", sql.NullTime{}, "invalid priority"
	}
	if r.DueDate != "" {
		t, err := time.Parse(time.RFC3339, r.DueDate)
		if err != nil {
			return "", "", sql.NullTime{}, "dueDate must be RFC 3339"
		}
		due = sql.NullTime{Time: t.UTC(), Valid: true}
	}
	return status, priority, due, ""
}

// List returns the current user's tasks, newest first.
func (h *TaskHandler) List(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tasks, err := h.Tasks.ListByUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]taskPart, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskPart(t))
	}
	return c.JSON(http.StatusOK, echo.Map{"tasks": out})
}

// Create inserts a task owned by the current user.
func (h *TaskHandler) Create(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
	}

	var req taskReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	status, priority, due, msg := req.normalize()
	if msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Tasks.Create(ctx, uid, req.Title, req.Description, status, priority, due)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create task failed"})
	}
	t, err := h.Tasks.GetByID(ctx, uid, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create task failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"task": toTaskPart(t)})
}

// Update rewrites a task owned by the current user.
func (h *TaskHandler) Update(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id parameter"})
	}

	var req taskReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	status, priority, due, msg := req.normalize()
	if msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Tasks.Update(ctx, uid, id, req.Title, req.Description, status, priority, due); err != nil {
		if err == repository.ErrTaskNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "Task not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update task failed"})
	}
	t, err := h.Tasks.GetByID(ctx, uid, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update task failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"task": toTaskPart(t)})
}

// Delete removes a task owned by the current user.
func (h *TaskHandler) Delete(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id parameter"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Tasks.Delete(ctx, uid, id); err != nil {
		if err == repository.ErrTaskNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "Task not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete task failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Task deleted successfully"})
}
