package model

import (
	"database/sql"
	"time"
)

// Task status values as stored in the 'status' column.
const (
	TaskStatusTodo       = "To Do"
	TaskStatusInProgress = "In Progress"
	TaskStatusDone       = "Done"
)

// Task priority values as stored in the 'priority' column.
const (
	TaskPriorityLow    = "Low"
	TaskPriorityMedium = "Medium"
	TaskPriorityHigh   = "High"
)

// Task mirrors the 'tasks' table. Every task belongs to exactly one user and
// all queries are scoped by UserID.
type Task struct {
	ID          uint64
	UserID      uint64
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     sql.NullTime
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidTaskStatus reports whether s is one of the allowed status values.
func ValidTaskStatus(s string) bool {
	return s == TaskStatusTodo || s == TaskStatusInProgress || s == TaskStatusDone
}

// ValidTaskPriority reports whether p is one of the allowed priority values.
func ValidTaskPriority(p string) bool {
	return p == TaskPriorityLow || p == TaskPriorityMedium || p == TaskPriorityHigh
}
