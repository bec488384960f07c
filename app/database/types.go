package database

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusStopped   TaskStatus = "stopped"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Post is one ingested unit of source content. The ID is assigned by the
// feed service; a post is inserted at most once and never mutated.
type Post struct {
	ID           string
	Description  string
	URL          string
	DiscoveredAt time.Time
	CreatedAt    time.Time
}

// Ticket is a structured resale offer extracted from a post. At most one
// ticket exists per post, enforced by a UNIQUE constraint on post_id.
type Ticket struct {
	ID        int64
	PostID    string
	IsResale  bool
	EventName string
	City      string
	EventDate *time.Time
	Area      string
	Price     string
	Quantity  string
	Contact   string
	Notes     string
	CreatedAt time.Time
}

// Task is a recurring keyword-search job.
type Task struct {
	ID              int64
	Keyword         string
	RefinedKeyword  string
	Status          TaskStatus
	Scheduled       bool
	IntervalSeconds int
	LastRunAt       *time.Time
	NextRunAt       *time.Time
	RunCount        int
	Message         string
	CreatedAt       time.Time
}
