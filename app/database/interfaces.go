package database

import (
	"time"
)

type PostRepository interface {
	// InsertPostIfAbsent inserts the post unless one with the same ID
	// already exists. Returns false when the post was a duplicate.
	InsertPostIfAbsent(post Post) (bool, error)
	GetPost(id string) (*Post, error)
	GetPostCount() (int, error)
}

type TicketRepository interface {
	// InsertTicketIfAbsent inserts the ticket unless one already exists
	// for the same post. Returns false when a ticket was already present.
	InsertTicketIfAbsent(ticket Ticket) (int64, bool, error)
	GetTicketByPostID(postID string) (*Ticket, error)
	ListRecentTickets(limit int) ([]Ticket, error)
	ListTicketsSince(since time.Time, limit int) ([]Ticket, error)
	GetTicketCount() (int, error)
}

type TaskRepository interface {
	CreateTask(task Task) (int64, error)
	GetTask(id int64) (*Task, error)
	// UpdateTask is a plain read-modify-write; the last writer wins.
	UpdateTask(task *Task) error
	ListRecentTasks(limit int) ([]Task, error)
	// ListScheduledRunning returns tasks with scheduling enabled that were
	// running when the process last stopped, for re-arming at startup.
	ListScheduledRunning() ([]Task, error)
	// DeleteTaskCascade removes every ticket and post persisted at or after
	// the task's creation timestamp, then the task record itself.
	DeleteTaskCascade(id int64) error
}
