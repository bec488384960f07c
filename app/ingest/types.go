package ingest

import (
	"context"
	"time"

	"github.com/zp-hackthon/tickethunter/app/classifier"
	"github.com/zp-hackthon/tickethunter/app/feed"
)

// FeedSearcher is the slice of the feed client the runner needs.
type FeedSearcher interface {
	SearchPosts(ctx context.Context, keyword, sortBy string) ([]feed.Candidate, error)
}

// Classifier analyzes post text for resale intent.
type Classifier interface {
	AnalyzeForResale(ctx context.Context, content string) classifier.Verdict
}

// Summary is the aggregate result of one ingestion run.
type Summary struct {
	TotalPosts   int
	TicketsFound int
}

// Outcome reports what happened to a single post.
type Outcome struct {
	Success  bool
	IsTicket bool
	Reason   string
}

// Non-success reasons. Rejections are skipped silently; only ReasonError
// marks a genuine processing failure.
const (
	ReasonNotNote       = "not_note_type"
	ReasonIncomplete    = "incomplete_data"
	ReasonAlreadyExists = "already_exists"
	ReasonTicketExists  = "ticket_exists"
	ReasonError         = "error"
)

// TaskUpdate is the payload of a task_update event.
type TaskUpdate struct {
	TaskID    int64      `json:"task_id"`
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	RunCount  int        `json:"run_count,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	Action    string     `json:"action,omitempty"`
}

// TicketSnapshot is the payload of a ticket_update event.
type TicketSnapshot struct {
	TaskID    int64  `json:"task_id"`
	ID        int64  `json:"id"`
	EventName string `json:"event_name"`
	City      string `json:"city"`
	EventDate string `json:"event_date,omitempty"`
	Area      string `json:"area"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Contact   string `json:"contact"`
	Notes     string `json:"notes"`
	PostURL   string `json:"note_url"`
}
