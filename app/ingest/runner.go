package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zp-hackthon/tickethunter/app/bus"
	"github.com/zp-hackthon/tickethunter/app/database"
	"github.com/zp-hackthon/tickethunter/app/feed"
	"github.com/zp-hackthon/tickethunter/app/telemetry"
)

const noteURLBase = "https://www.xiaohongshu.com/explore/"

// Runner executes one ingestion run: fetch candidates for a keyword, fan
// them out across a bounded worker pool, deduplicate and persist each one,
// and publish progress along the way.
type Runner struct {
	posts       database.PostRepository
	tickets     database.TicketRepository
	tasks       database.TaskRepository
	searcher    FeedSearcher
	classifier  Classifier
	publisher   bus.Publisher
	workerCount int

	// dedupMu serializes every check-then-insert sequence across all
	// workers of all concurrently running tasks. Classification happens
	// outside of it.
	dedupMu sync.Mutex
}

func NewRunner(posts database.PostRepository, tickets database.TicketRepository,
	tasks database.TaskRepository, searcher FeedSearcher, classifier Classifier,
	publisher bus.Publisher, workerCount int) *Runner {
	return &Runner{
		posts:       posts,
		tickets:     tickets,
		tasks:       tasks,
		searcher:    searcher,
		classifier:  classifier,
		publisher:   publisher,
		workerCount: workerCount,
	}
}

// Run performs one ingestion run for the task. It blocks until every
// fetched post has been processed. A fetch-stage failure marks the task
// failed and aborts before any per-post work.
func (r *Runner) Run(ctx context.Context, taskID int64, keyword string) (Summary, error) {
	telemetry.RunsTotal.Inc()

	task, err := r.tasks.GetTask(taskID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil {
		return Summary{}, fmt.Errorf("task %d not found", taskID)
	}

	candidates, err := r.searcher.SearchPosts(ctx, keyword, feed.SortByLatest)
	if err != nil {
		telemetry.RunFailures.Inc()
		r.failTask(task, err)
		return Summary{}, fmt.Errorf("feed search failed: %w", err)
	}

	slog.Info("Feed search completed", "task_id", taskID, "keyword", keyword, "candidates", len(candidates))

	if len(candidates) == 0 {
		task.Status = database.TaskStatusCompleted
		task.Message = "未找到相关数据"
		if err := r.tasks.UpdateTask(task); err != nil {
			slog.Error("Failed to update task", "task_id", taskID, "error", err)
		}
		r.publishTaskUpdate(task)
		return Summary{}, nil
	}

	summary := r.processAll(ctx, task, candidates)

	// A scheduled task keeps running between ticks; a one-shot task is done.
	if !task.Scheduled {
		task.Status = database.TaskStatusCompleted
	}
	task.Message = fmt.Sprintf("搜索完成，共处理 %d 条数据，发现 %d 条票务信息", summary.TotalPosts, summary.TicketsFound)
	if err := r.tasks.UpdateTask(task); err != nil {
		slog.Error("Failed to update task", "task_id", taskID, "error", err)
	}
	r.publishTaskUpdate(task)

	slog.Info("Ingestion run completed", "task_id", taskID,
		"total", summary.TotalPosts, "tickets", summary.TicketsFound)

	return summary, nil
}

// processAll distributes candidates across the worker pool and aggregates
// outcomes. It returns only after every worker has finished.
func (r *Runner) processAll(ctx context.Context, task *database.Task, candidates []feed.Candidate) Summary {
	jobs := make(chan feed.Candidate)
	results := make(chan Outcome)

	var wg sync.WaitGroup
	for i := 0; i < r.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for candidate := range jobs {
				results <- r.processPost(ctx, candidate, task.ID)
			}
		}()
	}

	go func() {
		for _, candidate := range candidates {
			jobs <- candidate
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	total := len(candidates)
	processed := 0
	ticketCount := 0
	duplicateCount := 0
	errorCount := 0

	for outcome := range results {
		processed++
		telemetry.PostsProcessed.Inc()

		switch {
		case outcome.Success && outcome.IsTicket:
			ticketCount++
			telemetry.TicketsFound.Inc()
		case outcome.Reason == ReasonAlreadyExists || outcome.Reason == ReasonTicketExists:
			duplicateCount++
			telemetry.PostsDuplicate.Inc()
		case outcome.Reason == ReasonError:
			errorCount++
		}

		if processed%5 == 0 || processed == total {
			r.publisher.Publish(bus.EventTaskUpdate, TaskUpdate{
				TaskID:  task.ID,
				Status:  string(database.TaskStatusRunning),
				Message: fmt.Sprintf("已处理 %d/%d 条数据，发现 %d 条票务", processed, total, ticketCount),
			})
		}
	}

	slog.Info("Worker pool drained", "task_id", task.ID, "total", total,
		"tickets", ticketCount, "duplicates", duplicateCount, "errors", errorCount)

	return Summary{TotalPosts: total, TicketsFound: ticketCount}
}

// processPost handles one candidate to completion. Failures never escape:
// every path resolves to an Outcome.
func (r *Runner) processPost(ctx context.Context, candidate feed.Candidate, taskID int64) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Panic while processing post", "post", candidate.ID, "panic", rec)
			outcome = Outcome{Reason: ReasonError}
		}
	}()

	if candidate.ModelType != feed.ModelTypeNote {
		return Outcome{Reason: ReasonNotNote}
	}
	if candidate.ID == "" || candidate.NoteCard == nil {
		return Outcome{Reason: ReasonIncomplete}
	}

	now := time.Now().UTC()
	post := database.Post{
		ID:           candidate.ID,
		Description:  candidate.NoteCard.DisplayTitle,
		URL:          noteURLBase + candidate.ID,
		DiscoveredAt: now,
		CreatedAt:    now,
	}

	r.dedupMu.Lock()
	existing, err := r.posts.GetPost(post.ID)
	if err != nil {
		r.dedupMu.Unlock()
		slog.Error("Failed to check post existence", "post", post.ID, "error", err)
		return Outcome{Reason: ReasonError}
	}
	if existing != nil {
		r.dedupMu.Unlock()
		return Outcome{Reason: ReasonAlreadyExists}
	}
	inserted, err := r.posts.InsertPostIfAbsent(post)
	r.dedupMu.Unlock()
	if err != nil {
		slog.Error("Failed to insert post", "post", post.ID, "error", err)
		return Outcome{Reason: ReasonError}
	}
	if !inserted {
		// Conflict at the storage layer: another writer won the race.
		return Outcome{Reason: ReasonAlreadyExists}
	}

	// Classification latency must never block other workers.
	verdict := r.classifier.AnalyzeForResale(ctx, post.Description)
	if !verdict.IsResale {
		return Outcome{Success: true}
	}

	ticket := database.Ticket{
		PostID:    post.ID,
		IsResale:  true,
		EventName: verdict.EventName,
		City:      verdict.City,
		EventDate: parseEventDate(verdict.EventDate),
		Area:      verdict.Area,
		Price:     verdict.Price,
		Quantity:  verdict.Quantity,
		Contact:   verdict.Contact,
		Notes:     verdict.Notes,
		CreatedAt: time.Now().UTC(),
	}

	r.dedupMu.Lock()
	existingTicket, err := r.tickets.GetTicketByPostID(post.ID)
	if err != nil {
		r.dedupMu.Unlock()
		slog.Error("Failed to check ticket existence", "post", post.ID, "error", err)
		return Outcome{Reason: ReasonError}
	}
	if existingTicket != nil {
		r.dedupMu.Unlock()
		return Outcome{Reason: ReasonTicketExists}
	}
	ticketID, inserted, err := r.tickets.InsertTicketIfAbsent(ticket)
	r.dedupMu.Unlock()
	if err != nil {
		slog.Error("Failed to insert ticket", "post", post.ID, "error", err)
		return Outcome{Reason: ReasonError}
	}
	if !inserted {
		return Outcome{Reason: ReasonTicketExists}
	}

	slog.Info("Ticket persisted", "post", post.ID, "event", ticket.EventName, "city", ticket.City)

	r.publisher.Publish(bus.EventTicketUpdate, TicketSnapshot{
		TaskID:    taskID,
		ID:        ticketID,
		EventName: ticket.EventName,
		City:      ticket.City,
		EventDate: verdict.EventDate,
		Area:      ticket.Area,
		Price:     ticket.Price,
		Quantity:  ticket.Quantity,
		Contact:   ticket.Contact,
		Notes:     ticket.Notes,
		PostURL:   post.URL,
	})

	return Outcome{Success: true, IsTicket: true}
}

func (r *Runner) failTask(task *database.Task, cause error) {
	task.Status = database.TaskStatusFailed
	task.Message = fmt.Sprintf("执行失败: %s", cause)
	if err := r.tasks.UpdateTask(task); err != nil {
		slog.Error("Failed to update task", "task_id", task.ID, "error", err)
	}
	r.publishTaskUpdate(task)
}

func (r *Runner) publishTaskUpdate(task *database.Task) {
	r.publisher.Publish(bus.EventTaskUpdate, TaskUpdate{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Message:   task.Message,
		RunCount:  task.RunCount,
		LastRunAt: task.LastRunAt,
		NextRunAt: task.NextRunAt,
	})
}

func parseEventDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil
	}
	return &t
}
