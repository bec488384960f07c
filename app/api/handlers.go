package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zp-hackthon/tickethunter/app/cfg"
	"github.com/zp-hackthon/tickethunter/app/database"
	"github.com/zp-hackthon/tickethunter/app/telemetry"
)

const (
	ticketListLimit = 50
	taskListLimit   = 20
	ticketCacheTTL  = 60 * time.Second
)

type searchRequest struct {
	Keyword string `form:"keyword" json:"keyword"`
}

// CreateSearchTask creates a new recurring search task and performs its
// first ingestion run before responding.
func (h *Handler) CreateSearchTask(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBind(&req); err != nil || req.Keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "keyword is required"})
		return
	}

	allowed, err := h.limiter.Allow(c.Request.Context(), c.ClientIP())
	if err != nil {
		slog.Warn("Rate limiter unavailable, allowing request", "error", err)
		allowed = true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "rate limit exceeded"})
		return
	}

	slog.Info("Search request received", "keyword", req.Keyword, "client", c.ClientIP())

	taskID, err := h.scheduler.CreateTask(c.Request.Context(), req.Keyword)
	if err != nil {
		slog.Error("Failed to create search task", "keyword", req.Keyword, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "task_id": taskID})
}

// ListTasks returns the most recent tasks.
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.tasks.ListRecentTasks(taskListLimit)
	if err != nil {
		slog.Error("Database error", "operation", "list_tasks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}

	out := make([]gin.H, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, gin.H{
			"id":                task.ID,
			"keyword":           task.Keyword,
			"refined_keyword":   task.RefinedKeyword,
			"status":            string(task.Status),
			"message":           task.Message,
			"is_scheduled":      task.Scheduled,
			"schedule_interval": task.IntervalSeconds,
			"run_count":         task.RunCount,
			"last_run_at":       formatTime(task.LastRunAt),
			"next_run_at":       formatTime(task.NextRunAt),
			"created_at":        task.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, out)
}

// ListTickets returns recent tickets, optionally scoped to everything
// discovered since a task was created. Responses are cached briefly.
func (h *Handler) ListTickets(c *gin.Context) {
	taskParam := c.Query("task_id")
	cacheKey := "tickets:" + taskParam

	if cached, ok, err := h.cache.Get(c.Request.Context(), cacheKey); err == nil && ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
		return
	}

	var tickets []database.Ticket
	var err error

	if taskParam != "" {
		taskID, parseErr := strconv.ParseInt(taskParam, 10, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task_id"})
			return
		}
		task, taskErr := h.tasks.GetTask(taskID)
		if taskErr != nil || task == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		tickets, err = h.tickets.ListTicketsSince(task.CreatedAt, ticketListLimit)
	} else {
		tickets, err = h.tickets.ListRecentTickets(ticketListLimit)
	}

	if err != nil {
		slog.Error("Database error", "operation", "list_tickets", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}

	out := make([]gin.H, 0, len(tickets))
	for _, ticket := range tickets {
		entry := gin.H{
			"id":         ticket.ID,
			"event_name": ticket.EventName,
			"city":       ticket.City,
			"event_date": nil,
			"area":       ticket.Area,
			"price":      ticket.Price,
			"quantity":   ticket.Quantity,
			"contact":    ticket.Contact,
			"notes":      ticket.Notes,
			"created_at": ticket.CreatedAt.Format(time.RFC3339),
		}
		if ticket.EventDate != nil {
			entry["event_date"] = ticket.EventDate.Format("2006-01-02")
		}
		if post, err := h.posts.GetPost(ticket.PostID); err == nil && post != nil {
			entry["note_url"] = post.URL
		}
		out = append(out, entry)
	}

	body, err := json.Marshal(out)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode tickets"})
		return
	}

	if err := h.cache.Set(c.Request.Context(), cacheKey, string(body), ticketCacheTTL); err != nil {
		slog.Debug("Failed to cache ticket list", "error", err)
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *Handler) PauseTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	if !h.scheduler.Pause(taskID) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "no timer registered for task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task paused"})
}

func (h *Handler) ResumeTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	if !h.scheduler.Resume(taskID) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "no timer registered for task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task resumed"})
}

func (h *Handler) StopTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	if !h.scheduler.Cancel(taskID) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "no timer registered for task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task stopped"})
}

func (h *Handler) DeleteTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	if err := h.scheduler.DeleteTask(taskID); err != nil {
		slog.Error("Failed to delete task", "task_id", taskID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task and related data deleted"})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if count, err := h.posts.GetPostCount(); err == nil {
		health["posts"] = count
	}
	if count, err := h.tickets.GetTicketCount(); err == nil {
		health["tickets"] = count
	}
	health["stream_clients"] = h.bus.SubscriberCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "TicketHunter",
		"version":     cfg.GetVersion(),
		"description": "Keyword monitoring for ticket resale offers with real-time push updates",
		"endpoints": gin.H{
			"search":  "/search (POST)",
			"tasks":   "/tasks",
			"tickets": "/api/tickets",
			"stream":  "/stream",
			"health":  "/health",
			"metrics": "/metrics",
		},
	})
}

func parseTaskID(c *gin.Context) (int64, bool) {
	taskID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid task id"})
		return 0, false
	}
	return taskID, true
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
