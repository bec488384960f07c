package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zp-hackthon/tickethunter/app/bus"
	"github.com/zp-hackthon/tickethunter/app/database"
	"github.com/zp-hackthon/tickethunter/app/ingest"
)

// IngestionRunner executes one ingestion run for a task.
type IngestionRunner interface {
	Run(ctx context.Context, taskID int64, keyword string) (ingest.Summary, error)
}

// KeywordOptimizer refines a raw keyword; it never fails, only falls back.
type KeywordOptimizer interface {
	OptimizeKeyword(ctx context.Context, keyword string) string
}

// SchedulerInterface is consumed by the HTTP layer.
type SchedulerInterface interface {
	Start()
	Stop()
	CreateTask(ctx context.Context, keyword string) (int64, error)
	Schedule(taskID int64, keyword string, interval time.Duration)
	Pause(taskID int64) bool
	Resume(taskID int64) bool
	Cancel(taskID int64) bool
	DeleteTask(taskID int64) error
}

var _ SchedulerInterface = (*Scheduler)(nil)

// Scheduler owns the set of recurring tasks and their timers. Each task
// gets its own goroutine driving a ticker; the registry is guarded by the
// scheduler's mutex and is not visible to other components.
type Scheduler struct {
	tasks           database.TaskRepository
	runner          IngestionRunner
	optimizer       KeywordOptimizer
	publisher       bus.Publisher
	defaultInterval time.Duration

	mu     sync.Mutex
	timers map[int64]*taskTimer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type taskTimer struct {
	taskID   int64
	keyword  string
	interval time.Duration
	paused   atomic.Bool
	done     chan struct{}
}

func NewScheduler(tasks database.TaskRepository, runner IngestionRunner,
	optimizer KeywordOptimizer, publisher bus.Publisher, defaultInterval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:           tasks,
		runner:          runner,
		optimizer:       optimizer,
		publisher:       publisher,
		defaultInterval: defaultInterval,
		timers:          make(map[int64]*taskTimer),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start re-arms every scheduled task that was running when the process
// last stopped.
func (s *Scheduler) Start() {
	tasks, err := s.tasks.ListScheduledRunning()
	if err != nil {
		slog.Error("Failed to restore scheduled tasks", "error", err)
		return
	}

	for _, task := range tasks {
		keyword := runKeyword(&task)
		s.Schedule(task.ID, keyword, time.Duration(task.IntervalSeconds)*time.Second)
	}

	slog.Info("Scheduler started", "restored", len(tasks))
}

// Stop cancels all timers and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

// CreateTask refines the keyword, persists a new running task, installs its
// recurring timer, and performs one synchronous ingestion run before
// returning the new task id. A failing first run is recorded on the task
// rather than failing creation.
func (s *Scheduler) CreateTask(ctx context.Context, keyword string) (int64, error) {
	refined := s.optimizer.OptimizeKeyword(ctx, keyword)

	now := time.Now().UTC()
	task := database.Task{
		Keyword:         keyword,
		RefinedKeyword:  refined,
		Status:          database.TaskStatusRunning,
		Scheduled:       true,
		IntervalSeconds: int(s.defaultInterval.Seconds()),
		Message:         "首次执行中...",
		CreatedAt:       now,
	}

	id, err := s.tasks.CreateTask(task)
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}

	s.Schedule(id, refined, s.defaultInterval)

	s.publisher.Publish(bus.EventTaskUpdate, ingest.TaskUpdate{
		TaskID:  id,
		Status:  string(database.TaskStatusRunning),
		Message: fmt.Sprintf("正在搜索：%s", refined),
	})

	if _, err := s.runner.Run(ctx, id, refined); err != nil {
		// The runner already marked the task failed and published the event.
		slog.Error("Initial ingestion run failed", "task_id", id, "error", err)
	}

	return id, nil
}

// Schedule installs the recurring timer for a task, replacing any existing
// timer for the same id.
func (s *Scheduler) Schedule(taskID int64, keyword string, interval time.Duration) {
	timer := &taskTimer{
		taskID:   taskID,
		keyword:  keyword,
		interval: interval,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if existing, ok := s.timers[taskID]; ok {
		close(existing.done)
	}
	s.timers[taskID] = timer
	s.mu.Unlock()

	if task, err := s.tasks.GetTask(taskID); err == nil && task != nil {
		next := time.Now().UTC().Add(interval)
		task.NextRunAt = &next
		if err := s.tasks.UpdateTask(task); err != nil {
			slog.Error("Failed to update next run time", "task_id", taskID, "error", err)
		}
	}

	s.wg.Add(1)
	go s.runLoop(timer)

	slog.Info("Task scheduled", "task_id", taskID, "keyword", keyword, "interval", interval.String())
}

// Pause suspends the timer without removing it; ticks become no-ops and the
// original cadence is preserved for Resume.
func (s *Scheduler) Pause(taskID int64) bool {
	timer, ok := s.timer(taskID)
	if !ok {
		return false
	}

	timer.paused.Store(true)
	s.setStatus(taskID, database.TaskStatusPaused, "任务已暂停")
	return true
}

// Resume re-arms a paused timer.
func (s *Scheduler) Resume(taskID int64) bool {
	timer, ok := s.timer(taskID)
	if !ok {
		return false
	}

	timer.paused.Store(false)
	s.setStatus(taskID, database.TaskStatusRunning, "任务已恢复")
	return true
}

// Cancel removes the timer permanently and disables scheduling.
func (s *Scheduler) Cancel(taskID int64) bool {
	s.mu.Lock()
	timer, ok := s.timers[taskID]
	if ok {
		delete(s.timers, taskID)
		close(timer.done)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	if task, err := s.tasks.GetTask(taskID); err == nil && task != nil {
		task.Status = database.TaskStatusStopped
		task.Scheduled = false
		task.Message = "任务已停止"
		if err := s.tasks.UpdateTask(task); err != nil {
			slog.Error("Failed to update task", "task_id", taskID, "error", err)
		}
		s.publishTaskUpdate(task)
	}
	return true
}

// DeleteTask cancels the timer and removes the task with every post and
// ticket persisted since its creation.
func (s *Scheduler) DeleteTask(taskID int64) error {
	s.Cancel(taskID)

	if err := s.tasks.DeleteTaskCascade(taskID); err != nil {
		return err
	}

	s.publisher.Publish(bus.EventTaskUpdate, ingest.TaskUpdate{
		TaskID: taskID,
		Action: "deleted",
	})

	slog.Info("Task deleted", "task_id", taskID)
	return nil
}

func (s *Scheduler) runLoop(timer *taskTimer) {
	defer s.wg.Done()

	ticker := time.NewTicker(timer.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.done:
			return
		case <-ticker.C:
			if timer.paused.Load() {
				continue
			}
			s.onTimerFire(timer)
		}
	}
}

// onTimerFire triggers one ingestion run, synchronously on the timer's
// goroutine. The only gate is the task status: anything but running makes
// the tick a silent no-op without disabling the timer.
func (s *Scheduler) onTimerFire(timer *taskTimer) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Panic in timer fire", "task_id", timer.taskID, "panic", rec)
			s.setStatus(timer.taskID, database.TaskStatusFailed, fmt.Sprintf("执行失败: %v", rec))
		}
	}()

	task, err := s.tasks.GetTask(timer.taskID)
	if err != nil {
		slog.Error("Failed to load task for timer fire", "task_id", timer.taskID, "error", err)
		return
	}
	if task == nil {
		slog.Warn("Task no longer exists, skipping tick", "task_id", timer.taskID)
		return
	}
	if task.Status != database.TaskStatusRunning {
		slog.Debug("Task not running, skipping tick", "task_id", task.ID, "status", string(task.Status))
		return
	}

	now := time.Now().UTC()
	next := now.Add(timer.interval)
	task.RunCount++
	task.LastRunAt = &now
	task.NextRunAt = &next
	task.Message = fmt.Sprintf("第 %d 次定时执行", task.RunCount)
	if err := s.tasks.UpdateTask(task); err != nil {
		slog.Error("Failed to update task", "task_id", task.ID, "error", err)
	}
	s.publishTaskUpdate(task)

	if _, err := s.runner.Run(s.ctx, task.ID, runKeyword(task)); err != nil {
		// Converted to a task status by the runner; the timer keeps firing.
		slog.Error("Scheduled run failed", "task_id", task.ID, "run", task.RunCount, "error", err)
	}
}

func (s *Scheduler) timer(taskID int64) (*taskTimer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[taskID]
	return timer, ok
}

func (s *Scheduler) setStatus(taskID int64, status database.TaskStatus, message string) {
	task, err := s.tasks.GetTask(taskID)
	if err != nil || task == nil {
		slog.Error("Failed to load task for status update", "task_id", taskID, "error", err)
		return
	}

	task.Status = status
	task.Message = message
	if err := s.tasks.UpdateTask(task); err != nil {
		slog.Error("Failed to update task", "task_id", taskID, "error", err)
	}
	s.publishTaskUpdate(task)
}

func (s *Scheduler) publishTaskUpdate(task *database.Task) {
	s.publisher.Publish(bus.EventTaskUpdate, ingest.TaskUpdate{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Message:   task.Message,
		RunCount:  task.RunCount,
		LastRunAt: task.LastRunAt,
		NextRunAt: task.NextRunAt,
	})
}

func runKeyword(task *database.Task) string {
	if task.RefinedKeyword != "" {
		return task.RefinedKeyword
	}
	return task.Keyword
}
