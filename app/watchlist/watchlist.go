package watchlist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zp-hackthon/tickethunter/app/database"
	"github.com/zp-hackthon/tickethunter/app/scheduler"
)

// Entry is one monitored keyword. A zero interval falls back to the
// scheduler's default.
type Entry struct {
	Keyword         string `yaml:"keyword"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

type Watchlist struct {
	Keywords []Entry `yaml:"keywords"`
}

// Load reads and validates the watchlist file.
func Load(path string) (*Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}

	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return nil, fmt.Errorf("failed to parse watchlist: %w", err)
	}

	for i, entry := range wl.Keywords {
		if entry.Keyword == "" {
			return nil, fmt.Errorf("watchlist entry %d has an empty keyword", i)
		}
		if entry.IntervalSeconds < 0 {
			return nil, fmt.Errorf("watchlist entry %q has a negative interval", entry.Keyword)
		}
	}

	return &wl, nil
}

// Bootstrap creates a scheduled task for every watchlist keyword that does
// not already have one. Existing tasks are matched by original keyword.
func Bootstrap(ctx context.Context, wl *Watchlist, tasks database.TaskRepository, sched scheduler.SchedulerInterface) {
	existing, err := tasks.ListScheduledRunning()
	if err != nil {
		slog.Error("Failed to list existing tasks for watchlist bootstrap", "error", err)
		return
	}

	known := make(map[string]bool, len(existing))
	for _, task := range existing {
		known[task.Keyword] = true
	}

	for _, entry := range wl.Keywords {
		if known[entry.Keyword] {
			slog.Debug("Watchlist keyword already scheduled", "keyword", entry.Keyword)
			continue
		}

		id, err := sched.CreateTask(ctx, entry.Keyword)
		if err != nil {
			slog.Warn("Failed to create watchlist task", "keyword", entry.Keyword, "error", err)
			continue
		}

		if entry.IntervalSeconds > 0 {
			sched.Schedule(id, entry.Keyword, time.Duration(entry.IntervalSeconds)*time.Second)
		}

		slog.Info("Watchlist task created", "keyword", entry.Keyword, "task_id", id)
	}
}
