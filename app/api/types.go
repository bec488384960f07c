package api

import (
	"time"

	"github.com/zp-hackthon/tickethunter/app/bus"
	"github.com/zp-hackthon/tickethunter/app/cache"
	"github.com/zp-hackthon/tickethunter/app/database"
	"github.com/zp-hackthon/tickethunter/app/ratelimit"
	"github.com/zp-hackthon/tickethunter/app/scheduler"
)

type Handler struct {
	tasks     database.TaskRepository
	tickets   database.TicketRepository
	posts     database.PostRepository
	scheduler scheduler.SchedulerInterface
	bus       *bus.Bus
	cache     *cache.Cache
	limiter   *ratelimit.TokenBucket
	heartbeat time.Duration
}

func NewHandler(tasks database.TaskRepository, tickets database.TicketRepository,
	posts database.PostRepository, sched scheduler.SchedulerInterface,
	eventBus *bus.Bus, respCache *cache.Cache, limiter *ratelimit.TokenBucket) *Handler {
	return &Handler{
		tasks:     tasks,
		tickets:   tickets,
		posts:     posts,
		scheduler: sched,
		bus:       eventBus,
		cache:     respCache,
		limiter:   limiter,
		heartbeat: 30 * time.Second,
	}
}
