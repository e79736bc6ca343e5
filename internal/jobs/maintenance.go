package jobs

import (
	"time"

	"github.com/rs/zerolog/log"
)

// RoomMaintainer is implemented by service.RoomService.
type RoomMaintainer interface {
	ExpireStaleFeeds(now time.Time) int
	EvictIdle(idleFor time.Duration) int
}

// MaintenanceJob periodically marks location feeds stale once their newest
// sample ages out and evicts rooms that stayed empty past the idle TTL.
type MaintenanceJob struct {
	rooms    RoomMaintainer
	idleTTL  time.Duration
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	stopped  chan struct{}
}

func NewMaintenanceJob(rooms RoomMaintainer, idleTTL, interval time.Duration) *MaintenanceJob {
	return &MaintenanceJob{
		rooms:    rooms,
		idleTTL:  idleTTL,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (j *MaintenanceJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("idleTtl", j.idleTTL).Msg("maintenance job started")
}

// Stop returns once the current pass, if any, has finished.
func (j *MaintenanceJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("maintenance job stopped")
}

func (j *MaintenanceJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

func (j *MaintenanceJob) RunOnce() {
	if n := j.rooms.ExpireStaleFeeds(j.now()); n > 0 {
		log.Info().Int("count", n).Msg("marked stale location feeds")
	}
	j.rooms.EvictIdle(j.idleTTL)
}
