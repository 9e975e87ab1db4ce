// Package scheduler runs the periodic maintenance jobs: expiring idle
// anti-cheat sessions and pruning the day and week leaderboards.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/npezzotti/go-typerace/internal/anticheat"
	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/metrics"
	"github.com/npezzotti/go-typerace/internal/statscache"
)

const pruneTimeout = 10 * time.Minute

type Scheduler struct {
	log       *log.Logger
	scheduler *gocron.Scheduler
	sessions  *anticheat.SessionStore
	cache     *statscache.Cache
	repo      database.TypeRaceRepository
	stats     metrics.StatsProvider
}

// New schedules the session reaper every reapInterval and the leaderboard
// prune daily at pruneAt ("15:04") in loc. Jobs start with Start.
func New(logger *log.Logger, loc *time.Location, reapInterval time.Duration, pruneAt string,
	sessions *anticheat.SessionStore, cache *statscache.Cache, repo database.TypeRaceRepository,
	stats metrics.StatsProvider) (*Scheduler, error) {
	s := &Scheduler{
		log:       logger,
		scheduler: gocron.NewScheduler(loc),
		sessions:  sessions,
		cache:     cache,
		repo:      repo,
		stats:     stats,
	}

	stats.RegisterMetric(metrics.NumSessionsReaped)
	stats.RegisterMetric(metrics.NumEntriesPruned)

	// a slow prune must not overlap the next run
	s.scheduler.SingletonModeAll()

	if _, err := s.scheduler.Every(reapInterval).Do(s.reapSessions); err != nil {
		return nil, fmt.Errorf("schedule session reaper: %w", err)
	}

	if _, err := s.scheduler.Every(1).Day().At(pruneAt).Do(s.pruneLeaderboards); err != nil {
		return nil, fmt.Errorf("schedule leaderboard prune: %w", err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Println("starting scheduler...")
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.log.Println("stopping scheduler...")
	s.scheduler.Stop()
}

func (s *Scheduler) reapSessions() {
	n := s.sessions.Reap()
	if n > 0 {
		s.log.Printf("reaped %d idle sessions", n)
	}
	s.stats.Add(metrics.NumSessionsReaped, n)
}

func (s *Scheduler) pruneLeaderboards() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	res, err := s.cache.Prune(ctx, s.repo)
	if err != nil {
		s.log.Println("prune leaderboards:", err)
	}
	s.stats.Add(metrics.NumEntriesPruned, res.Deleted+res.Recomputed)
}
