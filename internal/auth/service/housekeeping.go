package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/atrium/internal/auth/metrics"
	"github.com/aussiebroadwan/atrium/internal/auth/store"
)

// Purger deletes rows that expired before now. External counter stores such
// as the postgres rate limiter implement it.
type Purger interface {
	DeleteExpiredRateLimits(ctx context.Context, now time.Time) (int64, error)
}

// HousekeepingService periodically deletes expired sessions, blacklist
// entries, reset tokens and rate limit windows.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	Metrics  *metrics.Metrics
	Now      func() time.Time

	// Sessions and Blacklist purge with their own clock and store timeout.
	// When nil, managers over Store are used.
	Sessions  *SessionManager
	Blacklist *Blacklist

	// Extra are purged alongside the store's own rate limit table.
	Extra map[string]Purger

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

type purgeTask struct {
	table string
	purge func(context.Context) (int64, error)
}

// Cleanup runs one pass. Each table is independent: a failure in one does not
// stop the others. It returns the number of tables cleaned successfully.
func (s *HousekeepingService) Cleanup(ctx context.Context) int {
	s.Logger.Debug("starting housekeeping cleanup")

	sessions, blacklist := s.sessions(), s.blacklist()
	tasks := []purgeTask{
		{"sessions", sessions.DeleteExpired},
		{"token_blacklist", blacklist.DeleteExpired},
		{"password_resets", sessions.DeleteExpiredResets},
		{"rate_limits", s.rateLimitPurge(s.Store.RateLimits())},
	}
	for name, p := range s.Extra {
		tasks = append(tasks, purgeTask{name, s.rateLimitPurge(p)})
	}

	successful := 0
	for _, task := range tasks {
		n, err := task.purge(ctx)
		if err != nil {
			s.Logger.Error("housekeeping purge failed", "table", task.table, "error", err)
			continue
		}
		s.Metrics.Purged(task.table, n)
		s.Logger.Debug("housekeeping purge", "table", task.table, "deleted", n)
		successful++
	}

	s.Logger.Info("housekeeping cleanup completed", "successful_cleanups", successful)
	return successful
}

func (s *HousekeepingService) rateLimitPurge(p Purger) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		sctx, cancel := storeContext(ctx, DefaultStoreTimeout)
		defer cancel()
		return p.DeleteExpiredRateLimits(sctx, clock(s.Now).now())
	}
}

func (s *HousekeepingService) sessions() *SessionManager {
	if s.Sessions != nil {
		return s.Sessions
	}
	return &SessionManager{Store: s.Store, Now: s.Now}
}

func (s *HousekeepingService) blacklist() *Blacklist {
	if s.Blacklist != nil {
		return s.Blacklist
	}
	return &Blacklist{Store: s.Store, Now: s.Now}
}
