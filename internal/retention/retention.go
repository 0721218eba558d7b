package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// The journal operations retention needs
type Pruner interface {
	PruneSessions(ctx context.Context, before time.Time) (int64, error)
	PruneEmptyRooms(ctx context.Context) (int64, error)
}

type Config struct {
	Interval time.Duration
	// Ended sessions older than this are deleted
	MaxAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Minute,
		MaxAge:   7 * 24 * time.Hour,
	}
}

// Periodically prunes the session journal
type Service struct {
	pruner Pruner
	config Config
	log    *slog.Logger
	now    func() time.Time
	stop   chan struct{}
	wg     sync.WaitGroup
}

func New(pruner Pruner, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	// A non-positive age would put the cutoff at or after now and prune
	// every ended session.
	if config.MaxAge <= 0 {
		config.MaxAge = defaults.MaxAge
	}
	return &Service{
		pruner: pruner,
		config: config,
		log:    logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("🧹 retention service started", "interval", s.config.Interval, "max_age", s.config.MaxAge)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info("🧹 retention service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.prune()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Service) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
	defer cancel()

	sessions, rooms, err := s.PruneNow(ctx)
	if err != nil {
		s.log.Warn("retention: prune failed", "error", err)
		return
	}
	if sessions > 0 || rooms > 0 {
		s.log.Info("🧹 pruned journal", "sessions", sessions, "rooms", rooms)
	}
}

// Runs one pruning pass immediately
func (s *Service) PruneNow(ctx context.Context) (sessions, rooms int64, err error) {
	cutoff := s.now().Add(-s.config.MaxAge)
	if sessions, err = s.pruner.PruneSessions(ctx, cutoff); err != nil {
		return 0, 0, err
	}
	if rooms, err = s.pruner.PruneEmptyRooms(ctx); err != nil {
		return sessions, 0, err
	}
	return sessions, rooms, nil
}
