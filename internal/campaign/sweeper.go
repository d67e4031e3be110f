package campaign

import (
	"context"
	"sync"
	"time"

	"aridialer/internal/logging"
)

// DefaultPollInterval is how often running campaigns are reloaded
const DefaultPollInterval = 10 * time.Second

// Reloader syncs the dial loops with the campaigns marked running
type Reloader interface {
	Reload(ctx context.Context) error
}

// Sweeper polls storage for campaign changes. Campaigns started, paused or
// stopped from outside the process are picked up on the next sweep.
type Sweeper struct {
	reloader Reloader
	interval time.Duration
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewSweeper creates a new campaign sweeper
func NewSweeper(r Reloader, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Sweeper{
		reloader: r,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx)
	logging.Component("sweeper").Infof("Campaign sweeper started (every %s)", s.interval)
}

// Stop gracefully stops the sweeper
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	logging.Component("sweeper").Info("Campaign sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if err := s.reloader.Reload(ctx); err != nil {
		logging.Component("sweeper").WithError(err).Error("Campaign reload failed")
	}
}
