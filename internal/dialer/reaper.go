package dialer

import (
	"sync"
	"time"

	"aridialer/internal/disposition"
)

// Reaper periodically ends sessions whose origination never produced an
// event. Without it a lost ChannelDestroyed would hold a campaign slot forever.
type Reaper struct {
	engine   *Engine
	interval time.Duration

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func NewReaper(e *Engine, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Reaper{
		engine:   e,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the reaper worker
func (r *Reaper) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run()
	r.engine.log.Info("Stale session reaper started")
}

// Stop stops the reaper
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()
	r.engine.log.Info("Stale session reaper stopped")
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.engine.ReapStale()
		}
	}
}

// ReapStale ends dialing sessions older than their dial timeout plus grace
func (e *Engine) ReapStale() int {
	stale := e.sessions.GetStale(e.clock.Now(), e.opts.StaleGrace)
	for _, s := range stale {
		s.logger().Warnf("Reaping call stuck in dialing for %s", e.clock.Now().Sub(s.StartTime).Round(time.Second))
		e.terminate(s, disposition.NoAnswer)
	}
	return len(stale)
}
