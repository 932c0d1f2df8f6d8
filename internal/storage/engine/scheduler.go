package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CheckpointScheduler runs Engine.Checkpoint on a timer in the
// background: a CRON expression or a fixed interval, start/stop, and
// no-overlap tracking so a slow checkpoint never runs twice
// concurrently.
type CheckpointScheduler struct {
	engine *Engine

	mu      sync.Mutex
	running bool
	lastErr error

	cron     *cron.Cron
	interval time.Duration
	stopCh   chan struct{}
	inFlight bool
}

// NewCronCheckpointScheduler schedules Engine.Checkpoint according to a
// six-field CRON expression with a leading seconds field (e.g.
// "0 */5 * * * *" for every five minutes) — robfig/cron is configured
// WithSeconds.
func NewCronCheckpointScheduler(e *Engine, cronExpr string) (*CheckpointScheduler, error) {
	c := cron.New(cron.WithSeconds())
	s := &CheckpointScheduler{engine: e, cron: c}
	if _, err := c.AddFunc(cronExpr, s.tick); err != nil {
		return nil, fmt.Errorf("invalid checkpoint cron expression %q: %w", cronExpr, err)
	}
	return s, nil
}

// NewIntervalCheckpointScheduler schedules Engine.Checkpoint every
// interval, using a plain ticker rather than cron — simpler for the common
// "checkpoint every N seconds/minutes" case.
func NewIntervalCheckpointScheduler(e *Engine, interval time.Duration) *CheckpointScheduler {
	return &CheckpointScheduler{engine: e, interval: interval, stopCh: make(chan struct{})}
}

// Start begins running checkpoints in the background. Calling Start twice
// is a no-op.
func (s *CheckpointScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	if s.cron != nil {
		s.cron.Start()
		return
	}
	s.stopCh = make(chan struct{})
	go s.runInterval()
}

// Stop halts the scheduler without canceling an in-flight checkpoint
// mid-write. A cron scheduler waits for that checkpoint to finish before
// Stop returns; an interval scheduler only signals its ticker goroutine
// and returns without waiting, leaving a running checkpoint to complete
// on its own.
func (s *CheckpointScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		return
	}
	close(s.stopCh)
}

// LastError returns the error from the most recent checkpoint attempt, if
// any. Checkpoint failures are logged but do not stop the scheduler — a
// transient I/O error on one tick should not prevent the next one from
// trying again.
func (s *CheckpointScheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *CheckpointScheduler) runInterval() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *CheckpointScheduler) tick() {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		log.Printf("btreedb: checkpoint already running, skipping this tick")
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	err := s.engine.Checkpoint()

	s.mu.Lock()
	s.inFlight = false
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		log.Printf("btreedb: scheduled checkpoint failed: %v", err)
	}
}
