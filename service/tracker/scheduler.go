package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/aurora/service/metrics"
	"github.com/brojonat/aurora/service/txn"
)

const (
	DefaultMaxActive = 10
	DefaultInterval  = 800 * time.Millisecond
)

// StatusProvider answers status queries for a signature.
// A nil update with a nil error means the provider has nothing to report yet.
type StatusProvider interface {
	FetchStatus(ctx context.Context, signature string) (*txn.StatusUpdate, error)
}

// StatusProviderFunc adapts a function to StatusProvider.
type StatusProviderFunc func(ctx context.Context, signature string) (*txn.StatusUpdate, error)

func (f StatusProviderFunc) FetchStatus(ctx context.Context, signature string) (*txn.StatusUpdate, error) {
	return f(ctx, signature)
}

// sink receives poll results on behalf of the scheduler.
type sink interface {
	// reconcile applies upd and reports whether the signature is now terminal.
	reconcile(signature string, upd txn.StatusUpdate) (terminal bool)
	// pollable reports whether signature is tracked and not yet terminal.
	pollable(signature string) bool
}

// Options tunes the scheduler.
type Options struct {
	MaxActive int
	Interval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxActive <= 0 {
		o.MaxActive = DefaultMaxActive
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// LoopState is the scheduling state of a signature.
type LoopState string

const (
	LoopUnscheduled LoopState = "unscheduled"
	LoopQueued      LoopState = "queued"
	LoopActive      LoopState = "active"
)

// pollLoop is the scheduler-owned state of one active signature.
type pollLoop struct {
	signature string
	inFlight  bool
	retired   bool
	stop      chan struct{}
}

// Scheduler runs at most MaxActive per-signature poll loops. Signatures beyond
// the cap wait in a FIFO queue and are admitted as active loops retire.
type Scheduler struct {
	opts     Options
	provider StatusProvider
	sink     sink
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*pollLoop
	queue  []string
	queued map[string]struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newScheduler(provider StatusProvider, s sink, opts Options, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:     opts.withDefaults(),
		provider: provider,
		sink:     s,
		metrics:  m,
		logger:   logger,
		active:   make(map[string]*pollLoop),
		queued:   make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register schedules polling for signature. It is a no-op when the signature is
// already active or queued.
func (s *Scheduler) Register(signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.active[signature]; ok {
		return
	}
	if _, ok := s.queued[signature]; ok {
		return
	}

	if len(s.active) >= s.opts.MaxActive {
		s.queue = append(s.queue, signature)
		s.queued[signature] = struct{}{}
		s.logger.Debug("poll loop queued",
			"signature", signature,
			"active", len(s.active),
			"queued", len(s.queue),
		)
		s.reportLocked()
		return
	}

	s.startLocked(signature)
	s.reportLocked()
}

// Retire stops polling for signature, whether it is active or queued.
func (s *Scheduler) Retire(signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loop, ok := s.active[signature]; ok {
		s.retireLocked(loop)
		return
	}
	if _, ok := s.queued[signature]; ok {
		delete(s.queued, signature)
		for i, sig := range s.queue {
			if sig == signature {
				s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
				break
			}
		}
		s.reportLocked()
	}
}

// State returns the scheduling state of signature.
func (s *Scheduler) State(signature string) LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[signature]; ok {
		return LoopActive
	}
	if _, ok := s.queued[signature]; ok {
		return LoopQueued
	}
	return LoopUnscheduled
}

// Active returns the signatures with a running poll loop.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for sig := range s.active {
		out = append(out, sig)
	}
	return out
}

// Queued returns waiting signatures in admission order.
func (s *Scheduler) Queued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queue))
	copy(out, s.queue)
	return out
}

// Close stops every loop and waits for in-flight queries to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.queued = make(map[string]struct{})
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.active = make(map[string]*pollLoop)
	s.reportLocked()
	s.mu.Unlock()
}

// startLocked launches a loop for signature unless it no longer needs polling.
func (s *Scheduler) startLocked(signature string) bool {
	if !s.sink.pollable(signature) {
		return false
	}
	loop := &pollLoop{
		signature: signature,
		stop:      make(chan struct{}),
	}
	s.active[signature] = loop
	s.wg.Add(1)
	go s.run(loop)

	s.logger.Debug("poll loop started", "signature", signature, "active", len(s.active))
	return true
}

func (s *Scheduler) retireLocked(loop *pollLoop) {
	if loop.retired {
		return
	}
	loop.retired = true
	close(loop.stop)
	delete(s.active, loop.signature)
	if s.metrics != nil {
		s.metrics.RecordPollLoopRetired()
	}
	s.logger.Debug("poll loop retired", "signature", loop.signature)

	s.promoteLocked()
	s.reportLocked()
}

// promoteLocked admits queued signatures until the cap is reached. Signatures
// that became terminal while waiting are dropped.
func (s *Scheduler) promoteLocked() {
	for len(s.queue) > 0 && len(s.active) < s.opts.MaxActive && !s.closed {
		next := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, next)
		s.startLocked(next)
	}
}

func (s *Scheduler) reportLocked() {
	if s.metrics != nil {
		s.metrics.SetPollLoops(len(s.active), len(s.queue))
	}
}

func (s *Scheduler) run(loop *pollLoop) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.tick(loop)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-loop.stop:
			return
		case <-ticker.C:
			s.tick(loop)
		}
	}
}

// tick issues a query unless the previous one for this signature is still outstanding.
func (s *Scheduler) tick(loop *pollLoop) {
	s.mu.Lock()
	if loop.retired {
		s.mu.Unlock()
		return
	}
	if loop.inFlight {
		s.mu.Unlock()
		s.recordTick("skipped")
		return
	}
	loop.inFlight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.query(loop)
}

func (s *Scheduler) query(loop *pollLoop) {
	defer s.wg.Done()

	upd, err := s.provider.FetchStatus(s.ctx, loop.signature)

	terminal := false
	switch {
	case err != nil:
		if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
			break
		}
		s.recordTick("error")
		s.logger.Warn("status query failed, retrying next tick",
			"signature", loop.signature,
			"error", err,
		)
	case upd == nil:
		s.recordTick("absent")
	default:
		s.recordTick("update")
		terminal = s.sink.reconcile(loop.signature, *upd)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loop.inFlight = false
	if terminal {
		s.retireLocked(loop)
	}
}

func (s *Scheduler) recordTick(result string) {
	if s.metrics != nil {
		s.metrics.RecordPollTick(result)
	}
}
