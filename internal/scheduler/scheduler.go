package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval replaces a non-positive configured refresh rate.
const DefaultInterval = 30 * time.Second

type Reason string

const (
	ReasonStartup     Reason = "startup"
	ReasonTimer       Reason = "timer"
	ReasonReconfigure Reason = "reconfigure"
	ReasonManual      Reason = "manual"
	ReasonOpen        Reason = "open"
)

type Tick struct {
	Reason Reason
	At     time.Time
}

// Normalize converts a refresh rate in seconds into an interval.
func Normalize(seconds float64) time.Duration {
	if seconds <= 0 {
		return DefaultInterval
	}
	return time.Duration(seconds * float64(time.Second))
}

// Scheduler emits ticks on a fixed interval plus out-of-cycle ticks on
// demand. Pending ticks coalesce: a consumer that falls behind sees one tick,
// not a backlog, carrying the strongest reason requested meanwhile.
type Scheduler struct {
	log *zap.Logger

	mu       sync.Mutex
	interval time.Duration
	started  bool

	// serializes producers on ticks
	emitMu sync.Mutex

	ticks chan Tick
	reset chan time.Duration
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func New(seconds float64, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		log:      log,
		interval: Normalize(seconds),
		ticks:    make(chan Tick, 1),
		reset:    make(chan time.Duration, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// C delivers ticks to the owning loop.
func (s *Scheduler) C() <-chan Tick { return s.ticks }

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start runs the timer until ctx is done or Stop is called. It emits one
// startup tick right away.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	interval := s.interval
	s.mu.Unlock()

	s.emit(ReasonStartup)
	go s.run(ctx, interval)
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	t := time.NewTicker(interval)
	defer t.Stop()
	s.log.Info("scheduler_started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler_stopped")
			return
		case <-s.stop:
			s.log.Info("scheduler_stopped")
			return
		case d := <-s.reset:
			t.Reset(d)
		case <-t.C:
			s.emit(ReasonTimer)
		}
	}
}

// Reconfigure replaces the interval and emits an immediate tick so the new
// cadence is observable without waiting a full period.
func (s *Scheduler) Reconfigure(seconds float64) time.Duration {
	d := Normalize(seconds)

	s.mu.Lock()
	prev := s.interval
	s.interval = d
	s.mu.Unlock()

	// keep only the latest pending reset
	select {
	case <-s.reset:
	default:
	}
	select {
	case s.reset <- d:
	default:
	}

	s.log.Info("scheduler_reconfigured", zap.Duration("from", prev), zap.Duration("to", d))
	s.emit(ReasonReconfigure)
	return d
}

// Trigger requests an out-of-cycle tick.
func (s *Scheduler) Trigger(reason Reason) {
	s.emit(reason)
}

// Stop halts the timer. Safe to call more than once, and before Start.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// rank orders reasons for coalescing; the higher one wins.
func rank(r Reason) int {
	switch r {
	case ReasonManual:
		return 3
	case ReasonStartup, ReasonReconfigure, ReasonOpen:
		return 2
	default:
		return 1
	}
}

func (s *Scheduler) emit(reason Reason) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	tk := Tick{Reason: reason, At: time.Now()}
	select {
	case s.ticks <- tk:
		return
	default:
	}
	// one tick is pending: replace it with the merged tick
	select {
	case prev := <-s.ticks:
		if rank(prev.Reason) > rank(reason) {
			tk.Reason = prev.Reason
		}
	default:
	}
	s.ticks <- tk
}
