// Package scheduler runs poll cycles on an interval, joins or supersedes
// in-flight cycles on demand and publishes results in sequence order.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-pulse/internal/metrics"
)

// CycleFunc produces one result. force is passed through from the trigger.
type CycleFunc[T any] func(ctx context.Context, force bool) T

// StampFunc records the cycle sequence on a result
type StampFunc[T any] func(result T, seq uint64) T

type cycle[T any] struct {
	seq       uint64
	force     bool
	done      chan struct{}
	result    T
	published bool
}

// Loop drives the cycles of a single backend. Every cycle gets a sequence
// number when it starts; a result older than the last published one is
// dropped instead of published.
type Loop[T any] struct {
	name     string
	interval time.Duration
	run      CycleFunc[T]
	stamp    StampFunc[T]
	logger   *zap.Logger

	mu          sync.Mutex
	seq         uint64
	published   uint64
	current     T
	hasCurrent  bool
	inflight    *cycle[T]
	subscribers []func(T)
	running     bool
	stopped     bool
	cancel      context.CancelFunc
	timers      map[uint64]*time.Timer
	nextTimer   uint64

	// notifyMu keeps subscriber notifications in publish order
	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// NewLoop creates a loop for the named backend
func NewLoop[T any](name string, interval time.Duration, run CycleFunc[T], stamp StampFunc[T], logger *zap.Logger) *Loop[T] {
	return &Loop[T]{
		name:     name,
		interval: interval,
		run:      run,
		stamp:    stamp,
		logger:   logger.Named("scheduler").With(zap.String("backend", name)),
		timers:   make(map[uint64]*time.Timer),
	}
}

// Subscribe registers fn to receive every published result
func (l *Loop[T]) Subscribe(fn func(T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// Current returns the last published result and whether one exists
func (l *Loop[T]) Current() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.hasCurrent
}

// Start runs one cycle immediately and then one every interval until ctx
// ends or Stop is called
func (l *Loop[T]) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return
	}
	l.running = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	l.wg.Add(1)
	go l.tick(ctx)
	l.logger.Info("Polling started", zap.Duration("interval", l.interval))
}

func (l *Loop[T]) tick(ctx context.Context) {
	defer l.wg.Done()

	l.trigger(false)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.trigger(false)
		}
	}
}

// Stop halts the ticker and pending scheduled refreshes, then waits for
// in-flight cycles, which still publish
func (l *Loop[T]) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	if l.cancel != nil {
		l.cancel()
	}
	for id, t := range l.timers {
		if t.Stop() {
			l.wg.Done()
		}
		delete(l.timers, id)
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("Polling stopped")
}

// RefreshNow joins the in-flight cycle, or starts one when none is running,
// and waits for it. When ctx ends first the last published result is returned.
func (l *Loop[T]) RefreshNow(ctx context.Context, force bool) T {
	l.mu.Lock()
	c := l.inflight
	if c == nil {
		c = l.startLocked(force)
	}
	l.mu.Unlock()

	return l.wait(ctx, c)
}

// Supersede starts a fresh cycle even when one is in flight and waits for it.
// The older cycle's result is dropped if it finishes later.
func (l *Loop[T]) Supersede(ctx context.Context, force bool) T {
	l.mu.Lock()
	c := l.startLocked(force)
	l.mu.Unlock()

	return l.wait(ctx, c)
}

// ScheduleRefresh supersedes the current cycle after delay. Pending refreshes
// are discarded by Stop.
func (l *Loop[T]) ScheduleRefresh(delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}

	l.nextTimer++
	id := l.nextTimer
	l.wg.Add(1)
	l.timers[id] = time.AfterFunc(delay, func() {
		defer l.wg.Done()

		l.mu.Lock()
		delete(l.timers, id)
		if l.stopped {
			l.mu.Unlock()
			return
		}
		c := l.startLocked(false)
		l.mu.Unlock()

		<-c.done
	})
	l.logger.Debug("Refresh scheduled", zap.Duration("delay", delay))
}

func (l *Loop[T]) trigger(force bool) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	c := l.inflight
	if c == nil {
		c = l.startLocked(force)
	}
	l.mu.Unlock()

	<-c.done
}

func (l *Loop[T]) wait(ctx context.Context, c *cycle[T]) T {
	select {
	case <-c.done:
	case <-ctx.Done():
		current, _ := l.Current()
		return current
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c.published {
		return c.result
	}
	return l.current
}

// startLocked launches a cycle. Cycles are not bound to the Start context so
// that Stop lets them finish.
func (l *Loop[T]) startLocked(force bool) *cycle[T] {
	l.seq++
	c := &cycle[T]{seq: l.seq, force: force, done: make(chan struct{})}
	l.inflight = c

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(c.done)

		id := uuid.NewString()
		start := time.Now()
		l.logger.Debug("Cycle started", zap.String("cycle", id), zap.Uint64("sequence", c.seq), zap.Bool("force", force))

		result := l.stamp(l.run(context.Background(), force), c.seq)
		l.publish(c, result)

		l.logger.Debug("Cycle finished",
			zap.String("cycle", id),
			zap.Uint64("sequence", c.seq),
			zap.Bool("published", c.published),
			zap.Duration("duration", time.Since(start)))
	}()

	return c
}

func (l *Loop[T]) publish(c *cycle[T], result T) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	c.result = result
	if l.inflight == c {
		l.inflight = nil
	}
	if c.seq <= l.published {
		latest := l.published
		l.mu.Unlock()
		metrics.RecordStaleCycleDropped(l.name)
		l.logger.Debug("Dropping stale cycle result", zap.Uint64("sequence", c.seq), zap.Uint64("published", latest))
		return
	}
	l.published = c.seq
	l.current = result
	l.hasCurrent = true
	c.published = true
	subscribers := append([]func(T){}, l.subscribers...)
	l.mu.Unlock()

	for _, fn := range subscribers {
		fn(result)
	}
}
