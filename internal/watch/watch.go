// Package watch drives cooperative polling of external sources. A Source
// finds new items and turns each into a task; a Loop runs that cycle on a
// fixed interval until it is stopped.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultInterval = 30 * time.Second
	maxTick         = time.Second
)

var (
	ErrAlreadyRunning = errors.New("watch loop already running")
	ErrPanic          = errors.New("materialize panicked")
)

// Source is the capability a watcher plugs into a Loop.
type Source[T any] interface {
	Name() string
	// Discover returns items that have not been turned into tasks yet.
	Discover(ctx context.Context) ([]T, error)
	// Materialize creates the task for item and returns its reference, or
	// "" when nothing was created.
	Materialize(ctx context.Context, item T) (string, error)
}

// Stats summarises one cycle.
type Stats struct {
	Discovered int
	Created    int
	Failed     int
}

// Options configures a Loop. Tick is clamped to one second so shutdown
// latency never depends on Interval.
type Options struct {
	Interval time.Duration
	Tick     time.Duration
}

// Loop polls a Source until Stop is called or the context ends.
type Loop[T any] struct {
	source   Source[T]
	interval time.Duration
	tick     time.Duration

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewLoop[T any](source Source[T], opts Options) *Loop[T] {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Tick <= 0 || opts.Tick > maxTick {
		opts.Tick = maxTick
	}
	return &Loop[T]{
		source:   source,
		interval: opts.Interval,
		tick:     opts.Tick,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, running a cycle every interval. It returns nil once stopped
// or when ctx is cancelled.
func (l *Loop[T]) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	name := l.source.Name()
	log.Info().Str("watcher", name).Dur("interval", l.interval).Msg("watcher started")
	for !l.stopped(ctx) {
		l.RunOnce(ctx)
		if !Pause(ctx, l.interval, l.tick, l.stopCh) {
			break
		}
	}
	log.Info().Str("watcher", name).Msg("watcher stopped")
	return nil
}

// Stop asks the loop to finish. It may be called any number of times from
// any goroutine, including before Run.
func (l *Loop[T]) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Running reports whether Run is active.
func (l *Loop[T]) Running() bool { return l.running.Load() }

// RunOnce performs a single discover and materialize cycle.
func (l *Loop[T]) RunOnce(ctx context.Context) Stats {
	var stats Stats
	name := l.source.Name()

	items, err := l.discover(ctx)
	if err != nil {
		log.Error().Str("watcher", name).Err(err).Msg("discover failed")
		return stats
	}
	stats.Discovered = len(items)

	for _, item := range items {
		if l.stopped(ctx) {
			break
		}
		ref, err := l.materialize(ctx, item)
		if err != nil {
			stats.Failed++
			log.Error().Str("watcher", name).Str("item", fmt.Sprint(item)).Err(err).Msg("materialize failed")
			continue
		}
		if ref != "" {
			stats.Created++
			log.Info().Str("watcher", name).Str("task", ref).Msg("task created")
		}
	}
	if stats.Discovered > 0 {
		log.Debug().Str("watcher", name).Int("discovered", stats.Discovered).
			Int("created", stats.Created).Int("failed", stats.Failed).Msg("cycle finished")
	}
	return stats
}

func (l *Loop[T]) discover(ctx context.Context) (items []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discover panicked: %v", r)
		}
	}()
	return l.source.Discover(ctx)
}

func (l *Loop[T]) materialize(ctx context.Context, item T) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return l.source.Materialize(ctx, item)
}

func (l *Loop[T]) stopped(ctx context.Context) bool {
	select {
	case <-l.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Pause sleeps for d in slices of at most tick. It returns false as soon as
// ctx is done or stop is closed; stop may be nil.
func Pause(ctx context.Context, d, tick time.Duration, stop <-chan struct{}) bool {
	if tick <= 0 || tick > maxTick {
		tick = maxTick
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		slice := min(tick, remaining)
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-stop:
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
