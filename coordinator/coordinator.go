// Package coordinator periodically fetches the panel status and publishes
// it as an immutable snapshot to its subscribers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	lares "github.com/caarlos0/homekit-lares"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "coordinator",
})

// SetLogLevel sets the level of the package logger.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

// Fetcher reads the time varying status of the panel.
type Fetcher interface {
	Zones(ctx context.Context) ([]lares.Zone, error)
	Partitions(ctx context.Context) ([]lares.Partition, error)
}

// Snapshot is the status of the panel as of UpdatedAt. It must not be
// modified.
type Snapshot struct {
	Zones      []lares.Zone
	Partitions []lares.Partition
	UpdatedAt  time.Time
}

type Options struct {
	// Interval between two cycles.
	Interval time.Duration
	// Timeout bounds a whole cycle, retries included.
	Timeout time.Duration
	// Retries within a cycle.
	Retries       uint64
	RetryInterval time.Duration
	// BreakerThreshold is the number of consecutive failed cycles after
	// which the panel is left alone for BreakerTimeout.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = time.Minute
	}
	return o
}

// Health describes how fresh the current snapshot is.
type Health struct {
	LastSuccess time.Time
	LastError   error
	Failures    int
}

type Coordinator struct {
	fetcher Fetcher
	opts    Options
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time

	cycle   sync.Mutex
	current atomic.Pointer[Snapshot]

	mu        sync.Mutex
	health    Health
	nextID    int
	onUpdate  map[int]func(*Snapshot)
	onFailure map[int]func(error)
}

func New(fetcher Fetcher, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		fetcher: fetcher,
		opts:    opts,
		now:     time.Now,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "lares",
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.BreakerThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker changed state", "name", name, "from", from, "to", to)
			},
		}),
		onUpdate:  map[int]func(*Snapshot){},
		onFailure: map[int]func(error){},
	}
}

// Snapshot returns the last successfully fetched status, nil before the
// first successful cycle.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Coordinator) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Subscribe registers fn to be called after every successful cycle.
func (c *Coordinator) Subscribe(fn func(*Snapshot)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.onUpdate[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onUpdate, id)
	}
}

// OnFailure registers fn to be called after every failed cycle.
func (c *Coordinator) OnFailure(fn func(error)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.onFailure[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onFailure, id)
	}
}

// Run refreshes the snapshot every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	tick := time.NewTicker(c.opts.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := c.Refresh(ctx); err != nil {
				log.Error("could not refresh status", "err", err)
			}
		}
	}
}

// Refresh runs a single cycle. On failure the previous snapshot is kept
// and the error is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.cycle.Lock()
	defer c.cycle.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		c.failed(err)
		return err
	}

	snap := result.(*Snapshot)
	c.current.Store(snap)
	c.published(snap)
	return nil
}

func (c *Coordinator) fetch(ctx context.Context) (*Snapshot, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.RetryInterval
	bo.MaxElapsedTime = 0

	var snap *Snapshot
	var last error
	err := backoff.RetryNotify(func() error {
		s, err := c.fetchOnce(ctx)
		if err != nil {
			last = err
			if errors.Is(err, lares.ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			return err
		}
		snap = s
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.opts.Retries), ctx), func(err error, d time.Duration) {
		log.Warn("status fetch failed, retrying", "err", err, "in", d)
	})
	if err != nil {
		if last != nil && !errors.Is(err, last) {
			return nil, fmt.Errorf("%w: %w", err, last)
		}
		return nil, err
	}
	return snap, nil
}

func (c *Coordinator) fetchOnce(ctx context.Context) (*Snapshot, error) {
	var zones []lares.Zone
	var partitions []lares.Partition

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		zones, err = c.fetcher.Zones(ctx)
		if err != nil {
			return fmt.Errorf("could not get zones: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		partitions, err = c.fetcher.Partitions(ctx)
		if err != nil {
			return fmt.Errorf("could not get partitions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Snapshot{
		Zones:      zones,
		Partitions: partitions,
		UpdatedAt:  c.now(),
	}, nil
}

func (c *Coordinator) published(snap *Snapshot) {
	c.mu.Lock()
	c.health = Health{LastSuccess: snap.UpdatedAt}
	fns := make([]func(*Snapshot), 0, len(c.onUpdate))
	for _, fn := range c.onUpdate {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	log.Debug("published snapshot", "zones", len(snap.Zones), "partitions", len(snap.Partitions))
	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Coordinator) failed(err error) {
	c.mu.Lock()
	c.health.LastError = err
	c.health.Failures++
	fns := make([]func(error), 0, len(c.onFailure))
	for _, fn := range c.onFailure {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}
