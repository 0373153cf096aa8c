// Package sweeper cancels orders left in "ready" past the pickup deadline.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"posuda/internal/clock"
	"posuda/internal/domain"
	applog "posuda/internal/log"
)

const (
	DefaultSchedule = "0 0 * * *"
	DefaultReadyTTL = 10 * 24 * time.Hour
)

var ErrAlreadyStarted = errors.New("sweeper already started")

// Orders is the slice of the order service the sweeper needs.
type Orders interface {
	ListReadyBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error)
	CancelOrder(ctx context.Context, id string, actor domain.Actor) (domain.Order, error)
}

type Config struct {
	Schedule   string        // cron spec, evaluated in UTC
	ReadyTTL   time.Duration // how long an order may sit in ready
	RunOnStart bool
}

// Report summarizes one sweep.
type Report struct {
	Scanned   int `json:"scanned"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Sweeper struct {
	orders Orders
	clock  clock.Clock
	cfg    Config

	cron    *cron.Cron
	mu      sync.Mutex     // one sweep at a time
	wg      sync.WaitGroup // run-on-start sweep
	startMu sync.Mutex
	started bool
}

func New(orders Orders, clk clock.Clock, cfg Config) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.ReadyTTL <= 0 {
		cfg.ReadyTTL = DefaultReadyTTL
	}
	return &Sweeper{
		orders: orders,
		clock:  clk,
		cfg:    cfg,
		cron:   cron.New(cron.WithLocation(time.UTC)),
	}
}

// RunOnce cancels every ready order whose readyAt is at least ReadyTTL old.
// A failure on one order is logged and does not stop the rest.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.cfg.ReadyTTL)
	stale, err := s.orders.ListReadyBefore(ctx, cutoff)
	if err != nil {
		return Report{}, fmt.Errorf("list stale ready orders: %w", err)
	}

	rep := Report{Scanned: len(stale)}
	for _, o := range stale {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		_, err := s.orders.CancelOrder(ctx, o.ID, domain.SystemActor)
		switch {
		case err == nil:
			rep.Cancelled++
			applog.Audit(nil, "sweeper.cancel", map[string]any{"order_id": o.ID, "ready_at": o.ReadyAt})
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
			// changed or removed since the scan
			rep.Skipped++
		default:
			rep.Failed++
			applog.Error(nil, "sweeper.cancel.fail", err, map[string]any{"order_id": o.ID})
		}
	}
	applog.Info(nil, "sweeper.run", map[string]any{
		"cutoff":    cutoff,
		"scanned":   rep.Scanned,
		"cancelled": rep.Cancelled,
		"skipped":   rep.Skipped,
		"failed":    rep.Failed,
	})
	return rep, nil
}

func (s *Sweeper) sweep() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		applog.Error(nil, "sweeper.run.fail", err, nil)
	}
}

// Start registers the schedule and starts the cron loop. A second call
// returns ErrAlreadyStarted.
func (s *Sweeper) Start() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.started = true
	applog.Info(nil, "sweeper.start", map[string]any{"schedule": s.cfg.Schedule, "ready_ttl": s.cfg.ReadyTTL.String()})
	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sweep()
		}()
	}
	return nil
}

// Stop halts the schedule and waits for a running sweep or ctx. If ctx
// expires first, the sweep in flight and the goroutine waiting on it keep
// running until the sweep finishes.
func (s *Sweeper) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		applog.Info(nil, "sweeper.stop", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
