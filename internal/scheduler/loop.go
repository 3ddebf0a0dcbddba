// Package scheduler runs a job on a fixed interval until its context ends. A failing or panicking
// iteration is logged and the loop waits for the next tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"labwatch/internal/metrics"
)

type Job func(ctx context.Context) error

// Ticker is the part of *time.Ticker the loop uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

type Loop struct {
	Name     string
	Interval time.Duration
	Job      Job

	log       *slog.Logger
	newTicker func(time.Duration) Ticker
}

func NewLoop(name string, interval time.Duration, job Job, logger *slog.Logger) *Loop {
	return &Loop{
		Name:     name,
		Interval: interval,
		Job:      job,
		log:      logger.With("loop", name),
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{time.NewTicker(d)}
		},
	}
}

// Run executes the job once immediately and then on every tick. It returns when ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := l.newTicker(l.Interval)
	defer ticker.Stop()
	l.log.Info("loop started", "interval", l.Interval.String())

	l.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped")
			return
		case <-ticker.C():
			l.runOnce(ctx)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := l.safeRun(ctx)
	metrics.TickDuration.WithLabelValues(l.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		l.log.Error("tick failed", "err", err)
	}
}

func (l *Loop) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues(l.Name).Inc()
			l.log.Error("tick panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.Job(ctx)
}
