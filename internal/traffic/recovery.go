package traffic

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ValidateFunc checks the upstream. Returns nil when it is usable again.
type ValidateFunc func(ctx context.Context) error

// Recovery probes the upstream on a Fibonacci schedule after the dashboard
// turns degraded, and clears the tracker once a probe succeeds so the health
// endpoint stops reporting stale failures.
type Recovery struct {
	tracker  *Tracker
	validate ValidateFunc
	initial  time.Duration
	max      time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	notify  chan struct{}
	running atomic.Bool
}

// NewRecovery creates a Recovery. Delays run initial, 2x, 3x, 5x, 8x ...
// while they do not exceed max.
func NewRecovery(tracker *Tracker, validate ValidateFunc, initial, max time.Duration, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{
		tracker:  tracker,
		validate: validate,
		initial:  initial,
		max:      max,
		timeout:  10 * time.Second,
		logger:   logger,
		notify:   make(chan struct{}, 1),
	}
}

// Notify signals that the dashboard is degraded. Non-blocking; a no-op while
// a recovery run is in progress.
func (r *Recovery) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start listens for Notify until ctx is done.
func (r *Recovery) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				if r.running.Swap(true) {
					continue
				}
				go func() {
					defer r.running.Store(false)
					r.Run(ctx)
				}()
			}
		}
	}()
}

// Run performs one recovery sequence. It reports whether a probe succeeded.
func (r *Recovery) Run(ctx context.Context) bool {
	delays := fibDelays(r.initial, r.max)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.validate(attemptCtx)
		cancel()
		if err == nil {
			r.tracker.Reset()
			r.logger.Info("upstream recovered", zap.Int("attempt", i+1))
			return true
		}
		r.logger.Debug("recovery probe failed", zap.Int("attempt", i+1), zap.Error(err))
	}
	if len(delays) > 0 {
		r.logger.Warn("upstream recovery exhausted", zap.Int("attempts", len(delays)))
	}
	return false
}

func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := 1, 2; time.Duration(a)*initial <= max; a, b = b, a+b {
		out = append(out, time.Duration(a)*initial)
	}
	return out
}
