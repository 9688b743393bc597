package providers

import (
	"context"
	"sync"
	"time"
)

// PacerConfig controls the request spacing and failure backoff of one
// adapter instance.
type PacerConfig struct {
	// BaseInterval is the minimum spacing between requests with zero
	// consecutive failures.
	BaseInterval time.Duration

	// FailureCap bounds the exponent: the interval stops growing after
	// this many consecutive failures.
	FailureCap int

	// MaxBackoff is the absolute ceiling on the enforced interval.
	MaxBackoff time.Duration
}

// pacer enforces a minimum spacing between outbound requests and grows
// the spacing exponentially after consecutive failures. Each adapter
// instance owns exactly one pacer; the state is never shared.
//
// The check-then-update around lastRequest is serialized with a mutex
// so two callers racing through one adapter cannot both pass the check
// and double the effective request rate.
type pacer struct {
	cfg PacerConfig

	mu          sync.Mutex
	lastRequest time.Time
	failures    int
}

func newPacer(cfg PacerConfig) *pacer {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = time.Second
	}
	if cfg.FailureCap <= 0 {
		cfg.FailureCap = 5
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &pacer{cfg: cfg}
}

// interval returns the currently required spacing:
// min(base * 2^min(failures, cap), maxBackoff).
func (p *pacer) interval() time.Duration {
	exp := p.failures
	if exp > p.cfg.FailureCap {
		exp = p.cfg.FailureCap
	}
	d := p.cfg.BaseInterval << uint(exp)
	if d > p.cfg.MaxBackoff || d <= 0 {
		d = p.cfg.MaxBackoff
	}
	return d
}

// Wait blocks until the next request is allowed, then stamps now as the
// last request time. The sleep is cancellable so polling loops can shut
// down without waiting out a backoff window.
func (p *pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastRequest.IsZero() {
		elapsed := time.Since(p.lastRequest)
		if wait := p.interval() - elapsed; wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	p.lastRequest = time.Now()
	return nil
}

// RecordSuccess resets the consecutive failure counter.
func (p *pacer) RecordSuccess() {
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
}

// RecordFailure increments the consecutive failure counter.
func (p *pacer) RecordFailure() {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
}

// Failures returns the current consecutive failure count.
func (p *pacer) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}
