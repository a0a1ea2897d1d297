package search

import (
	"context"
	"log"
	"time"
)

// TierDriver is one acquisition strategy for a platform. Implementations
// live outside the core (browser automation, credentialed API call,
// simulated content); the chain only needs availability, an opened stream,
// and the tier label.
type TierDriver interface {
	Tier() Tier
	// Available reports whether this tier can even be attempted for the
	// platform (live tab detected, credential present, ...). It must be
	// cheap relative to Open.
	Available(ctx context.Context, platform string) bool
	Open(ctx context.Context, platform, query string) (ContentStream, error)
}

// TierAttempt records the outcome of one tier for diagnostics.
type TierAttempt struct {
	Tier     Tier
	Err      error
	Duration time.Duration
}

// Acquisition is a successful result from the chain.
type Acquisition struct {
	Content    string
	Tier       Tier
	Confidence float64
	Simulated  bool
	Attempts   []TierAttempt
}

// FallbackChain tries acquisition tiers in order (automation, credential,
// simulated) and returns the first success. The tiering exists so a
// session-wide capability outage, like no live browser, degrades per
// platform instead of failing the whole search.
type FallbackChain struct {
	Drivers []TierDriver
	Monitor *StreamMonitor
	Logger  *log.Logger
}

// Acquire walks the tiers for one platform. allowSimulated gates the last
// tier; cont is the cooperative-cancellation probe, checked before each new
// tier and once per sampling cycle inside the monitor (an attempt already
// under way finishes its current cycle, then wraps up with whatever content
// it has). onUpdate receives the accumulated content after each observed
// growth.
//
// On total failure the returned error is the last real driver error; if no
// tier was even attemptable it is a DriverUnavailable.
func (c *FallbackChain) Acquire(ctx context.Context, platform, query string, allowSimulated bool, cont func() bool, onUpdate func(string)) (Acquisition, error) {
	var (
		attempts []TierAttempt
		lastErr  error
	)

	for _, d := range c.Drivers {
		if d.Tier() == TierSimulated && !allowSimulated {
			continue
		}
		if cont != nil && !cont() {
			break
		}

		if !d.Available(ctx, platform) {
			attempts = append(attempts, TierAttempt{
				Tier: d.Tier(),
				Err:  &AcquireError{Code: CodeDriverUnavailable, Platform: platform},
			})
			continue
		}

		t0 := time.Now()
		stream, err := d.Open(ctx, platform, query)
		if err != nil {
			err = &AcquireError{Code: CodeAcquisitionFailed, Platform: platform, Err: err}
			attempts = append(attempts, TierAttempt{Tier: d.Tier(), Err: err, Duration: time.Since(t0)})
			lastErr = err
			if c.Logger != nil {
				c.Logger.Printf("tier %s open failed for %s: %v", d.Tier(), platform, err)
			}
			continue
		}

		res, err := c.Monitor.Watch(ctx, platform, stream, cont, onUpdate)
		_ = stream.Close()
		attempts = append(attempts, TierAttempt{Tier: d.Tier(), Err: err, Duration: time.Since(t0)})
		if err != nil {
			lastErr = err
			if c.Logger != nil {
				c.Logger.Printf("tier %s failed for %s: %v", d.Tier(), platform, err)
			}
			continue
		}

		conf := res.Confidence
		if nominal := d.Tier().NominalConfidence(); conf > nominal {
			conf = nominal
		}
		return Acquisition{
			Content:    res.Content,
			Tier:       d.Tier(),
			Confidence: conf,
			Simulated:  d.Tier() == TierSimulated,
			Attempts:   attempts,
		}, nil
	}

	if lastErr == nil {
		lastErr = &AcquireError{Code: CodeDriverUnavailable, Platform: platform}
	}
	return Acquisition{Attempts: attempts}, lastErr
}
