package search

import (
	"context"
	"time"
)

// ContentStream exposes the evolving output of one acquisition attempt.
// Sample returns the full text observed so far; Done reports an explicit
// completion signal when the driver has one (most browser streams never do,
// quiescence decides for them).
type ContentStream interface {
	Sample(ctx context.Context) (string, error)
	Done() bool
	Close() error
}

// MonitorResult is the outcome of watching one stream to quiescence.
type MonitorResult struct {
	Content    string
	Confidence float64
	Stabilized bool
}

// StreamMonitor samples a stream at a fixed interval and declares completion
// once the content has stopped changing for Threshold ("quiet period"), or
// once the overall Timeout elapses. Chat UIs stream tokens with no done
// signal visible to an outside observer, so quiescence is the only reliable
// termination heuristic available.
//
// A platform that emits content in bursts spaced wider than Threshold will
// be marked complete between bursts. That is an accepted limitation of the
// heuristic, not a defect to paper over.
type StreamMonitor struct {
	Interval  time.Duration
	Threshold time.Duration
	Timeout   time.Duration

	// Now and Sleep are injectable for tests; nil means real time.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (m *StreamMonitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *StreamMonitor) sleep(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch drives the quiet-period loop. onUpdate is invoked with the full
// accumulated content after every observed growth; it must not block. cont
// is the cooperative-stop probe, checked once per sampling cycle: when it
// returns false the current cycle finishes and the watch ends, keeping
// partial content at timeout-grade confidence.
//
// Completion confidence: stabilized 0.9, overall timeout or stop with
// partial content 0.8. The monitor's own Timeout with nothing accumulated
// is an AcquisitionTimeout, and so is external context cancellation or
// deadline, content or not: an externally cancelled task must not report
// success.
func (m *StreamMonitor) Watch(ctx context.Context, platform string, stream ContentStream, cont func() bool, onUpdate func(content string)) (MonitorResult, error) {
	start := m.now()
	lastChanged := start
	var content string

	for {
		sampled, err := stream.Sample(ctx)
		switch {
		case err != nil && stream.Done():
			// The producer finished with an error; nothing more will come.
			return MonitorResult{}, &AcquireError{Code: CodeAcquisitionFailed, Platform: platform, Err: err}
		case err != nil:
			// Transient sampling hiccup: treat as no change, keep waiting.
		case sampled != content && len(sampled) >= len(content):
			// Accept only non-shrinking samples so a transient DOM
			// re-render cannot violate the append-only content contract.
			content = sampled
			lastChanged = m.now()
			if onUpdate != nil {
				onUpdate(content)
			}
		}

		now := m.now()
		if stream.Done() && content != "" {
			return MonitorResult{Content: content, Confidence: 0.9, Stabilized: true}, nil
		}
		if content != "" && now.Sub(lastChanged) >= m.Threshold {
			return MonitorResult{Content: content, Confidence: 0.9, Stabilized: true}, nil
		}
		if now.Sub(start) >= m.Timeout {
			if content != "" {
				return MonitorResult{Content: content, Confidence: 0.8}, nil
			}
			return MonitorResult{}, &AcquireError{Code: CodeAcquisitionTimeout, Platform: platform}
		}

		if cont != nil && !cont() {
			if content != "" {
				return MonitorResult{Content: content, Confidence: 0.8}, nil
			}
			return MonitorResult{}, &AcquireError{Code: CodeAcquisitionTimeout, Platform: platform}
		}

		if err := m.sleep(ctx, m.Interval); err != nil {
			return MonitorResult{}, &AcquireError{Code: CodeAcquisitionTimeout, Platform: platform, Err: err}
		}
	}
}
