package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/answerhive/answerhive/internal/telemetry"
)

// Sub-step credit while a platform is in flight, mirroring the visible
// progress stages: connect, analyze, generate. Generation credit grows with
// observed content but stays below 1 until the task is terminal.
const (
	subConnect      = 0.2
	subAnalyze      = 0.4
	subGenerateBase = 0.6
	subGenerateSpan = 0.3
)

// TaskRunner drives one platform task through its state machine:
// waiting -> connecting -> acquiring -> completed|failed. All state changes
// go through the registry so pollers always see consistent snapshots.
type TaskRunner struct {
	SessionID string
	Platform  string
	Query     string

	Registry Registry
	Chain    *FallbackChain

	AllowSimulated bool
	Logger         *log.Logger
	Metrics        *telemetry.Metrics
}

// Run executes the platform task to a terminal state. The returned error is
// the task's failure cause, already recorded on the task itself; callers use
// it only for logging, never to abort sibling tasks.
func (r *TaskRunner) Run(ctx context.Context) error {
	start := time.Now()
	if err := r.transitionConnecting(ctx); err != nil {
		return err
	}
	r.annotate(ctx, "analyzing question...", subAnalyze)

	updates := 0
	onUpdate := func(content string) {
		updates++
		r.appendContent(ctx, content, updates)
	}

	acq, err := r.Chain.Acquire(ctx, r.Platform, r.Query, r.AllowSimulated, r.notStopped(ctx), onUpdate)
	r.countAttempts(acq.Attempts)
	if err != nil {
		code := CodeOf(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = CodeAcquisitionTimeout
		}
		r.fail(ctx, code, err)
		if r.Metrics != nil {
			r.Metrics.ObserveTask(r.Platform, "failed", time.Since(start))
		}
		return err
	}

	r.complete(ctx, acq)
	if r.Metrics != nil {
		r.Metrics.ObserveTask(r.Platform, "completed", time.Since(start))
	}
	if r.Logger != nil {
		r.Logger.Printf("platform %s completed via %s in %v (%d chars)",
			r.Platform, acq.Tier, time.Since(start), len(acq.Content))
	}
	return nil
}

// countAttempts records every tier attempt, successes and failures alike,
// so the tier metric reflects attempts rather than just wins.
func (r *TaskRunner) countAttempts(attempts []TierAttempt) {
	if r.Metrics == nil {
		return
	}
	for _, a := range attempts {
		outcome := "success"
		if a.Err != nil {
			outcome = "failure"
		}
		r.Metrics.CountTier(string(a.Tier), outcome)
	}
}

// notStopped is the cooperative-cancellation probe handed to the chain: a
// stop request or context cancellation forbids starting new tiers.
func (r *TaskRunner) notStopped(ctx context.Context) func() bool {
	return func() bool {
		if ctx.Err() != nil {
			return false
		}
		sess, err := r.Registry.Get(ctx, r.SessionID)
		if err != nil {
			return false
		}
		return !sess.Stopping
	}
}

func (r *TaskRunner) transitionConnecting(ctx context.Context) error {
	return r.update(ctx, func(t *PlatformTask) {
		t.State = TaskConnecting
		t.ProgressText = fmt.Sprintf("connecting to %s...", r.Platform)
		t.SubProgress = subConnect
		t.StartedAt = time.Now()
	})
}

func (r *TaskRunner) annotate(ctx context.Context, text string, sub float64) {
	_ = r.update(ctx, func(t *PlatformTask) {
		if t.State.Terminal() {
			return
		}
		t.ProgressText = text
		if sub > t.SubProgress {
			t.SubProgress = sub
		}
	})
}

func (r *TaskRunner) appendContent(ctx context.Context, content string, updates int) {
	_ = r.update(ctx, func(t *PlatformTask) {
		if t.State.Terminal() {
			return
		}
		if t.State != TaskAcquiring {
			t.State = TaskAcquiring
		}
		// Content only ever grows while acquiring; the monitor already
		// rejects shrinking samples, this guards the invariant end to end.
		if len(content) >= len(t.Content) {
			t.Content = content
		}
		t.ProgressText = fmt.Sprintf("generating answer... (%d chars)", len(t.Content))
		sub := subGenerateBase + subGenerateSpan*saturate(updates)
		if sub > t.SubProgress {
			t.SubProgress = sub
		}
	})
}

func (r *TaskRunner) complete(ctx context.Context, acq Acquisition) {
	_ = r.update(ctx, func(t *PlatformTask) {
		if t.State.Terminal() {
			return
		}
		if len(acq.Content) >= len(t.Content) {
			t.Content = acq.Content
		}
		t.State = TaskCompleted
		t.Tier = acq.Tier
		t.Simulated = acq.Simulated
		t.Confidence = acq.Confidence
		t.ProgressText = "answer complete"
		t.SubProgress = 1
		t.EndedAt = time.Now()
	})
}

func (r *TaskRunner) fail(ctx context.Context, code Code, cause error) {
	_ = r.update(ctx, func(t *PlatformTask) {
		if t.State.Terminal() {
			return
		}
		t.State = TaskFailed
		t.Confidence = 0
		t.ErrorCode = code
		t.Error = cause.Error()
		t.ProgressText = "acquisition failed"
		t.EndedAt = time.Now()
	})
	if r.Logger != nil {
		r.Logger.Printf("platform %s failed (%s): %v", r.Platform, code, cause)
	}
}

// update applies a task mutation under the registry's single-writer update
// and refreshes aggregate session progress in the same atomic step. Terminal
// mutations use a detached context so a cancelled session still records its
// final task state.
func (r *TaskRunner) update(ctx context.Context, mutate func(*PlatformTask)) error {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	return r.Registry.Update(ctx, r.SessionID, func(s *SearchSession) error {
		t := s.Task(r.Platform)
		if t == nil {
			return fmt.Errorf("platform %s not part of session %s", r.Platform, r.SessionID)
		}
		mutate(t)
		s.RecomputeProgress()
		return nil
	})
}

// saturate maps an unbounded update count into [0,1), so generation credit
// keeps creeping forward on long streams without ever reaching full.
func saturate(updates int) float64 {
	return float64(updates) / float64(updates+3)
}
