package search

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/answerhive/answerhive/internal/telemetry"
)

var orchestratorTracer trace.Tracer = otel.Tracer("answerhive/internal/search")

// Options controls one search session.
type Options struct {
	Platforms      []string
	AllowSimulated bool
	// Timeout bounds the whole session; zero means the orchestrator default.
	Timeout time.Duration
	// ConfidenceFloor overrides the aggregator's minimum confidence when > 0.
	ConfidenceFloor float64
}

// Orchestrator fans a query out to one task runner per requested platform,
// tracks aggregate progress through the registry, and aggregates once every
// task is terminal. Start is non-blocking; clients poll session state.
type Orchestrator struct {
	registry   Registry
	chain      *FallbackChain
	aggregator Aggregator
	logger     *log.Logger
	metrics    *telemetry.Metrics

	defaultTimeout time.Duration
	semaphore      chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. maxWorkers bounds concurrently
// acquiring platforms across all sessions.
func NewOrchestrator(reg Registry, chain *FallbackChain, agg Aggregator, maxWorkers int, defaultTimeout time.Duration, logger *log.Logger, metrics *telemetry.Metrics) *Orchestrator {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		registry:       reg,
		chain:          chain,
		aggregator:     agg,
		logger:         logger,
		metrics:        metrics,
		defaultTimeout: defaultTimeout,
		semaphore:      make(chan struct{}, maxWorkers),
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Start validates the request, creates the session and launches the
// background run. It returns the session id immediately.
func (o *Orchestrator) Start(ctx context.Context, query string, opts Options) (string, error) {
	if query == "" {
		return "", fmt.Errorf("query must not be empty")
	}
	if len(opts.Platforms) == 0 {
		return "", fmt.Errorf("at least one platform is required")
	}
	seen := make(map[string]struct{}, len(opts.Platforms))
	for _, p := range opts.Platforms {
		if _, dup := seen[p]; dup {
			return "", fmt.Errorf("duplicate platform %q", p)
		}
		seen[p] = struct{}{}
	}

	sess, err := o.registry.Create(ctx, query, opts.Platforms)
	if err != nil {
		return "", err
	}
	o.metrics.SessionStarted()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	o.mu.Lock()
	o.cancels[sess.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(runCtx, sess.ID, query, opts)

	o.logger.Printf("session %s started: %d platforms, timeout %v", sess.ID, len(opts.Platforms), timeout)
	return sess.ID, nil
}

func (o *Orchestrator) run(ctx context.Context, sessionID, query string, opts Options) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.cancels[sessionID]; ok {
			cancel()
			delete(o.cancels, sessionID)
		}
		o.mu.Unlock()
	}()

	ctx, span := orchestratorTracer.Start(ctx, "search.session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("session.platforms", len(opts.Platforms)),
		))
	defer span.End()

	var wg sync.WaitGroup
	for _, platform := range opts.Platforms {
		wg.Add(1)
		go func(platform string) {
			defer wg.Done()

			select {
			case o.semaphore <- struct{}{}:
				defer func() { <-o.semaphore }()
			case <-ctx.Done():
				o.forceTimeout(sessionID, platform)
				return
			}

			taskCtx, taskSpan := orchestratorTracer.Start(ctx, "search.platform_task",
				trace.WithAttributes(attribute.String("task.platform", platform)))
			runner := &TaskRunner{
				SessionID:      sessionID,
				Platform:       platform,
				Query:          query,
				Registry:       o.registry,
				Chain:          o.chain,
				AllowSimulated: opts.AllowSimulated,
				Logger:         o.logger,
				Metrics:        o.metrics,
			}
			if err := runner.Run(taskCtx); err != nil {
				taskSpan.RecordError(err)
				taskSpan.SetStatus(codes.Error, err.Error())
			} else {
				taskSpan.SetStatus(codes.Ok, "completed")
			}
			taskSpan.End()
		}(platform)
	}
	wg.Wait()

	o.finalize(context.WithoutCancel(ctx), sessionID, opts, span)
}

// forceTimeout marks a task that never got to run (session deadline hit
// while it waited for a worker slot) as failed with a timeout code.
func (o *Orchestrator) forceTimeout(sessionID, platform string) {
	ctx := context.Background()
	_ = o.registry.Update(ctx, sessionID, func(s *SearchSession) error {
		t := s.Task(platform)
		if t == nil || t.State.Terminal() {
			return nil
		}
		t.State = TaskFailed
		t.Confidence = 0
		t.ErrorCode = CodeAcquisitionTimeout
		t.Error = "session timeout before acquisition"
		t.ProgressText = "timed out"
		t.EndedAt = time.Now()
		s.RecomputeProgress()
		return nil
	})
}

// finalize computes the terminal session state: completed when at least one
// platform delivered, failed when all did. Either way the client gets a
// document; an empty success set yields an explicit no-results document
// rather than a silent empty string.
func (o *Orchestrator) finalize(ctx context.Context, sessionID string, opts Options, span trace.Span) {
	err := o.registry.Update(ctx, sessionID, func(s *SearchSession) error {
		if s.Status != SessionRunning {
			return nil
		}
		completed := s.CompletedTasks()
		agg := o.aggregator
		if opts.ConfidenceFloor > 0 {
			agg.Floor = opts.ConfidenceFloor
		}
		if len(completed) > 0 {
			doc := agg.Merge(completed)
			s.Document = &doc
			s.Status = SessionCompleted
		} else {
			doc := agg.NoResults(s.Query)
			s.Document = &doc
			s.Status = SessionFailed
			s.Error = "no platform produced a result"
		}
		s.Progress = 1
		return nil
	})
	if err != nil {
		// Session was deleted mid-flight; nothing left to finalize.
		o.logger.Printf("session %s finalize skipped: %v", sessionID, err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	sess, err := o.registry.Get(ctx, sessionID)
	if err != nil {
		return
	}
	o.metrics.SessionFinished(sess.Status == SessionCompleted)
	if sess.Document != nil {
		span.SetAttributes(attribute.Int("session.source_count", sess.Document.SourceCount))
	}
	span.SetAttributes(attribute.String("session.status", string(sess.Status)))
	span.SetStatus(codes.Ok, string(sess.Status))
	o.logger.Printf("session %s %s", sessionID, sess.Status)
}

// Status returns a consistent snapshot of the session.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (*SearchSession, error) {
	return o.registry.Get(ctx, sessionID)
}

// Stop requests cooperative cancellation: in-flight sampling cycles finish,
// no new acquisition tiers start.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string) error {
	return o.registry.Update(ctx, sessionID, func(s *SearchSession) error {
		s.Stopping = true
		return nil
	})
}

// Delete removes the session from the registry.
func (o *Orchestrator) Delete(ctx context.Context, sessionID string) error {
	if err := o.registry.Delete(ctx, sessionID); err != nil {
		return err
	}
	o.metrics.SessionDeleted()
	return nil
}

// Wait blocks until all background session runs have finished. Used by
// shutdown paths and tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }
