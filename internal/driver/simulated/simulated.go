// Package simulated is the last acquisition tier: deterministic,
// clearly-labeled placeholder answers produced locally. It exists so a demo
// or a fully offline run still exercises the whole pipeline, streaming
// included.
package simulated

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/answerhive/answerhive/config"
	"github.com/answerhive/answerhive/internal/search"
)

const chunkSize = 200

// Driver emits canned content for any platform, paced in chunks so the
// stream monitor sees it grow the way a real chat UI would.
type Driver struct {
	delay     time.Duration
	platforms map[string]config.PlatformConfig
}

func New(delay time.Duration, platforms []config.PlatformConfig) *Driver {
	byName := make(map[string]config.PlatformConfig, len(platforms))
	for _, p := range platforms {
		byName[p.Name] = p
	}
	return &Driver{delay: delay, platforms: byName}
}

func (d *Driver) Tier() search.Tier { return search.TierSimulated }

// Available is unconditionally true: simulation needs nothing external.
func (d *Driver) Available(context.Context, string) bool { return true }

func (d *Driver) Open(_ context.Context, platform, query string) (search.ContentStream, error) {
	full := d.compose(platform, query)
	return &stream{chunks: split(full, chunkSize), delay: d.delay}, nil
}

func (d *Driver) compose(platform, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Simulated %s response]\n\n", platform)
	fmt.Fprintf(&b, "Regarding \"%s\":\n\n", query)
	b.WriteString("This content was generated locally because no live session or ")
	b.WriteString("credential was available for the platform. It stands in for a ")
	b.WriteString("real answer so the rest of the pipeline can be observed end to end.\n\n")
	if p, ok := d.platforms[platform]; ok && p.Description != "" {
		fmt.Fprintf(&b, "%s would normally answer here. %s.\n\n", platform, p.Description)
	}
	fmt.Fprintf(&b, "Key points a real %s answer might cover:\n", platform)
	b.WriteString("1. A restatement of the question and its core terms.\n")
	b.WriteString("2. The main answer with supporting reasoning.\n")
	b.WriteString("3. Caveats, alternatives, and pointers for further reading.\n")
	return b.String()
}

func split(s string, n int) []string {
	var chunks []string
	for len(s) > n {
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

// stream releases one chunk per delay tick. Sample never blocks on the
// pacing itself; it reports whatever has been released so far.
type stream struct {
	chunks []string
	delay  time.Duration

	mu       sync.Mutex
	started  time.Time
	released int
}

func (s *stream) Sample(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		s.started = time.Now()
	}
	due := len(s.chunks)
	if s.delay > 0 {
		due = int(time.Since(s.started)/s.delay) + 1
		if due > len(s.chunks) {
			due = len(s.chunks)
		}
	}
	if due > s.released {
		s.released = due
	}
	return strings.Join(s.chunks[:s.released], ""), nil
}

func (s *stream) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released >= len(s.chunks)
}

func (s *stream) Close() error { return nil }
