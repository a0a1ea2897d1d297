package search

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeDriver is a scriptable tier for chain tests.
type fakeDriver struct {
	tier      Tier
	available bool
	openErr   error
	content   string
	opened    int
}

func (d *fakeDriver) Tier() Tier                             { return d.tier }
func (d *fakeDriver) Available(context.Context, string) bool { return d.available }

func (d *fakeDriver) Open(context.Context, string, string) (ContentStream, error) {
	d.opened++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &scriptedStream{samples: []string{d.content}, done: true}, nil
}

func newTestChain(drivers ...TierDriver) *FallbackChain {
	clock := &fakeClock{now: time.Unix(0, 0)}
	return &FallbackChain{
		Drivers: drivers,
		Monitor: newTestMonitor(clock),
	}
}

func TestAcquireFirstTierWins(t *testing.T) {
	auto := &fakeDriver{tier: TierAutomation, available: true, content: "from automation"}
	cred := &fakeDriver{tier: TierCredential, available: true, content: "from credential"}
	chain := newTestChain(auto, cred)

	acq, err := chain.Acquire(context.Background(), "DeepSeek", "q", true, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acq.Tier != TierAutomation || acq.Content != "from automation" {
		t.Fatalf("wrong winner: %+v", acq)
	}
	if cred.opened != 0 {
		t.Fatal("lower tier must not be attempted after a success")
	}
	if acq.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want automation nominal 0.9", acq.Confidence)
	}
}

func TestAcquireFallsThroughUnavailable(t *testing.T) {
	auto := &fakeDriver{tier: TierAutomation, available: false}
	cred := &fakeDriver{tier: TierCredential, available: true, content: "api answer"}
	chain := newTestChain(auto, cred)

	acq, err := chain.Acquire(context.Background(), "Kimi", "q", true, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acq.Tier != TierCredential {
		t.Fatalf("expected credential tier, got %s", acq.Tier)
	}
	if acq.Confidence != 0.85 {
		t.Fatalf("confidence = %v, want credential nominal 0.85", acq.Confidence)
	}
	if len(acq.Attempts) != 2 {
		t.Fatalf("expected both tiers recorded, got %d attempts", len(acq.Attempts))
	}
	if CodeOf(acq.Attempts[0].Err) != CodeDriverUnavailable {
		t.Fatalf("skipped tier should record unavailability: %v", acq.Attempts[0].Err)
	}
}

func TestAcquireSimulatedGate(t *testing.T) {
	sim := &fakeDriver{tier: TierSimulated, available: true, content: "simulated"}
	chain := newTestChain(sim)

	if _, err := chain.Acquire(context.Background(), "Qwen", "q", false, nil, nil); err == nil {
		t.Fatal("simulated tier must be skipped when not allowed")
	} else if CodeOf(err) != CodeDriverUnavailable {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeDriverUnavailable)
	}

	acq, err := chain.Acquire(context.Background(), "Qwen", "q", true, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error with simulation allowed: %v", err)
	}
	if !acq.Simulated {
		t.Fatal("simulated acquisition not flagged")
	}
}

func TestAcquireReturnsLastRealError(t *testing.T) {
	auto := &fakeDriver{tier: TierAutomation, available: true, openErr: fmt.Errorf("tab gone")}
	cred := &fakeDriver{tier: TierCredential, available: true, openErr: fmt.Errorf("401 unauthorized")}
	chain := newTestChain(auto, cred)

	_, err := chain.Acquire(context.Background(), "ChatGPT", "q", false, nil, nil)
	if err == nil {
		t.Fatal("expected failure when every tier errors")
	}
	if CodeOf(err) != CodeAcquisitionFailed {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeAcquisitionFailed)
	}
	if got := err.Error(); !strings.Contains(got, "401 unauthorized") {
		t.Fatalf("should surface the last real error, got %q", got)
	}
}

func TestAcquireStopsBetweenTiers(t *testing.T) {
	auto := &fakeDriver{tier: TierAutomation, available: true, openErr: fmt.Errorf("boom")}
	cred := &fakeDriver{tier: TierCredential, available: true, content: "never reached"}
	chain := newTestChain(auto, cred)

	calls := 0
	cont := func() bool {
		calls++
		return calls == 1 // allow the first tier, stop before the second
	}
	_, err := chain.Acquire(context.Background(), "Gemini", "q", true, cont, nil)
	if err == nil {
		t.Fatal("expected the first tier's error after stop")
	}
	if cred.opened != 0 {
		t.Fatal("no new tier may start after a stop request")
	}
}
