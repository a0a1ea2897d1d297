package simulated

import (
	"context"
	"strings"
	"testing"

	"github.com/answerhive/answerhive/config"
	"github.com/answerhive/answerhive/internal/search"
)

func TestDriverIdentity(t *testing.T) {
	d := New(0, nil)
	if d.Tier() != search.TierSimulated {
		t.Fatalf("tier = %s", d.Tier())
	}
	if !d.Available(context.Background(), "anything") {
		t.Fatal("simulated tier must always be available")
	}
}

func TestStreamDeliversWholeAnswer(t *testing.T) {
	d := New(0, []config.PlatformConfig{{Name: "DeepSeek", Description: "test platform"}})
	stream, err := d.Open(context.Background(), "DeepSeek", "what is a goroutine")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	// Zero delay releases everything on the first sample.
	content, err := stream.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if !stream.Done() {
		t.Fatal("zero-delay stream should be done after full release")
	}
	if !strings.Contains(content, "Simulated DeepSeek response") {
		t.Fatalf("content not labeled as simulated:\n%s", content)
	}
	if !strings.Contains(content, "what is a goroutine") {
		t.Fatalf("query missing from content:\n%s", content)
	}
	if !strings.Contains(content, "test platform") {
		t.Fatalf("platform description missing:\n%s", content)
	}
}

func TestStreamIsAppendOnly(t *testing.T) {
	d := New(0, nil)
	stream, _ := d.Open(context.Background(), "Kimi", "q")
	defer stream.Close()

	var prev string
	for i := 0; i < 5; i++ {
		cur, err := stream.Sample(context.Background())
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if !strings.HasPrefix(cur, prev) {
			t.Fatalf("sample %d shrank or rewrote earlier content", i)
		}
		prev = cur
	}
}

func TestSplitChunks(t *testing.T) {
	chunks := split(strings.Repeat("a", 450), 200)
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 200 || len(chunks[2]) != 50 {
		t.Fatalf("chunk sizes wrong: %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if len(split("", 200)) != 0 {
		t.Fatal("empty input should produce no chunks")
	}
}

func TestDeterministicContent(t *testing.T) {
	d := New(0, nil)
	s1, _ := d.Open(context.Background(), "Qwen", "same question")
	s2, _ := d.Open(context.Background(), "Qwen", "same question")
	c1, _ := s1.Sample(context.Background())
	c2, _ := s2.Sample(context.Background())
	if c1 != c2 {
		t.Fatal("same platform and query must simulate identical content")
	}
}
