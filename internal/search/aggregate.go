package search

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// DefaultFingerprintLength is how many normalized leading runes feed the
// duplicate fingerprint.
const DefaultFingerprintLength = 100

// Fingerprinter maps content to a duplicate-collapse key. The default is a
// normalized-prefix hash; swapping in a semantic comparator changes nothing
// else about the merge.
type Fingerprinter func(content string) string

// PrefixFingerprint returns the default fingerprinter: FNV-1a over the
// lower-cased, whitespace-trimmed first n runes.
func PrefixFingerprint(n int) Fingerprinter {
	if n <= 0 {
		n = DefaultFingerprintLength
	}
	return func(content string) string {
		norm := strings.ToLower(strings.TrimSpace(content))
		if runes := []rune(norm); len(runes) > n {
			norm = string(runes[:n])
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(norm))
		return fmt.Sprintf("%016x", h.Sum64())
	}
}

// Aggregator merges completed platform tasks into one labeled document.
// This is a structural merge, not a semantic summary: each surviving
// contribution becomes its own section; semantic integration is a separate,
// optional step owned by the caller.
type Aggregator struct {
	// Floor drops contributions at or below this confidence. Zero keeps
	// every completed task.
	Floor float64
	// Fingerprint collapses near-duplicates; nil means PrefixFingerprint
	// with the default length.
	Fingerprint Fingerprinter
}

// Merge filters, deduplicates and concatenates tasks in encounter order.
// Items sharing a fingerprint collapse to the first occurrence, so the
// retained set is invariant under permutation of completion order.
func (a Aggregator) Merge(tasks []PlatformTask) AggregatedDocument {
	fp := a.Fingerprint
	if fp == nil {
		fp = PrefixFingerprint(DefaultFingerprintLength)
	}

	seen := make(map[string]struct{})
	var kept []Contribution
	for _, t := range tasks {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		if a.Floor > 0 && t.Confidence <= a.Floor {
			continue
		}
		key := fp(content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, Contribution{
			Platform:   t.Platform,
			Content:    content,
			Confidence: t.Confidence,
			Simulated:  t.Simulated,
		})
	}

	var b strings.Builder
	b.WriteString("# Multi-platform answers\n\n")
	for i, c := range kept {
		fmt.Fprintf(&b, "## Source %d: %s\n\n", i+1, c.Platform)
		fmt.Fprintf(&b, "_confidence: %.2f_", c.Confidence)
		if c.Simulated {
			b.WriteString(" _(simulated, non-authoritative)_")
		}
		b.WriteString("\n\n")
		b.WriteString(c.Content)
		b.WriteString("\n\n---\n\n")
	}

	return AggregatedDocument{
		Content:       b.String(),
		Contributions: kept,
		SourceCount:   len(kept),
	}
}

// NoResults builds the explicit empty-success document: a failed session
// still answers the client with something honest instead of an empty body.
func (a Aggregator) NoResults(query string) AggregatedDocument {
	return AggregatedDocument{
		Content: fmt.Sprintf(
			"# No results\n\nNo platform produced an answer for %q. "+
				"Check platform availability and credentials, then retry.\n", query),
		SourceCount: 0,
		NoResults:   true,
	}
}
