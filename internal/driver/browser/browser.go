// Package browser is the first acquisition tier: it attaches to a live,
// user-operated browser over the DevTools protocol, finds the tab that is
// already logged in to a platform, submits the query through the page's own
// input, and samples the growing answer out of the DOM.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	readability "github.com/go-shiori/go-readability"

	"github.com/answerhive/answerhive/config"
	"github.com/answerhive/answerhive/internal/search"
)

// Driver drives platform tabs in an externally launched browser. It never
// starts a browser of its own: the whole point of this tier is to ride
// sessions the user already has open and logged in.
type Driver struct {
	debugURL       string
	connectTimeout time.Duration
	typingDelay    time.Duration
	maxChars       int
	platforms      map[string]config.PlatformConfig
}

func New(cfg config.BrowserConfig, platforms []config.PlatformConfig) *Driver {
	byName := make(map[string]config.PlatformConfig, len(platforms))
	for _, p := range platforms {
		byName[p.Name] = p
	}
	return &Driver{
		debugURL:       cfg.DebugURL,
		connectTimeout: cfg.ConnectTimeout,
		typingDelay:    cfg.TypingDelay,
		maxChars:       cfg.MaxChars,
		platforms:      byName,
	}
}

func (d *Driver) Tier() search.Tier { return search.TierAutomation }

// Available reports whether the debug endpoint answers and a page on one of
// the platform's domains is open.
func (d *Driver) Available(ctx context.Context, platform string) bool {
	p, ok := d.platforms[platform]
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	actx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, d.debugURL)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	info, err := d.findTab(bctx, p)
	return err == nil && info != nil
}

// Open attaches to the platform's tab, submits the query, and returns a
// stream that samples the page for the answer.
func (d *Driver) Open(ctx context.Context, platform, query string) (search.ContentStream, error) {
	p, ok := d.platforms[platform]
	if !ok {
		return nil, fmt.Errorf("unknown platform %s", platform)
	}

	actx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, d.debugURL)
	bctx, cancelBrowser := chromedp.NewContext(actx)

	cleanup := func() {
		cancelBrowser()
		cancelAlloc()
	}

	info, err := d.findTab(bctx, p)
	if err != nil {
		cleanup()
		return nil, err
	}
	if info == nil {
		cleanup()
		return nil, fmt.Errorf("no open tab for %s (domains %s)", platform, strings.Join(p.Domains, ", "))
	}

	tctx, cancelTab := chromedp.NewContext(bctx, chromedp.WithTargetID(info.TargetID))
	s := &stream{
		ctx:      tctx,
		pageURL:  info.URL,
		selector: p.ResultSelector,
		maxChars: d.maxChars,
		cancel: func() {
			cancelTab()
			cleanup()
		},
	}

	if err := d.submit(tctx, p, query); err != nil {
		s.Close()
		return nil, fmt.Errorf("submit query to %s: %w", platform, err)
	}
	// The page's previous answer would otherwise be mistaken for the new
	// one. Record its text and only report growth past it.
	s.baseline, _ = s.extract(tctx)
	return s, nil
}

func (d *Driver) findTab(bctx context.Context, p config.PlatformConfig) (*target.Info, error) {
	infos, err := chromedp.Targets(bctx)
	if err != nil {
		return nil, fmt.Errorf("list browser targets: %w", err)
	}
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		u, err := url.Parse(info.URL)
		if err != nil {
			continue
		}
		for _, domain := range p.Domains {
			if u.Host == domain || strings.HasSuffix(u.Host, "."+domain) {
				return info, nil
			}
		}
	}
	return nil, nil
}

func (d *Driver) submit(tctx context.Context, p config.PlatformConfig, query string) error {
	ctx, cancel := context.WithTimeout(tctx, d.connectTimeout)
	defer cancel()

	if err := chromedp.Run(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Click(p.InputSelector, chromedp.ByQuery),
		chromedp.SendKeys(p.InputSelector, query, chromedp.ByQuery),
	); err != nil {
		return err
	}
	if d.typingDelay > 0 {
		_ = chromedp.Run(ctx, chromedp.Sleep(d.typingDelay))
	}

	// Prefer the send button; some platforms hide it until text is present,
	// and some only react to Enter.
	if err := chromedp.Run(ctx, chromedp.Click(p.SendSelector, chromedp.ByQuery)); err != nil {
		return chromedp.Run(ctx, chromedp.SendKeys(p.InputSelector, kb.Enter, chromedp.ByQuery))
	}
	return nil
}

// stream samples the answer element's text from the attached tab.
type stream struct {
	ctx      context.Context
	pageURL  string
	selector string
	maxChars int
	baseline string
	cancel   func()

	mu     sync.Mutex
	closed bool
}

// extractJS pulls innerText from the last element matching the result
// selector. The newest answer is the last match on every supported chat UI.
const extractJS = `(() => {
	const nodes = document.querySelectorAll(%q);
	if (nodes.length === 0) return "";
	return nodes[nodes.length - 1].innerText || "";
})()`

func (s *stream) Sample(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("stream closed")
	}
	s.mu.Unlock()

	text, err := s.extract(s.ctx)
	if err != nil {
		return "", err
	}
	if text == "" || text == s.baseline {
		// Selector drift is common on these UIs. Fall back to article
		// extraction over the whole page before reporting nothing.
		if fallback := s.extractReadable(); fallback != "" && fallback != s.baseline {
			text = fallback
		} else {
			return "", nil
		}
	}
	if s.maxChars > 0 && len(text) > s.maxChars {
		text = text[:s.maxChars]
	}
	return text, nil
}

func (s *stream) extract(ctx context.Context) (string, error) {
	var text string
	err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(extractJS, s.selector), &text),
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *stream) extractReadable() string {
	var html string
	if err := chromedp.Run(s.ctx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return ""
	}
	u, err := url.Parse(s.pageURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

// Done is always false: chat pages expose no completion signal, quiescence
// decides.
func (s *stream) Done() bool { return false }

// Close detaches from the tab. The tab itself stays open; it belongs to the
// user.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}
