// Package browsertest provides a scripted in-memory Browser for tests.
package browsertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sawpanic/hashsignal/internal/browser"
)

// Step is what one scroll position shows on a feed page
type Step struct {
	Records []browser.Record
	Text    string // overrides the page text while this step is visible
}

// Page is one scripted screen
type Page struct {
	Selectors []string // selectors Present reports as found
	Text      string
	Feed      []Step // ReadVisible returns Feed[scroll position]
}

// Fake is a scripted browser. Routes map URL prefixes to page names, Clicks
// map "page selector" to the page shown after the click.
type Fake struct {
	Pages  map[string]Page
	Routes map[string]string
	Clicks map[string]string

	mu      sync.Mutex
	current string
	cursor  int
	errs    map[string][]error
	typed   map[string]string
	calls   []string
	closed  bool
}

// New creates an empty fake
func New() *Fake {
	return &Fake{
		Pages:  make(map[string]Page),
		Routes: make(map[string]string),
		Clicks: make(map[string]string),
		errs:   make(map[string][]error),
		typed:  make(map[string]string),
	}
}

// Factory returns a browser.Factory that always hands out f
func (f *Fake) Factory() browser.Factory {
	return func(context.Context) (browser.Browser, error) { return f, nil }
}

// Fail queues errors returned by the next calls of op
// ("open", "type", "click", "scroll", "read", "present", "text")
func (f *Fake) Fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

// Current is the name of the page on screen
func (f *Fake) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Typed returns what was last typed into target
func (f *Fake) Typed(target string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[target]
}

// Calls lists every operation in order, e.g. "click #next"
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many calls start with prefix
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) begin(ctx context.Context, op, arg string) error {
	f.calls = append(f.calls, strings.TrimSpace(op+" "+arg))
	if err := ctx.Err(); err != nil {
		return err
	}
	if queued := f.errs[op]; len(queued) > 0 {
		f.errs[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (f *Fake) OpenPage(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "open", url); err != nil {
		return err
	}
	prefixes := make([]string, 0, len(f.Routes))
	for p := range f.Routes {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if strings.HasPrefix(url, p) {
			f.current, f.cursor = f.Routes[p], 0
			return nil
		}
	}
	return fmt.Errorf("browsertest: no route for %s", url)
}

func (f *Fake) TypeText(ctx context.Context, target, text string, pacer browser.KeystrokePacer) error {
	f.mu.Lock()
	if err := f.begin(ctx, "type", target); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	for i, r := range text {
		if err := pacer.Keystroke(ctx, r, i); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.typed[target] = text
	f.mu.Unlock()
	return nil
}

func (f *Fake) Click(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "click", target); err != nil {
		return err
	}
	if next, ok := f.Clicks[f.current+" "+target]; ok {
		f.current, f.cursor = next, 0
	}
	return nil
}

func (f *Fake) Scroll(ctx context.Context, dir browser.Direction, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "scroll", dir.String()); err != nil {
		return err
	}
	if dir == browser.Down {
		f.cursor++
	} else if f.cursor > 0 {
		f.cursor--
	}
	return nil
}

func (f *Fake) ReadVisible(ctx context.Context, sel browser.SelectorSet) ([]browser.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "read", sel.Item); err != nil {
		return nil, err
	}
	page := f.Pages[f.current]
	if f.cursor >= len(page.Feed) {
		return nil, nil
	}
	out := make([]browser.Record, len(page.Feed[f.cursor].Records))
	copy(out, page.Feed[f.cursor].Records)
	return out, nil
}

func (f *Fake) Present(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "present", selector); err != nil {
		return false, err
	}
	for _, s := range f.Pages[f.current].Selectors {
		if s == selector {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) PageText(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, "text", ""); err != nil {
		return "", err
	}
	page := f.Pages[f.current]
	if f.cursor < len(page.Feed) && page.Feed[f.cursor].Text != "" {
		return page.Feed[f.cursor].Text, nil
	}
	return page.Text, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ browser.Browser = (*Fake)(nil)
