// Package htmldriver implements browser.Browser over plain HTTP: pages are
// fetched with resty, parsed with goquery, forms are submitted by Click and
// Scroll follows the page's "load more" link. Every request passes through
// a per-host limiter, a request window budget and a circuit breaker.
package htmldriver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/browser"
	"github.com/sawpanic/hashsignal/internal/faults"
	"github.com/sawpanic/hashsignal/internal/net/breakers"
	"github.com/sawpanic/hashsignal/internal/net/budget"
	"github.com/sawpanic/hashsignal/internal/net/client"
	"github.com/sawpanic/hashsignal/internal/net/ratelimit"
)

// ErrNoElement is returned when a target selector matches nothing
var ErrNoElement = errors.New("htmldriver: no element matches selector")

// ErrNoPage is returned when an operation needs a page but none is open
var ErrNoPage = errors.New("htmldriver: no page open")

// Config tunes transport pacing and protection
type Config struct {
	RPS            float64         `yaml:"rps"`             // 0.5
	Burst          int             `yaml:"burst"`           // 1
	WindowRequests int64           `yaml:"window_requests"` // 150
	Window         time.Duration   `yaml:"window"`          // 15m
	RequestTimeout time.Duration   `yaml:"request_timeout"` // 30s
	MoreSelector   string          `yaml:"more_selector"`   // link followed on scroll down
	Breaker        breakers.Config `yaml:"breaker"`
}

// DefaultConfig returns production driver settings
func DefaultConfig() Config {
	return Config{
		RPS:            0.5,
		Burst:          1,
		WindowRequests: 150,
		Window:         15 * time.Minute,
		RequestTimeout: 30 * time.Second,
		MoreSelector:   `a[rel="next"]`,
		Breaker:        breakers.DefaultConfig(),
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if c.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %f", c.RPS)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst must be positive, got %d", c.Burst)
	}
	if c.WindowRequests < 0 {
		return fmt.Errorf("window_requests must be non-negative, got %d", c.WindowRequests)
	}
	if c.WindowRequests > 0 && c.Window <= 0 {
		return fmt.Errorf("window must be positive when window_requests is set")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MoreSelector == "" {
		return fmt.Errorf("more_selector is required")
	}
	return nil
}

// Option customizes a Driver
type Option func(*options)

type options struct {
	clock     clockwork.Clock
	transport http.RoundTripper
}

// WithClock sets the clock used by the request window budget
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithTransport replaces the underlying network transport
func WithTransport(rt http.RoundTripper) Option { return func(o *options) { o.transport = rt } }

// Driver is a single-session browser; not safe for concurrent use
type Driver struct {
	cfg    Config
	client *resty.Client

	doc     *goquery.Document
	pageURL *url.URL
	typed   map[string]string // input name -> typed value
	history []page
}

type page struct {
	doc *goquery.Document
	url *url.URL
}

// New builds a driver with its own limiter, budget and breaker
func New(cfg Config, opts ...Option) *Driver {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	breaker := breakers.New("htmldriver", cfg.Breaker, func(err error) bool {
		return err == nil || faults.IsAntiBot(err)
	})
	transport := client.NewWrapper(client.WrapperConfig{
		RateLimiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		Breaker:     breaker,
		Budget:      budget.NewWindow("htmldriver", cfg.WindowRequests, cfg.Window, o.clock),
		Clock:       o.clock,
	}, o.transport)

	rc := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	return &Driver{cfg: cfg, client: rc, typed: make(map[string]string)}
}

// Factory returns a browser.Factory producing independent drivers
func Factory(cfg Config, opts ...Option) browser.Factory {
	return func(context.Context) (browser.Browser, error) {
		return New(cfg, opts...), nil
	}
}

func (d *Driver) OpenPage(ctx context.Context, rawURL string) error {
	d.history = nil
	return d.fetch(ctx, http.MethodGet, rawURL, nil)
}

func (d *Driver) TypeText(ctx context.Context, target, text string, pacer browser.KeystrokePacer) error {
	if d.doc == nil {
		return ErrNoPage
	}
	el := d.doc.Find(target).First()
	if el.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrNoElement, target)
	}
	name, ok := el.Attr("name")
	if !ok || name == "" {
		return fmt.Errorf("element %s has no name to type into", target)
	}
	if pacer == nil {
		pacer = browser.NoDelay{}
	}
	for i, r := range text {
		if err := pacer.Keystroke(ctx, r, i); err != nil {
			return err
		}
	}
	d.typed[name] = text
	return nil
}

// Click follows a link or submits the form the target belongs to
func (d *Driver) Click(ctx context.Context, target string) error {
	if d.doc == nil {
		return ErrNoPage
	}
	el := d.doc.Find(target).First()
	if el.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrNoElement, target)
	}
	if href, ok := el.Attr("href"); ok && goquery.NodeName(el) == "a" {
		return d.fetch(ctx, http.MethodGet, d.resolve(href), nil)
	}

	form := el.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("element %s is neither a link nor inside a form", target)
	}
	values := formValues(form)
	for name := range values {
		if v, ok := d.typed[name]; ok {
			values.Set(name, v)
		}
	}
	if name, ok := el.Attr("name"); ok && name != "" {
		values.Set(name, el.AttrOr("value", ""))
	}

	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	action := d.resolve(form.AttrOr("action", ""))
	d.typed = make(map[string]string)
	return d.fetch(ctx, method, action, values)
}

// Scroll down follows the load-more link; at the end of the feed it is a no-op
func (d *Driver) Scroll(ctx context.Context, dir browser.Direction, amount int) error {
	if d.doc == nil {
		return ErrNoPage
	}
	if amount < 1 {
		amount = 1
	}
	for i := 0; i < amount; i++ {
		if dir == browser.Up {
			if len(d.history) == 0 {
				return nil
			}
			prev := d.history[len(d.history)-1]
			d.history = d.history[:len(d.history)-1]
			d.doc, d.pageURL = prev.doc, prev.url
			continue
		}
		href, ok := d.doc.Find(d.cfg.MoreSelector).First().Attr("href")
		if !ok || href == "" {
			return nil
		}
		current := page{doc: d.doc, url: d.pageURL}
		if err := d.fetch(ctx, http.MethodGet, d.resolve(href), nil); err != nil {
			return err
		}
		d.history = append(d.history, current)
	}
	return nil
}

func (d *Driver) ReadVisible(ctx context.Context, sel browser.SelectorSet) ([]browser.Record, error) {
	if d.doc == nil {
		return nil, ErrNoPage
	}
	var out []browser.Record
	d.doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		rec := make(browser.Record, len(sel.Fields))
		for field, spec := range sel.Fields {
			if v, ok := extract(item, spec); ok {
				rec[field] = v
			}
		}
		out = append(out, rec)
	})
	return out, nil
}

func (d *Driver) Present(ctx context.Context, selector string) (bool, error) {
	if d.doc == nil {
		return false, nil
	}
	return d.doc.Find(selector).Length() > 0, nil
}

func (d *Driver) PageText(ctx context.Context) (string, error) {
	if d.doc == nil {
		return "", nil
	}
	return strings.Join(strings.Fields(d.doc.Find("body").Text()), " "), nil
}

func (d *Driver) Close() error {
	d.client.GetClient().CloseIdleConnections()
	d.doc, d.history = nil, nil
	return nil
}

func (d *Driver) fetch(ctx context.Context, method, target string, form url.Values) error {
	req := d.client.R().SetContext(ctx)
	switch {
	case method == http.MethodGet && len(form) > 0:
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", target, err)
		}
		q := u.Query()
		for k, vs := range form {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	case method != http.MethodGet:
		req.SetFormDataFromValues(form)
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("%s %s: HTTP %d", method, target, resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return faults.Invalid("page", target, err.Error())
	}
	d.doc = doc
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		d.pageURL = resp.RawResponse.Request.URL
	} else if u, perr := url.Parse(target); perr == nil {
		d.pageURL = u
	}
	log.Debug().Str("method", method).Str("url", target).Int("status", resp.StatusCode()).Msg("page loaded")
	return nil
}

func (d *Driver) resolve(href string) string {
	if d.pageURL == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return d.pageURL.ResolveReference(ref).String()
}

// formValues collects the defaults a browser would submit, excluding buttons
func formValues(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input, textarea, select").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
		}
		if goquery.NodeName(in) == "textarea" {
			values.Set(name, in.Text())
			return
		}
		values.Set(name, in.AttrOr("value", ""))
	})
	return values
}

// extract reads "sel", "sel@attr" or "@attr" relative to item
func extract(item *goquery.Selection, spec string) (string, bool) {
	sel, attr := spec, ""
	if i := strings.LastIndex(spec, "@"); i >= 0 {
		sel, attr = spec[:i], spec[i+1:]
	}
	target := item
	if sel = strings.TrimSpace(sel); sel != "" {
		target = item.Find(sel).First()
	}
	if target.Length() == 0 {
		return "", false
	}
	if attr != "" {
		return target.Attr(attr)
	}
	return strings.Join(strings.Fields(target.Text()), " "), true
}

var _ browser.Browser = (*Driver)(nil)
