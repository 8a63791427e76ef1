package htmldriver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hashsignal/internal/browser"
	"github.com/sawpanic/hashsignal/internal/faults"
)

const loginPage = `<html><body>
<form method="post" action="/login/next">
  <input type="hidden" name="flow" value="f1">
  <input id="email" name="email" type="text">
  <button id="next" type="submit" name="step" value="email">Next</button>
</form></body></html>`

const passwordPage = `<html><body>
<form method="post" action="/session">
  <input type="hidden" name="flow" value="f2">
  <input id="password" name="password" type="password">
  <button id="login" type="submit">Log in</button>
</form></body></html>`

func feedPage(page int, next bool) string {
	more := ""
	if next {
		more = fmt.Sprintf(`<a rel="next" href="/search?q=nifty&page=%d">more</a>`, page+1)
	}
	return fmt.Sprintf(`<html><body><nav id="home"></nav>
<article class="post" data-id="%d01"><span class="author">alice</span><time datetime="2025-06-02T09:00:00Z"></time><p class="text">Nifty   breakout %d</p><span class="likes">1.2K</span></article>
<article class="post" data-id="%d02"><span class="author">bob</span><time datetime="2025-06-02T09:05:00Z"></time><p class="text">Bears again %d</p><span class="likes">7</span></article>
%s</body></html>`, page, page, page, page, more)
}

func site(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("/login/next", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("email") != "me@example.com" || r.PostForm.Get("flow") != "f1" || r.PostForm.Get("step") != "email" {
			fmt.Fprint(w, loginPage)
			return
		}
		fmt.Fprint(w, passwordPage)
	})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("password") != "hunter2" {
			fmt.Fprint(w, passwordPage)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "auth", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/home", http.StatusSeeOther)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("auth"); err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		fmt.Fprint(w, `<html><body><nav id="home">home</nav></body></html>`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		fmt.Fprint(w, feedPage(page, page < 2))
	})
	mux.HandleFunc("/limited", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RPS = 1000
	cfg.Burst = 100
	return cfg
}

var postSelectors = browser.SelectorSet{
	Item: "article.post",
	Fields: map[string]string{
		"id":        "@data-id",
		"author":    ".author",
		"timestamp": "time@datetime",
		"text":      ".text",
		"likes":     ".likes",
		"replies":   ".replies",
	},
}

func TestDriver_LoginFlowAndFeed(t *testing.T) {
	srv := site(t)
	ctx := context.Background()
	d := New(testConfig())
	defer d.Close()

	require.NoError(t, d.OpenPage(ctx, srv.URL+"/login"))
	ok, err := d.Present(ctx, "#email")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.TypeText(ctx, "#email", "me@example.com", browser.NoDelay{}))
	require.NoError(t, d.Click(ctx, "#next"))
	ok, _ = d.Present(ctx, "#password")
	require.True(t, ok, "email step accepted")

	require.NoError(t, d.TypeText(ctx, "#password", "hunter2", nil))
	require.NoError(t, d.Click(ctx, "#login"))
	ok, _ = d.Present(ctx, "nav#home")
	require.True(t, ok, "redirected home with session cookie")

	require.NoError(t, d.OpenPage(ctx, srv.URL+"/search?q=nifty"))
	recs, err := d.ReadVisible(ctx, postSelectors)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "101", recs[0]["id"])
	assert.Equal(t, "alice", recs[0]["author"])
	assert.Equal(t, "2025-06-02T09:00:00Z", recs[0]["timestamp"])
	assert.Equal(t, "Nifty breakout 1", recs[0]["text"])
	assert.Equal(t, "1.2K", recs[0]["likes"])
	_, hasReplies := recs[0]["replies"]
	assert.False(t, hasReplies)

	require.NoError(t, d.Scroll(ctx, browser.Down, 1))
	recs, err = d.ReadVisible(ctx, postSelectors)
	require.NoError(t, err)
	assert.Equal(t, "201", recs[0]["id"])

	// end of feed: scrolling again keeps the same page
	require.NoError(t, d.Scroll(ctx, browser.Down, 1))
	recs, _ = d.ReadVisible(ctx, postSelectors)
	assert.Equal(t, "201", recs[0]["id"])

	require.NoError(t, d.Scroll(ctx, browser.Up, 1))
	recs, _ = d.ReadVisible(ctx, postSelectors)
	assert.Equal(t, "101", recs[0]["id"])

	text, err := d.PageText(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "Nifty breakout 1")
}

func TestDriver_MissingTarget(t *testing.T) {
	srv := site(t)
	d := New(testConfig())
	ctx := context.Background()

	assert.ErrorIs(t, d.Click(ctx, "#next"), ErrNoPage)
	require.NoError(t, d.OpenPage(ctx, srv.URL+"/login"))
	assert.ErrorIs(t, d.TypeText(ctx, "#username", "x", nil), ErrNoElement)
	assert.ErrorIs(t, d.Click(ctx, "#nope"), ErrNoElement)
}

func TestDriver_RateLimitIsChallenge(t *testing.T) {
	srv := site(t)
	d := New(testConfig())
	err := d.OpenPage(context.Background(), srv.URL+"/limited")
	require.Error(t, err)
	assert.True(t, faults.IsAntiBot(err))
	assert.Equal(t, 30*time.Second, faults.RetryAfter(err))
}

func TestDriver_WindowBudget(t *testing.T) {
	srv := site(t)
	cfg := testConfig()
	cfg.WindowRequests = 2
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	d := New(cfg, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, d.OpenPage(ctx, srv.URL+"/login"))
	require.NoError(t, d.OpenPage(ctx, srv.URL+"/login"))
	err := d.OpenPage(ctx, srv.URL+"/login")
	require.Error(t, err)
	assert.True(t, faults.IsAntiBot(err))
	assert.Equal(t, 15*time.Minute, faults.RetryAfter(err))

	clock.Advance(15 * time.Minute)
	assert.NoError(t, d.OpenPage(ctx, srv.URL+"/login"))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.RPS = 0
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.MoreSelector = ""
	assert.Error(t, bad.Validate())
}
