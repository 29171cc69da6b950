// internal/browser/chromedp_test.go
package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mockroute/internal/config"
	"github.com/xkilldash9x/mockroute/internal/fixture"
	"github.com/xkilldash9x/mockroute/internal/router"
	"github.com/xkilldash9x/mockroute/internal/scenario"
)

const testPage = `<!doctype html>
<html><body>
<form id="login"><input name="email"><button type="submit">Go</button></form>
<div id="out">loading</div>
<script>
fetch('/api/feed').then(r => r.json()).then(d => {
  document.getElementById('out').innerText = d.title;
}).catch(() => {
  document.getElementById('out').innerText = 'fetch failed';
});
document.getElementById('login').addEventListener('submit', e => {
  e.preventDefault();
  history.pushState({}, '', '/');
});
</script>
</body></html>`

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chromium binary found on PATH")
}

func TestChromeDriverRoutesThroughRouter(t *testing.T) {
	requireChrome(t)

	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/feed" {
			// The router must answer this before it reaches the server.
			http.Error(w, "reached the real backend", http.StatusTeapot)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
	defer app.Close()

	rt, err := router.New(router.WithLogger(zaptest.NewLogger(t)), router.WithScope("**/api/**"))
	require.NoError(t, err)
	require.NoError(t, rt.Register("**/api/feed", router.MustJSON(http.StatusOK, map[string]string{"title": "Delicious Pasta"})))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := config.BrowserConfig{Headless: true, DisableCache: true, Viewport: map[string]int{"width": 800, "height": 600}}
	d, err := NewChromeDriver(ctx, cfg, Options{Router: rt}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	step := func() (context.Context, context.CancelFunc) { return context.WithTimeout(ctx, 15*time.Second) }

	sctx, scancel := step()
	require.NoError(t, d.Navigate(sctx, app.URL+"/login"))
	scancel()

	sctx, scancel = step()
	require.NoError(t, d.WaitForText(sctx, "Delicious Pasta"))
	scancel()

	sctx, scancel = step()
	require.NoError(t, d.Fill(sctx, `input[name="email"]`, "test@test.com"))
	require.NoError(t, d.Click(sctx, `button[type="submit"]`))
	scancel()

	sctx, scancel = step()
	require.NoError(t, d.WaitForURL(sctx, app.URL+"/"))
	scancel()

	path := filepath.Join(t.TempDir(), "shots", "feed.png")
	sctx, scancel = step()
	require.NoError(t, d.Screenshot(sctx, path, true))
	scancel()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Equal(t, 1, rt.Stats().Hits("**/api/feed"))
	assert.Zero(t, rt.UnmatchedCount())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}

func TestChromeDriverWaitForTextTimesOut(t *testing.T) {
	requireChrome(t)

	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>Browse by Category</body></html>`))
	}))
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d, err := NewChromeDriver(ctx, config.BrowserConfig{Headless: true}, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Navigate(ctx, app.URL))

	wctx, wcancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer wcancel()
	err = d.WaitForText(wctx, "Delicious Pasta")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChromeDriverInteractionTimesOut(t *testing.T) {
	requireChrome(t)

	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>no form here</p></body></html>`))
	}))
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d, err := NewChromeDriver(ctx, config.BrowserConfig{Headless: true}, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Navigate(ctx, app.URL))

	fctx, fcancel := context.WithTimeout(ctx, 300*time.Millisecond)
	err = d.Fill(fctx, "input[type='email']", "test@test.com")
	fcancel()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")

	cctx, ccancel := context.WithTimeout(ctx, 300*time.Millisecond)
	err = d.Click(cctx, "button[type='submit']")
	ccancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// smokeApp serves a single page app with the login, feed and explore views
// the built-in scenarios expect. API requests that reach it fail with 418.
const smokeApp = `<!doctype html>
<html><body>
<div id="app"></div>
<script>
const app = document.getElementById('app');
function render() {
  const path = location.pathname;
  if (path === '/login') {
    app.innerHTML = '<form id="login"><input type="email"><input type="password"><button type="submit">Sign in</button></form>';
    document.getElementById('login').addEventListener('submit', e => {
      e.preventDefault();
      fetch('/api/auth/login', {method: 'POST'}).then(() => {
        history.pushState({}, '', '/');
        render();
      });
    });
  } else if (path === '/explore') {
    app.innerHTML = '<p>loading categories</p>';
    fetch('/api/search/categories').then(r => r.json()).then(d => {
      app.innerHTML = '<h1>Browse by Category</h1>' + d.data.map(c => '<p>' + c.name + '</p>').join('');
    });
  } else {
    app.innerHTML = '<p>loading feed</p>';
    fetch('/api/posts/feed?page=1').then(r => {
      const type = r.headers.get('content-type');
      return r.json().then(d => {
        app.innerHTML = '<p>content-type: ' + type + '</p>' + d.data.map(p => '<h2>' + p.title + '</h2>').join('');
      });
    }).catch(() => { app.innerHTML = '<p>feed unavailable</p>'; });
  }
}
render();
</script>
</body></html>`

func newSmokeServer(t *testing.T) *httptest.Server {
	t.Helper()
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.Error(w, "reached the real backend", http.StatusTeapot)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(smokeApp))
	}))
	t.Cleanup(app.Close)
	return app
}

func runSmokeScenarios(t *testing.T, set *fixture.Set, baseURL, dir string) (*router.Router, error) {
	t.Helper()
	rt, err := router.New(router.WithLogger(zaptest.NewLogger(t)), router.WithScope("**/api/**"))
	require.NoError(t, err)
	require.NoError(t, set.Install(rt))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	d, err := NewChromeDriver(ctx, config.BrowserConfig{Headless: true, DisableCache: true}, Options{Router: rt}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	runner, err := scenario.NewRunner(d, scenario.Options{
		BaseURL:      baseURL,
		Timeouts:     config.TimeoutConfig{Navigation: 15 * time.Second, Wait: 3 * time.Second, Action: 5 * time.Second},
		ArtifactsDir: dir,
		FullPage:     true,
		Monitor:      rt,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	target := config.TargetConfig{Email: "test@test.com", Password: "password123"}
	_, err = runner.Run(ctx, scenario.Smoke(target)...)
	return rt, err
}

func TestChromeDriverRunsSmokeScenarios(t *testing.T) {
	requireChrome(t)
	app := newSmokeServer(t)
	set, err := fixture.Default()
	require.NoError(t, err)

	dir := t.TempDir()
	rt, err := runSmokeScenarios(t, set, app.URL, dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, scenario.FeedScreenshot))
	assert.FileExists(t, filepath.Join(dir, scenario.ExploreScreenshot))
	stats := rt.Stats()
	assert.Equal(t, 1, stats.Hits("login"))
	assert.Equal(t, 1, stats.Hits("feed"))
	assert.Equal(t, 1, stats.Hits("categories"))
	assert.Zero(t, rt.UnmatchedCount())
}

func TestChromeDriverSmokeFixtureContentType(t *testing.T) {
	requireChrome(t)
	app := newSmokeServer(t)
	set, err := fixture.Default()
	require.NoError(t, err)

	rt, err := router.New(router.WithLogger(zaptest.NewLogger(t)), router.WithScope("**/api/**"))
	require.NoError(t, err)
	require.NoError(t, set.Install(rt))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	d, err := NewChromeDriver(ctx, config.BrowserConfig{Headless: true}, Options{Router: rt}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Navigate(ctx, app.URL+"/"))
	wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
	defer wcancel()
	require.NoError(t, d.WaitForText(wctx, "content-type: application/json"))
}

func TestChromeDriverSmokeStopsWithoutFeed(t *testing.T) {
	requireChrome(t)
	app := newSmokeServer(t)
	set, err := fixture.Default()
	require.NoError(t, err)
	set, err = set.Without("feed")
	require.NoError(t, err)

	dir := t.TempDir()
	rt, err := runSmokeScenarios(t, set, app.URL, dir)
	require.Error(t, err)

	var stepErr *scenario.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "login-and-feed", stepErr.Scenario)
	assert.Equal(t, scenario.FailureMatch, stepErr.Kind)
	assert.Equal(t, "Delicious Pasta", stepErr.Expected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NoFileExists(t, filepath.Join(dir, scenario.FeedScreenshot))
	assert.NoFileExists(t, filepath.Join(dir, scenario.ExploreScreenshot))
	assert.Positive(t, rt.UnmatchedCount(), "the feed request was aborted as unmatched")
}
