// internal/scenario/runner.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/config"
	"github.com/xkilldash9x/mockroute/internal/router"
)

// defaultTimeout bounds steps whose configured timeout is zero.
const defaultTimeout = 30 * time.Second

// Driver is the slice of a browser driver the runner needs.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitForURL(ctx context.Context, pattern string) error
	WaitForText(ctx context.Context, text string) error
	Screenshot(ctx context.Context, path string, fullPage bool) error
}

// Monitor exposes the router's view of the traffic to the runner.
type Monitor interface {
	UnmatchedCount() int
	Stats() router.Stats
}

// Options configures a Runner.
type Options struct {
	// BaseURL resolves relative step URLs. It must be absolute.
	BaseURL  string
	Timeouts config.TimeoutConfig
	// ArtifactsDir resolves relative screenshot paths.
	ArtifactsDir string
	FullPage     bool
	// Strict fails the step during which an unmatched request was seen.
	Strict  bool
	Monitor Monitor
	Logger  *zap.Logger
}

// Runner executes scenarios one step at a time against a single page.
type Runner struct {
	driver Driver
	opts   Options
	base   *url.URL
	logger *zap.Logger
	now    func() time.Time
}

// NewRunner validates opts and builds a runner around d.
func NewRunner(d Driver, opts Options) (*Runner, error) {
	if d == nil {
		return nil, errors.New("runner requires a driver")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		driver: d,
		opts:   opts,
		base:   base,
		logger: logger.Named("scenario"),
		now:    time.Now,
	}, nil
}

// Run executes the scenarios in order and stops at the first failing step.
// The report is returned in both cases. Screenshots taken before the failure
// stay on disk.
func (r *Runner) Run(ctx context.Context, scenarios ...Scenario) (*Report, error) {
	report := newReport(r.now())
	defer func() {
		report.FinishedAt = r.now()
		if r.opts.Monitor != nil {
			stats := r.opts.Monitor.Stats()
			report.Routes = &stats
		}
	}()

	for _, sc := range scenarios {
		if err := sc.Validate(); err != nil {
			return report, err
		}
	}

	for _, sc := range scenarios {
		r.logger.Info("Starting scenario", zap.String("scenario", sc.Name), zap.Int("steps", len(sc.Steps)))
		result := ScenarioResult{Name: sc.Name, Steps: make([]StepResult, 0, len(sc.Steps))}

		for i, step := range sc.Steps {
			res, shot, err := r.runStep(ctx, sc.Name, i, step)
			result.Steps = append(result.Steps, res)
			if err != nil {
				report.Scenarios = append(report.Scenarios, result)
				r.logger.Error("Scenario failed", zap.String("scenario", sc.Name), zap.Error(err))
				return report, err
			}
			if shot != "" {
				result.Screenshots = append(result.Screenshots, shot)
			}
		}

		result.Passed = true
		report.Scenarios = append(report.Scenarios, result)
		r.logger.Info("Scenario passed", zap.String("scenario", sc.Name))
	}

	report.Passed = true
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, scenario string, index int, step Step) (StepResult, string, error) {
	res := StepResult{Index: index, Action: step.Action, Target: step.Target(), Message: step.Message}
	fail := func(stepErr *StepError, start time.Time) (StepResult, string, error) {
		res.DurationMS = r.now().Sub(start).Milliseconds()
		res.Failure = stepErr.Kind
		res.Error = stepErr.Error()
		return res, "", stepErr
	}

	if step.Message != "" {
		r.logger.Info(step.Message, zap.String("scenario", scenario))
	}
	log := r.logger.With(zap.String("scenario", scenario), zap.Int("step", index+1), zap.String("action", string(step.Action)))
	log.Debug("Executing step", zap.String("target", step.Target()))

	before := 0
	if r.opts.Monitor != nil {
		before = r.opts.Monitor.UnmatchedCount()
	}

	start := r.now()
	stepCtx, cancel := context.WithTimeout(ctx, r.timeoutFor(step))
	shot, expected, err := r.execute(stepCtx, step)
	cancel()

	if err != nil {
		return fail(&StepError{
			Scenario: scenario,
			Index:    index,
			Step:     step,
			Kind:     failureFor(step.Action),
			Expected: expected,
			Err:      err,
		}, start)
	}

	if r.opts.Monitor != nil {
		if after := r.opts.Monitor.UnmatchedCount(); after > before {
			urls := unmatchedSince(r.opts.Monitor.Stats(), before)
			log.Warn("Step triggered unmatched requests", zap.Strings("urls", urls))
			if r.opts.Strict {
				return fail(&StepError{
					Scenario:  scenario,
					Index:     index,
					Step:      step,
					Kind:      FailureUnmatchedRequest,
					Unmatched: urls,
					Err:       ErrUnmatchedRequests,
				}, start)
			}
		}
	}

	res.Passed = true
	res.DurationMS = r.now().Sub(start).Milliseconds()
	if step.Done != "" {
		r.logger.Info(step.Done, zap.String("scenario", scenario))
	}
	return res, shot, nil
}

// execute performs the driver call for step. It returns the screenshot path
// for screenshot steps and the expected value for waits.
func (r *Runner) execute(ctx context.Context, step Step) (shot, expected string, err error) {
	switch step.Action {
	case ActionNavigate:
		return "", "", r.driver.Navigate(ctx, r.resolveURL(step.URL))
	case ActionFill:
		return "", "", r.driver.Fill(ctx, step.Selector, step.Value)
	case ActionClick:
		return "", "", r.driver.Click(ctx, step.Selector)
	case ActionWaitForURL:
		pattern := r.resolveURL(step.URL)
		return "", pattern, r.driver.WaitForURL(ctx, pattern)
	case ActionWaitForText:
		return "", step.Text, r.driver.WaitForText(ctx, step.Text)
	case ActionScreenshot:
		path := r.resolvePath(step.Path)
		if err := r.driver.Screenshot(ctx, path, r.opts.FullPage); err != nil {
			return "", "", err
		}
		return path, "", nil
	}
	return "", "", fmt.Errorf("unknown step action %q", step.Action)
}

func (r *Runner) timeoutFor(step Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	var d time.Duration
	switch step.Action {
	case ActionNavigate:
		d = r.opts.Timeouts.Navigation
	case ActionWaitForURL, ActionWaitForText:
		d = r.opts.Timeouts.Wait
	default:
		d = r.opts.Timeouts.Action
	}
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

// resolveURL joins ref onto the base URL. String joining instead of
// url.ResolveReference keeps glob syntax such as braces unescaped.
func (r *Runner) resolveURL(ref string) string {
	if strings.Contains(ref, "://") || strings.HasPrefix(ref, "*") {
		return ref
	}
	origin := r.base.Scheme + "://" + r.base.Host
	if strings.HasPrefix(ref, "/") {
		return origin + ref
	}
	dir := r.base.Path
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i+1]
	} else {
		dir = "/"
	}
	return origin + dir + ref
}

func (r *Runner) resolvePath(p string) string {
	if filepath.IsAbs(p) || r.opts.ArtifactsDir == "" {
		return p
	}
	return filepath.Join(r.opts.ArtifactsDir, p)
}

func unmatchedSince(stats router.Stats, before int) []string {
	if before > len(stats.Unmatched) {
		before = len(stats.Unmatched)
	}
	out := make([]string, 0, len(stats.Unmatched)-before)
	for _, u := range stats.Unmatched[before:] {
		out = append(out, u.Method+" "+u.URL)
	}
	return out
}
