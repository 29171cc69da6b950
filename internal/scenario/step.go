// internal/scenario/step.go
package scenario

import (
	"errors"
	"fmt"
	"time"
)

// Action identifies what a step does.
type Action string

const (
	ActionNavigate    Action = "navigate"
	ActionFill        Action = "fill"
	ActionClick       Action = "click"
	ActionWaitForURL  Action = "waitForURL"
	ActionWaitForText Action = "waitForText"
	ActionScreenshot  Action = "screenshot"
)

// Step is one scripted browser action. Which fields are meaningful depends on
// Action: URL for navigate and waitForURL, Selector (and Value) for fill and
// click, Text for waitForText, Path for screenshot.
type Step struct {
	Action   Action
	URL      string
	Selector string
	Value    string
	Text     string
	Path     string

	// Message is logged before the step runs, Done after it succeeds.
	Message string
	Done    string
	// Timeout overrides the default bound for this step.
	Timeout time.Duration
	// Secret keeps Value out of logs and reports.
	Secret bool
}

func Navigate(url string) Step { return Step{Action: ActionNavigate, URL: url} }
func Click(selector string) Step { return Step{Action: ActionClick, Selector: selector} }
func WaitForURL(pattern string) Step { return Step{Action: ActionWaitForURL, URL: pattern} }
func WaitForText(text string) Step { return Step{Action: ActionWaitForText, Text: text} }
func Screenshot(path string) Step { return Step{Action: ActionScreenshot, Path: path} }
func Fill(selector, value string) Step {
	return Step{Action: ActionFill, Selector: selector, Value: value}
}

// FillSecret is Fill for values that must not be logged.
func FillSecret(selector, value string) Step {
	s := Fill(selector, value)
	s.Secret = true
	return s
}

// WithMessage sets the progress message logged before the step.
func (s Step) WithMessage(msg string) Step {
	s.Message = msg
	return s
}

// WithDone sets the message logged once the step succeeds.
func (s Step) WithDone(msg string) Step {
	s.Done = msg
	return s
}

// WithTimeout bounds the step by d instead of the runner default.
func (s Step) WithTimeout(d time.Duration) Step {
	s.Timeout = d
	return s
}

// Validate checks that the fields required by the action are present.
func (s Step) Validate() error {
	if s.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	switch s.Action {
	case ActionNavigate, ActionWaitForURL:
		if s.URL == "" {
			return fmt.Errorf("%s step requires a url", s.Action)
		}
	case ActionFill, ActionClick:
		if s.Selector == "" {
			return fmt.Errorf("%s step requires a selector", s.Action)
		}
	case ActionWaitForText:
		if s.Text == "" {
			return errors.New("waitForText step requires text")
		}
	case ActionScreenshot:
		if s.Path == "" {
			return errors.New("screenshot step requires a path")
		}
	case "":
		return errors.New("step has no action")
	default:
		return fmt.Errorf("unknown step action %q", s.Action)
	}
	return nil
}

// Target is the human readable subject of the step.
func (s Step) Target() string {
	switch s.Action {
	case ActionNavigate, ActionWaitForURL:
		return s.URL
	case ActionFill:
		if s.Secret {
			return s.Selector + " = ******"
		}
		return fmt.Sprintf("%s = %q", s.Selector, s.Value)
	case ActionClick:
		return s.Selector
	case ActionWaitForText:
		return s.Text
	case ActionScreenshot:
		return s.Path
	}
	return ""
}

// Scenario is a named, strictly linear list of steps.
type Scenario struct {
	Name  string
	Steps []Step
}

// Validate checks the scenario and each of its steps.
func (sc Scenario) Validate() error {
	if sc.Name == "" {
		return errors.New("scenario has no name")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	for i, s := range sc.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", sc.Name, i+1, err)
		}
	}
	return nil
}
