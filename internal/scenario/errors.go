// internal/scenario/errors.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Failure classifies why a step failed.
type Failure string

const (
	// FailureNavigation means the page could not be loaded.
	FailureNavigation Failure = "navigation"
	// FailureMatch means a wait ran out before the expected URL or text appeared.
	FailureMatch Failure = "match"
	// FailureInteraction means a fill or click could not reach its element.
	FailureInteraction Failure = "interaction"
	// FailureUnmatchedRequest means the page issued requests no fixture answers.
	FailureUnmatchedRequest Failure = "unmatched_request"
	// FailureArtifact means a screenshot could not be captured or written.
	FailureArtifact Failure = "artifact"
)

func failureFor(a Action) Failure {
	switch a {
	case ActionNavigate:
		return FailureNavigation
	case ActionFill, ActionClick:
		return FailureInteraction
	case ActionWaitForURL, ActionWaitForText:
		return FailureMatch
	case ActionScreenshot:
		return FailureArtifact
	}
	return FailureInteraction
}

// StepError reports the step that aborted a run.
type StepError struct {
	Scenario string
	// Index is the zero based position of the step in its scenario.
	Index int
	Step  Step
	Kind  Failure
	// Expected is the URL or text a failed wait was looking for.
	Expected string
	// Unmatched lists the offending URLs for FailureUnmatchedRequest.
	Unmatched []string
	Err       error
}

func (e *StepError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %q step %d (%s", e.Scenario, e.Index+1, e.Step.Action)
	if t := e.Step.Target(); t != "" {
		fmt.Fprintf(&b, " %s", t)
	}
	fmt.Fprintf(&b, ") failed [%s]", e.Kind)
	switch {
	case e.Kind == FailureMatch && e.Expected != "":
		fmt.Fprintf(&b, ": expected %q", e.Expected)
	case len(e.Unmatched) > 0:
		fmt.Fprintf(&b, ": %d unmatched request(s): %s", len(e.Unmatched), strings.Join(e.Unmatched, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StepError) Unwrap() error { return e.Err }

// TimedOut reports whether the step ran out of time.
func (e *StepError) TimedOut() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// ErrUnmatchedRequests is wrapped by strict mode failures.
var ErrUnmatchedRequests = errors.New("requests reached the router without a matching fixture")
