// internal/browser/context.go
package browser

import (
	"context"
	"errors"
)

// CombineContext derives from valueCtx, which carries the chromedp target, and
// is done as soon as either context is done. The caller's deadline is copied
// onto the result, so a step that runs out of time reports
// context.DeadlineExceeded rather than context.Canceled.
func CombineContext(valueCtx, boundCtx context.Context) (context.Context, context.CancelFunc) {
	var (
		combined context.Context
		cancel   context.CancelFunc
	)
	deadline, hasDeadline := boundCtx.Deadline()
	if hasDeadline {
		combined, cancel = context.WithDeadline(valueCtx, deadline)
	} else {
		combined, cancel = context.WithCancel(valueCtx)
	}

	stop := context.AfterFunc(boundCtx, func() {
		// The copied deadline expires on its own and keeps its error.
		if hasDeadline && errors.Is(boundCtx.Err(), context.DeadlineExceeded) {
			return
		}
		cancel()
	})

	return combined, func() {
		stop()
		cancel()
	}
}
