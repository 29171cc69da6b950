// File: cmd/mockroute/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/mockroute/cmd"
	"github.com/xkilldash9x/mockroute/internal/scenario"
)

func TestExitCode(t *testing.T) {
	live := context.Background()
	interrupted, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, exitCode(live, nil))
	assert.Equal(t, 0, exitCode(interrupted, fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(live, errors.New("boom")))
	assert.Equal(t, 1, exitCode(live, &scenario.StepError{Scenario: "explore", Err: context.DeadlineExceeded}))
	// A step that reports Canceled while nobody interrupted the run failed.
	assert.Equal(t, 1, exitCode(live, &scenario.StepError{Scenario: "explore", Err: context.Canceled}))
}

func TestMainExitsWithCommandStatus(t *testing.T) {
	defer func() {
		osExit = os.Exit
		execute = cmd.Execute
	}()

	var code int
	osExit = func(c int) { code = c }

	execute = func(context.Context) error { return errors.New("step failed") }
	main()
	assert.Equal(t, 1, code)

	code = -1
	execute = func(context.Context) error { return fmt.Errorf("waiting for text: %w", context.Canceled) }
	main()
	assert.Equal(t, 1, code, "cancellation without a signal is a failure")

	code = -1
	execute = func(context.Context) error { return nil }
	main()
	assert.Equal(t, -1, code, "a passing run does not call exit")
}
