package supervisor

import (
	"errors"
	"fmt"
)

// ErrStartFailed is the sentinel behind StartFailureError, matchable with
// errors.Is.
var ErrStartFailed = errors.New("backend start failed")

// ErrPortInUse is returned at spawn time when the configured port is
// already accepting connections from a process this Supervisor does not
// own: inherited-listener detection on boot.
var ErrPortInUse = errors.New("port already in use")

// StartFailureError is returned when a spawn fails, the readiness probe
// times out, or the child exits before becoming ready.
// It carries the captured stderr/stdout tail for operator diagnostics.
type StartFailureError struct {
	Model  string
	Reason string
	Tail   []string
}

func (e *StartFailureError) Error() string {
	return fmt.Sprintf("model %q failed to start: %s", e.Model, e.Reason)
}

// Is implements error matching for errors.Is().
func (e *StartFailureError) Is(target error) bool {
	return target == ErrStartFailed
}

// TailExcerpt returns the last n lines of the captured tail buffer, joined
// by newlines, for inclusion in an error message.
func (e *StartFailureError) TailExcerpt(n int) string {
	lines := e.Tail
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
