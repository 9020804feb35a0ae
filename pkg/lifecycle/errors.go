package lifecycle

import "errors"

// ErrModelNotFound is returned when a request or admin verb names a model
// absent from the registry.
var ErrModelNotFound = errors.New("model not found")

// ErrAdmissionDenied is returned when the global concurrent-model cap is
// reached and no evictable candidate exists.
var ErrAdmissionDenied = errors.New("no capacity: all model slots in use")

// ErrAlreadyStopped is the no-op signal for a stop-request against a
// STOPPED model.
var ErrAlreadyStopped = errors.New("model already stopped")

// ErrAlreadyReady is the no-op signal for a start-request against a
// READY model.
var ErrAlreadyReady = errors.New("model already running")

// ErrReloadNotReady is returned when a reload is requested against a
// model that is not currently READY or STARTING.
var ErrReloadNotReady = errors.New("model is not running")
