package xembed

import (
	"errors"
	"fmt"
)

var (
	ErrNoContainer            = errors.New("Container is required")
	ErrInvalidContainer       = errors.New("Invalid container")
	ErrNoURL                  = errors.New("Url is required")
	ErrNoBody                 = errors.New("xembed: document body is not available")
	ErrNoExperienceFrame      = errors.New("No experience frame found")
	ErrUnrecognizedExperience = errors.New("xembed: unrecognized experience")
	ErrInvalidIdentity        = errors.New("xembed: experience identity is required")
	ErrInvalidListener        = errors.New("xembed: listener must be a function")
	ErrNoListeners            = errors.New("xembed: unable to find listeners for experience")
	ErrInvalidFrameOptions    = errors.New("xembed: frame options must be a non-empty object")
	ErrInvalidExperienceURL   = errors.New("xembed: experience url does not match the embedding url pattern")
	ErrMissingEventTarget     = errors.New("xembed: message event target is required")
	ErrTimeout                = errors.New("timed out")
	ErrNoHostConfigured       = errors.New("xembed: no host configured")
	ErrContextClosed          = errors.New("xembed: embedding context is closed")
	ErrUnsupportedOperation   = errors.New("xembed: operation not supported by this experience")
)

var ErrObserverPoolShutdownTimeout = errors.New("xembed: observer pool shutdown timeout")

type ErrUnknownHost struct{ name string }

func (e ErrUnknownHost) Error() string { return fmt.Sprintf("unknown host: %s", e.name) }

// TimeoutError is returned by Send when no correlated reply arrives in time.
type TimeoutError struct {
	EventName MessageEventName
	EventID   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.EventName)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
