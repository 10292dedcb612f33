// Package capture is the screen-snapshot collaborator boundary. Failure
// is always acceptable: callers proceed without an image.
package capture

import (
	"context"
	"errors"
)

type Snapshot struct {
	B64    string
	Width  int
	Height int
}

type Capturer interface {
	Capture(ctx context.Context) (*Snapshot, error)
}

// Func adapts a plain function to the Capturer interface.
type Func func(ctx context.Context) (*Snapshot, error)

func (f Func) Capture(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

var ErrUnavailable = errors.New("capture: not available")

// Disabled always fails; the platform glue supplies a real capturer.
type Disabled struct{}

func (Disabled) Capture(context.Context) (*Snapshot, error) {
	return nil, ErrUnavailable
}
