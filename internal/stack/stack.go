// Package stack defines the capability boundary to the underlying
// protocol endpoints. The core pipeline only ever sees this interface;
// the frame-level engine behind it is replaceable.
package stack

import (
	"context"
	"errors"

	"github.com/gridprobe/gridprobe/internal/model"
)

var (
	// ErrNotRunning is returned by operations that require a started stack.
	ErrNotRunning = errors.New("stack: not running")
	// ErrAlreadyRunning is returned by Start on a running stack.
	ErrAlreadyRunning = errors.New("stack: already running")
)

// Status is the stack's own view of its lifecycle, distinct from the
// tracker's externally visible connection state.
type Status struct {
	Running        bool   `json:"running"`
	Connected      bool   `json:"connected"`
	LocalEndpoint  string `json:"local_endpoint"`
	RemoteEndpoint string `json:"remote_endpoint"`
	Attempts       int    `json:"attempts"`
	FramesObserved int    `json:"frames_observed"`
}

// StatusFunc receives connection transitions reported by the stack.
type StatusFunc func(connected bool, local, remote string)

// FrameFunc receives each frame the stack observes, before sequence
// assignment. The callback must not block; downstream buffering is the
// pipeline's job.
type FrameFunc func(ev model.TelegramEvent)

// Stack is the abstract protocol endpoint capability consumed by the
// orchestrator and the status tracker.
type Stack interface {
	Start(ctx context.Context) error
	Stop() error
	Status() Status
	OnStatusChange(fn StatusFunc)
	OnFrameObserved(fn FrameFunc)
}
