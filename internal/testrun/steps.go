package testrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/signals"
	"github.com/gridprobe/gridprobe/internal/stack"
)

// ClientEndpoint is the slice of the client stack the steps drive.
type ClientEndpoint interface {
	Status() stack.Status
	SendInterrogation() error
}

// ServerEndpoint is the slice of the server stack the steps drive.
type ServerEndpoint interface {
	Status() stack.Status
	RespondInterrogation(dict *signals.Dictionary) error
}

// Environment holds the collaborators a step may use. Steps run strictly
// one at a time because they share the client/server connection.
type Environment struct {
	Client  ClientEndpoint
	Server  ServerEndpoint
	Signals *signals.Manager
}

// connectionCheckStep verifies both endpoints report an established
// connection and records their endpoints.
func connectionCheckStep(_ context.Context, env Environment, _ model.TestStep) (string, error) {
	var b strings.Builder
	cs := env.Client.Status()
	ss := env.Server.Status()
	fmt.Fprintf(&b, "client connected=%t local=%s remote=%s\n", cs.Connected, cs.LocalEndpoint, cs.RemoteEndpoint)
	fmt.Fprintf(&b, "server connected=%t local=%s remote=%s\n", ss.Connected, ss.LocalEndpoint, ss.RemoteEndpoint)

	if !cs.Connected {
		return b.String(), errors.New("client stack not connected")
	}
	if !ss.Connected {
		return b.String(), errors.New("server stack not connected")
	}
	return b.String(), nil
}

// interrogationStep drives one general interrogation cycle: the client
// activates, the server answers with its configured interrogation points.
func interrogationStep(ctx context.Context, env Environment, step model.TestStep) (string, error) {
	var b strings.Builder

	if !env.Client.Status().Connected {
		return b.String(), errors.New("client stack not connected")
	}
	if !env.Server.Status().Connected {
		return b.String(), errors.New("server stack not connected")
	}

	dict := &signals.Dictionary{}
	if step.SignalList != "" {
		loaded, err := env.Signals.Load(step.SignalList)
		if err != nil {
			return b.String(), fmt.Errorf("loading signal list: %w", err)
		}
		dict = loaded
	}

	if err := env.Client.SendInterrogation(); err != nil {
		return b.String(), fmt.Errorf("sending interrogation: %w", err)
	}
	fmt.Fprintln(&b, "interrogation activation sent")

	// Give the observation pipeline a moment between the two sides, as a
	// real cycle would have on the wire.
	select {
	case <-ctx.Done():
		return b.String(), ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}

	if err := env.Server.RespondInterrogation(dict); err != nil {
		return b.String(), fmt.Errorf("answering interrogation: %w", err)
	}
	points := len(dict.InterrogationSignals())
	fmt.Fprintf(&b, "interrogation answered with %d points\n", points)
	return b.String(), nil
}
