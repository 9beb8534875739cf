// Package control owns the protocol endpoints and feeds their output into
// the observation pipeline.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gridprobe/gridprobe/internal/history"
	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/signals"
	"github.com/gridprobe/gridprobe/internal/stack"
	"github.com/gridprobe/gridprobe/internal/status"
)

// ErrUnknownChannel is returned for start/stop against an unknown channel.
var ErrUnknownChannel = errors.New("control: unknown channel")

// Controller binds one stack per channel to the status tracker and the
// history store: every observed frame is labeled, durably appended and
// (by the store) broadcast; every stack transition updates the tracker.
type Controller struct {
	ctx     context.Context
	client  *stack.Simulator
	server  *stack.Simulator
	tracker *status.Tracker
	store   *history.Store
	dict    *signals.Dictionary

	// mu serializes Start/Stop so the running check and the tracker
	// transition are one step: a rejected start must never disturb the
	// visible status of a running channel.
	mu sync.Mutex
}

// New wires the callbacks. dict may be nil when no default signal list is
// configured; labels then fall back to the raw decoder text.
func New(ctx context.Context, client, server *stack.Simulator, tracker *status.Tracker, store *history.Store, dict *signals.Dictionary) *Controller {
	c := &Controller{
		ctx:     ctx,
		client:  client,
		server:  server,
		tracker: tracker,
		store:   store,
		dict:    dict,
	}
	c.wire(model.ChannelClient, client)
	c.wire(model.ChannelServer, server)
	return c
}

func (c *Controller) wire(channel model.Channel, s *stack.Simulator) {
	s.OnStatusChange(func(connected bool, local, remote string) {
		if connected {
			c.tracker.Connected(channel, local, remote)
		} else {
			c.tracker.Disconnected(channel)
		}
	})
	s.OnFrameObserved(func(ev model.TelegramEvent) {
		ev = c.dict.Annotate(ev)
		if _, err := c.store.Append(ev); err != nil {
			// Durability failed, so the event is dropped from the live
			// stream as well; the stacks keep running.
			log.Printf("control: recording %s frame: %v", channel, err)
		}
	})
}

// Start launches the channel's stack and moves the tracker to connecting.
// Starting an already running channel returns stack.ErrAlreadyRunning and
// leaves the tracker untouched.
func (c *Controller) Start(channel model.Channel) error {
	s, err := c.stackFor(channel)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Status().Running {
		return stack.ErrAlreadyRunning
	}
	c.tracker.Starting(channel)
	if err := s.Start(c.ctx); err != nil {
		c.tracker.Disconnected(channel)
		return err
	}
	return nil
}

// Stop shuts the channel's stack down. Always leaves the tracker
// disconnected, even if the stack was not running.
func (c *Controller) Stop(channel model.Channel) error {
	s, err := c.stackFor(channel)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stopErr := s.Stop()
	c.tracker.Disconnected(channel)
	return stopErr
}

// StackStatus reports the stack's own lifecycle view for a channel.
func (c *Controller) StackStatus(channel model.Channel) (stack.Status, error) {
	s, err := c.stackFor(channel)
	if err != nil {
		return stack.Status{}, err
	}
	return s.Status(), nil
}

// Shutdown stops both stacks; used on process exit.
func (c *Controller) Shutdown() {
	for _, ch := range model.Channels {
		if err := c.Stop(ch); err != nil {
			log.Printf("control: stopping %s: %v", ch, err)
		}
	}
}

// Client returns the client endpoint for sub-test use.
func (c *Controller) Client() *stack.Simulator { return c.client }

// Server returns the server endpoint for sub-test use.
func (c *Controller) Server() *stack.Simulator { return c.server }

func (c *Controller) stackFor(channel model.Channel) (*stack.Simulator, error) {
	switch channel {
	case model.ChannelClient:
		return c.client, nil
	case model.ChannelServer:
		return c.server, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
}
