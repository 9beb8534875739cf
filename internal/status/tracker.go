// Package status maintains the current connection state per channel.
package status

import (
	"sync"
	"time"

	"github.com/gridprobe/gridprobe/internal/model"
)

// DefaultConnectingTimeout bounds how long a channel may stay in the
// connecting state before the tracker resets it to disconnected. This is
// a safety net against a hung stack start: it only corrects the visible
// status, it does not cancel the underlying operation.
const DefaultConnectingTimeout = 30 * time.Second

// Tracker holds the point-in-time connection snapshot for every channel
// and publishes a status envelope on each transition.
type Tracker struct {
	mu      sync.Mutex
	states  map[model.Channel]model.ConnectionStatus
	timers  map[model.Channel]*time.Timer
	pub     model.Publisher
	timeout time.Duration
}

// New creates a tracker with all channels disconnected. timeout <= 0
// selects DefaultConnectingTimeout.
func New(pub model.Publisher, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultConnectingTimeout
	}
	t := &Tracker{
		states:  make(map[model.Channel]model.ConnectionStatus, len(model.Channels)),
		timers:  make(map[model.Channel]*time.Timer),
		pub:     pub,
		timeout: timeout,
	}
	for _, ch := range model.Channels {
		t.states[ch] = model.ConnectionStatus{Channel: ch, State: model.StateDisconnected}
	}
	return t
}

// Starting records a start command: the channel enters connecting and the
// timeout timer is armed.
func (t *Tracker) Starting(channel model.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.transitionLocked(model.ConnectionStatus{
		Channel: channel,
		State:   model.StateConnecting,
	})
	t.stopTimerLocked(channel)
	t.timers[channel] = time.AfterFunc(t.timeout, func() {
		t.connectingExpired(channel)
	})
}

// Connected records that the underlying stack reported ready.
func (t *Tracker) Connected(channel model.Channel, local, remote string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked(channel)
	t.transitionLocked(model.ConnectionStatus{
		Channel:        channel,
		State:          model.StateConnected,
		Connected:      true,
		LocalEndpoint:  local,
		RemoteEndpoint: remote,
	})
}

// Disconnected records a stop command or a stack-reported close/error.
// Valid from any state.
func (t *Tracker) Disconnected(channel model.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked(channel)
	t.transitionLocked(model.ConnectionStatus{
		Channel: channel,
		State:   model.StateDisconnected,
	})
}

// Snapshot returns a copy of the current per-channel states.
func (t *Tracker) Snapshot() map[model.Channel]model.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[model.Channel]model.ConnectionStatus, len(t.states))
	for ch, st := range t.states {
		out[ch] = st
	}
	return out
}

// Get returns the current status of one channel.
func (t *Tracker) Get(channel model.Channel) model.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[channel]
}

func (t *Tracker) connectingExpired(channel model.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Only reset if the channel is still stuck in connecting; a race with
	// a real transition is resolved in favor of the real transition.
	if t.states[channel].State != model.StateConnecting {
		return
	}
	t.transitionLocked(model.ConnectionStatus{
		Channel: channel,
		State:   model.StateDisconnected,
	})
}

func (t *Tracker) transitionLocked(next model.ConnectionStatus) {
	prev := t.states[next.Channel]
	if prev == next {
		return
	}
	t.states[next.Channel] = next
	if t.pub != nil {
		t.pub.Publish(model.Envelope{Type: model.EnvelopeStatus, Payload: next})
	}
}

func (t *Tracker) stopTimerLocked(channel model.Channel) {
	if timer, ok := t.timers[channel]; ok {
		timer.Stop()
		delete(t.timers, channel)
	}
}
