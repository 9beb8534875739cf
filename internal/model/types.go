package model

import "time"

// Channel identifies which logical protocol endpoint produced an event.
type Channel string

const (
	ChannelClient Channel = "client"
	ChannelServer Channel = "server"
)

// Channels lists all valid channels in stable order.
var Channels = []Channel{ChannelClient, ChannelServer}

// Valid reports whether c names a known channel.
func (c Channel) Valid() bool {
	return c == ChannelClient || c == ChannelServer
}

// Direction of an observed frame relative to the owning channel.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// FrameKind tags the category of an observed frame. I frames carry
// application data, S and U frames are link control, TCP marks raw
// connection-level events (SYN, RST, ...).
type FrameKind string

const (
	FrameI   FrameKind = "I"
	FrameS   FrameKind = "S"
	FrameU   FrameKind = "U"
	FrameTCP FrameKind = "TCP"
)

// TelegramEvent is the canonical representation of a single observed
// protocol event. It is the unit flowing through history and the live
// stream; Sequence and Delta are assigned by the history store at capture
// time, everything else by the producing stack.
type TelegramEvent struct {
	Channel        Channel   `json:"channel"`
	Sequence       uint64    `json:"sequence"`
	Direction      Direction `json:"direction"`
	FrameKind      FrameKind `json:"frame_kind"`
	Timestamp      time.Time `json:"timestamp"`
	Delta          float64   `json:"delta"` // seconds since previous event of same channel+direction
	LocalEndpoint  string    `json:"local_endpoint"`
	RemoteEndpoint string    `json:"remote_endpoint"`
	Label          string    `json:"label"`

	// Application-layer fields, present only when FrameKind == FrameI.
	TypeID     int    `json:"type_id,omitempty"`
	Cause      int    `json:"cause,omitempty"`
	Originator int    `json:"originator,omitempty"`
	Station    int    `json:"station,omitempty"`
	IOA        int    `json:"ioa,omitempty"` // 3-byte composite address, 0 is the sentinel
	Value      string `json:"value,omitempty"`
}

// ConnState is the externally visible connection state of a channel.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ConnectionStatus is the current-value snapshot for one channel. It is
// broadcast on every transition but never written to history.
type ConnectionStatus struct {
	Channel        Channel   `json:"channel"`
	State          ConnState `json:"state"`
	Connected      bool      `json:"connected"`
	LocalEndpoint  string    `json:"local_endpoint,omitempty"`
	RemoteEndpoint string    `json:"remote_endpoint,omitempty"`
}

// EnvelopeType discriminates live stream messages.
type EnvelopeType string

const (
	EnvelopeTelegram EnvelopeType = "telegram"
	EnvelopeStatus   EnvelopeType = "status"
	EnvelopeTest     EnvelopeType = "test"
)

// Envelope is one live stream message: exactly one logical event per
// envelope, typed so the observer can dispatch without sniffing payloads.
type Envelope struct {
	Type    EnvelopeType `json:"type"`
	Payload any          `json:"payload"`
}
