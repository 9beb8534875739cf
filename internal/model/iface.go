package model

// Publisher is the narrow fan-out contract used by producers that need to
// push envelopes to live observers without depending on the hub package.
type Publisher interface {
	Publish(env Envelope)
}

// EventRecorder is implemented by the history store: durable append that
// finalizes Sequence and Delta on the stored event.
type EventRecorder interface {
	Append(ev TelegramEvent) (TelegramEvent, error)
}
