package hub

import (
	"testing"

	"github.com/gridprobe/gridprobe/internal/model"
)

func telegram(seq uint64) model.Envelope {
	return model.Envelope{
		Type:    model.EnvelopeTelegram,
		Payload: model.TelegramEvent{Channel: model.ChannelClient, Sequence: seq},
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New(4)

	a := h.Subscribe()
	b := h.Subscribe()
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	h.Publish(telegram(1))

	for name, sub := range map[string]*Subscriber{"a": a, "b": b} {
		env := <-sub.Events()
		ev, ok := env.Payload.(model.TelegramEvent)
		if !ok {
			t.Fatalf("subscriber %s: payload type %T", name, env.Payload)
		}
		if ev.Sequence != 1 {
			t.Fatalf("subscriber %s: sequence=%d, want 1", name, ev.Sequence)
		}
	}
}

func TestSubscribeSeesNoReplay(t *testing.T) {
	h := New(4)

	h.Publish(telegram(1))
	h.Publish(telegram(2))

	sub := h.Subscribe()
	t.Cleanup(sub.Close)

	h.Publish(telegram(3))

	env := <-sub.Events()
	ev := env.Payload.(model.TelegramEvent)
	if ev.Sequence != 3 {
		t.Fatalf("first delivered sequence=%d, want 3 (no replay)", ev.Sequence)
	}
	if got := len(sub.Events()); got != 0 {
		t.Fatalf("buffered envelopes=%d, want 0", got)
	}
}

func TestDeliveryPreservesPublishOrder(t *testing.T) {
	h := New(16)
	sub := h.Subscribe()
	t.Cleanup(sub.Close)

	for seq := uint64(1); seq <= 10; seq++ {
		h.Publish(telegram(seq))
	}

	for want := uint64(1); want <= 10; want++ {
		env := <-sub.Events()
		ev := env.Payload.(model.TelegramEvent)
		if ev.Sequence != want {
			t.Fatalf("delivered sequence=%d, want %d", ev.Sequence, want)
		}
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	h := New(2)

	slow := h.Subscribe()
	fast := h.Subscribe()
	t.Cleanup(fast.Close)

	// Fill the slow subscriber's buffer, then publish once more. The
	// publisher must not block and the slow session must be detached.
	h.Publish(telegram(1))
	h.Publish(telegram(2))
	h.Publish(telegram(3))

	if got := h.SubscriberCount(); got != 1 {
		t.Fatalf("SubscriberCount=%d after overflow, want 1", got)
	}

	// The slow channel drains its buffered envelopes and then closes.
	seen := 0
	for range slow.Events() {
		seen++
	}
	if seen != 2 {
		t.Fatalf("slow subscriber received %d envelopes before close, want 2", seen)
	}

	// The fast subscriber got everything.
	for want := uint64(1); want <= 3; want++ {
		env := <-fast.Events()
		if env.Payload.(model.TelegramEvent).Sequence != want {
			t.Fatalf("fast subscriber missed sequence %d", want)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := New(4)
	sub := h.Subscribe()

	sub.Close()
	sub.Close()

	if got := h.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount=%d after Close, want 0", got)
	}

	// Publishing after close must not panic on the closed channel.
	h.Publish(telegram(1))
}
