// Package history provides the durable per-channel telegram log.
//
// Each channel owns one JSONL file: one event per line, appended and
// fsynced before the event is broadcast. Sequence numbers are assigned
// here, monotonically per channel, and reset only by an explicit clear.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gridprobe/gridprobe/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// ErrUnknownChannel is returned for appends or queries against a channel
// the store does not manage.
var ErrUnknownChannel = errors.New("history: unknown channel")

type channelLog struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	nextSeq uint64
	// lastAt tracks the previous accepted event per direction so Delta is
	// computed against the same (channel, direction) pair, never globally.
	lastAt map[model.Direction]time.Time
}

// Store is the bounded-on-read, append-only event log for all channels.
// Appends and clears for one channel are serialized on that channel's
// mutex; channels never contend with each other.
type Store struct {
	logs map[model.Channel]*channelLog
	pub  model.Publisher
}

var _ model.EventRecorder = (*Store)(nil)

// Open creates or opens the per-channel log files under dir. Existing
// files are scanned so sequence numbers and delta baselines survive a
// restart without gaps or reuse.
func Open(dir string, pub model.Publisher) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("history: dir is empty")
	}
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return nil, fmt.Errorf("history: mkdir: %w", err)
	}

	s := &Store{
		logs: make(map[model.Channel]*channelLog, len(model.Channels)),
		pub:  pub,
	}
	for _, ch := range model.Channels {
		cl, err := openChannel(filepath.Join(dir, string(ch)+".jsonl"))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.logs[ch] = cl
	}
	return s, nil
}

func openChannel(path string) (*channelLog, error) {
	maxSeq, lastAt, err := scanExisting(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	return &channelLog{
		path:    path,
		file:    f,
		nextSeq: maxSeq + 1,
		lastAt:  lastAt,
	}, nil
}

// Append finalizes and persists one event, then broadcasts it. The write
// is durable before the method returns; a storage failure surfaces to the
// caller and suppresses the broadcast entirely.
func (s *Store) Append(ev model.TelegramEvent) (model.TelegramEvent, error) {
	cl, ok := s.logs[ev.Channel]
	if !ok {
		return model.TelegramEvent{}, fmt.Errorf("%w: %q", ErrUnknownChannel, ev.Channel)
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Sequence = cl.nextSeq
	if prev, ok := cl.lastAt[ev.Direction]; ok {
		delta := ev.Timestamp.Sub(prev)
		if delta < 0 {
			delta = 0
		}
		ev.Delta = delta.Seconds()
	} else {
		ev.Delta = 0
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return model.TelegramEvent{}, fmt.Errorf("history: marshal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := cl.file.Write(line); err != nil {
		return model.TelegramEvent{}, fmt.Errorf("history: write event: %w", err)
	}
	if err := cl.file.Sync(); err != nil {
		return model.TelegramEvent{}, fmt.Errorf("history: sync event: %w", err)
	}

	cl.nextSeq++
	cl.lastAt[ev.Direction] = ev.Timestamp

	// Broadcast under the channel lock so subscribers observe strictly
	// increasing sequences. Hub delivery never blocks, so this cannot
	// stall the append path on a slow observer.
	if s.pub != nil {
		s.pub.Publish(model.Envelope{Type: model.EnvelopeTelegram, Payload: ev})
	}
	return ev, nil
}

// Query returns up to limit most recent events for the channel in
// ascending sequence order. A channel with no recorded history yields an
// empty slice, not an error. limit <= 0 returns everything.
func (s *Store) Query(channel model.Channel, limit int) ([]model.TelegramEvent, error) {
	cl, ok := s.logs[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	f, err := os.Open(cl.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.TelegramEvent{}, nil
		}
		return nil, fmt.Errorf("history: open for query: %w", err)
	}
	defer f.Close()

	events := []model.TelegramEvent{}
	reader := bufio.NewReader(f)
	for {
		line, rerr := reader.ReadBytes('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return nil, fmt.Errorf("history: read: %w", rerr)
		}
		if len(line) > 0 && strings.HasSuffix(string(line), "\n") {
			var ev model.TelegramEvent
			if uerr := json.Unmarshal(line, &ev); uerr == nil {
				events = append(events, ev)
			}
			// Malformed lines are skipped; a torn trailing line is
			// covered by the suffix check above.
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// QueryAll returns the per-channel histories in one call, each truncated
// to the limit most recent entries.
func (s *Store) QueryAll(limit int) (map[model.Channel][]model.TelegramEvent, error) {
	out := make(map[model.Channel][]model.TelegramEvent, len(model.Channels))
	for _, ch := range model.Channels {
		events, err := s.Query(ch, limit)
		if err != nil {
			return nil, err
		}
		out[ch] = events
	}
	return out, nil
}

// Clear atomically empties the channel's log, resets its sequence counter
// and delta baselines. It is serialized with Append on the same mutex, so
// an in-flight append either completes before the clear or lands after it
// with sequence 1.
func (s *Store) Clear(channel model.Channel) error {
	cl, ok := s.logs[channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if err := cl.file.Truncate(0); err != nil {
		return fmt.Errorf("history: truncate: %w", err)
	}
	if err := cl.file.Sync(); err != nil {
		return fmt.Errorf("history: sync truncate: %w", err)
	}
	cl.nextSeq = 1
	cl.lastAt = make(map[model.Direction]time.Time)
	return nil
}

// Close releases the underlying log files.
func (s *Store) Close() error {
	var firstErr error
	for _, cl := range s.logs {
		if cl == nil {
			continue
		}
		cl.mu.Lock()
		if cl.file != nil {
			if err := cl.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			cl.file = nil
		}
		cl.mu.Unlock()
	}
	return firstErr
}

// scanExisting recovers the highest stored sequence and the newest
// timestamp per direction. A partially written trailing line is ignored,
// matching the append format's torn-write tolerance.
func scanExisting(path string) (uint64, map[model.Direction]time.Time, error) {
	lastAt := make(map[model.Direction]time.Time)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, lastAt, nil
		}
		return 0, nil, fmt.Errorf("history: open for scan: %w", err)
	}
	defer f.Close()

	var maxSeq uint64
	reader := bufio.NewReader(f)
	for {
		line, rerr := reader.ReadBytes('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return 0, nil, fmt.Errorf("history: scan: %w", rerr)
		}
		if len(line) > 0 && strings.HasSuffix(string(line), "\n") {
			var ev model.TelegramEvent
			if uerr := json.Unmarshal(line, &ev); uerr == nil {
				if ev.Sequence > maxSeq {
					maxSeq = ev.Sequence
				}
				if ev.Timestamp.After(lastAt[ev.Direction]) {
					lastAt[ev.Direction] = ev.Timestamp
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
	}
	return maxSeq, lastAt, nil
}
