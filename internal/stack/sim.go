package stack

import (
	"context"
	"sync"
	"time"

	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/signals"
)

const (
	// DefaultConnectDelay simulates connection establishment work.
	DefaultConnectDelay = 200 * time.Millisecond
	// DefaultKeepAlive is the interval between TESTFR keep-alive cycles.
	DefaultKeepAlive = 15 * time.Second

	typeInterrogation = 100

	causeActivation   = 6
	causeActivationOK = 7
	causeTermination  = 10
	causeInterrogated = 20
)

// SimulatorConfig configures one simulated endpoint.
type SimulatorConfig struct {
	Channel        model.Channel
	LocalEndpoint  string
	RemoteEndpoint string
	Station        int
	Originator     int
	ConnectDelay   time.Duration
	KeepAlive      time.Duration
}

// Simulator is the placeholder protocol endpoint. It produces a plausible
// frame sequence (TCP handshake, STARTDT, keep-alives, interrogation
// cycles) without any real link-layer engine behind it, which is exactly
// enough to exercise the observation pipeline and the test orchestrator.
type Simulator struct {
	cfg SimulatorConfig

	mu        sync.Mutex
	running   bool
	connected bool
	attempts  int
	frames    int
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	statusFn StatusFunc
	frameFn  FrameFunc
}

var _ Stack = (*Simulator)(nil)

// NewSimulator applies defaults and returns a stopped endpoint.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = DefaultConnectDelay
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	return &Simulator{cfg: cfg}
}

// OnStatusChange registers the connection transition callback.
func (s *Simulator) OnStatusChange(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFn = fn
}

// OnFrameObserved registers the frame callback.
func (s *Simulator) OnFrameObserved(fn FrameFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameFn = fn
}

// Status returns the stack's own lifecycle view.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:        s.running,
		Connected:      s.connected,
		LocalEndpoint:  s.cfg.LocalEndpoint,
		RemoteEndpoint: s.cfg.RemoteEndpoint,
		Attempts:       s.attempts,
		FramesObserved: s.frames,
	}
}

// Start launches the simulated endpoint. It returns ErrAlreadyRunning if
// the endpoint is active.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.attempts++
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop shuts the endpoint down. Stopping a stopped endpoint is a no-op.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Simulator) run(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		s.shutdown(false)
		return
	case <-time.After(s.cfg.ConnectDelay):
	}

	s.emitHandshake()
	s.setConnected(true)

	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.emit(model.FrameTCP, "RST ACK", model.DirectionOutgoing, nil)
			s.shutdown(true)
			return
		case <-ticker.C:
			s.emit(model.FrameU, "TESTFR ACT", model.DirectionOutgoing, nil)
			s.emit(model.FrameU, "TESTFR CON", model.DirectionIncoming, nil)
		}
	}
}

// emitHandshake replays the connection establishment sequence from the
// endpoint's perspective: the client dials, the server accepts.
func (s *Simulator) emitHandshake() {
	out, in := model.DirectionOutgoing, model.DirectionIncoming
	if s.cfg.Channel == model.ChannelServer {
		out, in = in, out
	}
	s.emit(model.FrameTCP, "SYN", out, nil)
	s.emit(model.FrameTCP, "SYN ACK", in, nil)
	s.emit(model.FrameTCP, "ACK", out, nil)
	s.emit(model.FrameU, "STARTDT ACT", out, nil)
	s.emit(model.FrameU, "STARTDT CON", in, nil)
}

// SendInterrogation emits a general interrogation activation and the
// confirmation cycle as the client observes it. Requires a connected
// endpoint.
func (s *Simulator) SendInterrogation() error {
	if !s.Status().Connected {
		return ErrNotRunning
	}
	app := &appFields{TypeID: typeInterrogation, Cause: causeActivation, IOA: 0}
	s.emit(model.FrameI, "GENERALABFRAGE ACT", model.DirectionOutgoing, app)

	con := &appFields{TypeID: typeInterrogation, Cause: causeActivationOK, IOA: 0}
	s.emit(model.FrameI, "GENERALABFRAGE CON", model.DirectionIncoming, con)
	s.emit(model.FrameS, "S-FRAME", model.DirectionOutgoing, nil)
	return nil
}

// RespondInterrogation emits the server-side interrogation cycle: the
// received activation, the confirmation, one I frame per interrogation
// point from the dictionary, and the termination.
func (s *Simulator) RespondInterrogation(dict *signals.Dictionary) error {
	if !s.Status().Connected {
		return ErrNotRunning
	}
	s.emit(model.FrameI, "GENERALABFRAGE ACT", model.DirectionIncoming,
		&appFields{TypeID: typeInterrogation, Cause: causeActivation, IOA: 0})
	s.emit(model.FrameI, "GENERALABFRAGE CON", model.DirectionOutgoing,
		&appFields{TypeID: typeInterrogation, Cause: causeActivationOK, IOA: 0})

	for _, sig := range dict.InterrogationSignals() {
		s.emit(model.FrameI, sig.Label, model.DirectionOutgoing, &appFields{
			TypeID: sig.TypeID,
			Cause:  causeInterrogated,
			IOA:    sig.IOA,
			Value:  sig.Value,
		})
	}

	s.emit(model.FrameI, "GENERALABFRAGE END", model.DirectionOutgoing,
		&appFields{TypeID: typeInterrogation, Cause: causeTermination, IOA: 0})
	s.emit(model.FrameS, "S-FRAME", model.DirectionOutgoing, nil)
	return nil
}

type appFields struct {
	TypeID int
	Cause  int
	IOA    int
	Value  string
}

func (s *Simulator) emit(kind model.FrameKind, label string, dir model.Direction, app *appFields) {
	s.mu.Lock()
	fn := s.frameFn
	s.frames++
	s.mu.Unlock()

	if fn == nil {
		return
	}
	ev := model.TelegramEvent{
		Channel:        s.cfg.Channel,
		Direction:      dir,
		FrameKind:      kind,
		Timestamp:      time.Now(),
		LocalEndpoint:  s.cfg.LocalEndpoint,
		RemoteEndpoint: s.cfg.RemoteEndpoint,
		Label:          label,
	}
	if kind == model.FrameI && app != nil {
		ev.TypeID = app.TypeID
		ev.Cause = app.Cause
		ev.Originator = s.cfg.Originator
		ev.Station = s.cfg.Station
		ev.IOA = app.IOA
		ev.Value = app.Value
	}
	fn(ev)
}

func (s *Simulator) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	fn := s.statusFn
	s.mu.Unlock()

	if fn != nil {
		fn(connected, s.cfg.LocalEndpoint, s.cfg.RemoteEndpoint)
	}
}

func (s *Simulator) shutdown(wasConnected bool) {
	s.mu.Lock()
	s.running = false
	s.connected = false
	fn := s.statusFn
	s.mu.Unlock()

	if wasConnected && fn != nil {
		fn(false, s.cfg.LocalEndpoint, s.cfg.RemoteEndpoint)
	}
}
