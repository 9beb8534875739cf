package testrun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/signals"
	"github.com/gridprobe/gridprobe/internal/stack"
	"github.com/gridprobe/gridprobe/internal/testcfg"
)

type fakeConfigs map[string]model.TestConfiguration

func (f fakeConfigs) Get(id string) (model.TestConfiguration, error) {
	cfg, ok := f[id]
	if !ok {
		return model.TestConfiguration{}, testcfg.ErrNotFound
	}
	return cfg, nil
}

// brokenConfigs simulates a config store whose backing file is unreadable.
type brokenConfigs struct{}

func (brokenConfigs) Get(string) (model.TestConfiguration, error) {
	return model.TestConfiguration{}, errors.New("read tests.yml: input/output error")
}

type fakeWriter struct {
	mu        sync.Mutex
	protocols []model.TestProtocol
}

func (w *fakeWriter) Write(p model.TestProtocol) (model.TestProtocol, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.protocols = append(w.protocols, p)
	return p, nil
}

func (w *fakeWriter) written() []model.TestProtocol {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.TestProtocol, len(w.protocols))
	copy(out, w.protocols)
	return out
}

type fakeEndpoint struct{ connected bool }

func (f fakeEndpoint) Status() stack.Status {
	return stack.Status{Running: f.connected, Connected: f.connected}
}
func (f fakeEndpoint) SendInterrogation() error                         { return nil }
func (f fakeEndpoint) RespondInterrogation(_ *signals.Dictionary) error { return nil }

func connectedEnv() Environment {
	return Environment{
		Client: fakeEndpoint{connected: true},
		Server: fakeEndpoint{connected: true},
	}
}

func twoStepConfig() model.TestConfiguration {
	return model.TestConfiguration{
		ID:   "cfg-1",
		Name: "Abnahmetest",
		Steps: []model.TestStep{
			{Index: 1, Kind: model.TestKindConnectionCheck},
			{Index: 2, Kind: "custom"},
		},
	}
}

func waitState(t *testing.T, e *Engine, want model.RunState) model.TestRun {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if run := e.Status(); run != nil && run.State == want {
			return *run
		}
		select {
		case <-deadline:
			t.Fatalf("run never reached state %s", want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartUnknownConfig(t *testing.T) {
	e := NewEngine(fakeConfigs{}, nil, nil, connectedEnv())

	_, err := e.Start(context.Background(), "missing")
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("Start err=%v, want ErrConfigNotFound", err)
	}
	if e.Status() != nil {
		t.Fatal("failed Start left a run behind")
	}
}

func TestStartStorageFailureIsNotNotFound(t *testing.T) {
	e := NewEngine(brokenConfigs{}, nil, nil, connectedEnv())

	_, err := e.Start(context.Background(), "cfg-1")
	if err == nil {
		t.Fatal("Start with broken config store succeeded")
	}
	if errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("storage failure reported as ErrConfigNotFound: %v", err)
	}
	if e.Status() != nil {
		t.Fatal("failed Start left a run behind")
	}
}

func TestRunExecutesAllStepsAndWritesProtocol(t *testing.T) {
	writer := &fakeWriter{}
	e := NewEngine(fakeConfigs{"cfg-1": twoStepConfig()}, writer, nil, connectedEnv())
	e.Register("custom", func(_ context.Context, _ Environment, _ model.TestStep) (string, error) {
		return "custom ran", nil
	})

	run, err := e.Start(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != model.RunRunning || len(run.Steps) != 2 {
		t.Fatalf("initial run snapshot=%+v", run)
	}

	final := waitState(t, e, model.RunFinished)
	e.Wait()

	for _, step := range final.Steps {
		if step.Status != model.StepSuccess {
			t.Fatalf("step %d status=%s, want success", step.Index, step.Status)
		}
	}

	protocols := writer.written()
	if len(protocols) != 1 {
		t.Fatalf("wrote %d protocols, want exactly 1", len(protocols))
	}
	p := protocols[0]
	if p.Aborted || p.ID != run.RunID || len(p.Steps) != 2 {
		t.Fatalf("protocol=%+v", p)
	}
	if p.Steps[1].Log != "custom ran" {
		t.Fatalf("step 2 log=%q", p.Steps[1].Log)
	}
}

func TestFailedStepDoesNotHaltRun(t *testing.T) {
	writer := &fakeWriter{}
	e := NewEngine(fakeConfigs{"cfg-1": twoStepConfig()}, writer, nil, connectedEnv())
	e.Register(model.TestKindConnectionCheck, func(_ context.Context, _ Environment, _ model.TestStep) (string, error) {
		return "no link", errors.New("connection refused")
	})
	e.Register("custom", func(_ context.Context, _ Environment, _ model.TestStep) (string, error) {
		return "still ran", nil
	})

	if _, err := e.Start(context.Background(), "cfg-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitState(t, e, model.RunFinished)
	e.Wait()

	if final.Steps[0].Status != model.StepFailed || final.Steps[0].Error == "" {
		t.Fatalf("step 1=%+v, want failed with error", final.Steps[0])
	}
	if final.Steps[1].Status != model.StepSuccess {
		t.Fatalf("step 2 status=%s, want success after earlier failure", final.Steps[1].Status)
	}
	if final.State != model.RunFinished {
		t.Fatalf("run state=%s, want finished", final.State)
	}
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	release := make(chan struct{})
	e := NewEngine(fakeConfigs{"cfg-1": twoStepConfig()}, nil, nil, connectedEnv())
	e.Register(model.TestKindConnectionCheck, func(ctx context.Context, _ Environment, _ model.TestStep) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "", nil
	})
	e.Register("custom", func(_ context.Context, _ Environment, _ model.TestStep) (string, error) {
		return "", nil
	})

	first, err := e.Start(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := e.Start(context.Background(), "cfg-1"); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Start err=%v, want ErrRunActive", err)
	}
	if got := e.Status(); got == nil || got.RunID != first.RunID {
		t.Fatalf("active run=%+v, want untouched %s", got, first.RunID)
	}

	close(release)
	waitState(t, e, model.RunFinished)
	e.Wait()

	// A terminal run no longer blocks admission. The blocking step's
	// channel is already closed, so this run completes on its own.
	second, err := e.Start(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("Start after finish: %v", err)
	}
	if second.RunID == first.RunID {
		t.Fatal("second run reused the first run's id")
	}
	waitState(t, e, model.RunFinished)
	e.Wait()
}

func TestAbortWinsOverLateStepResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	writer := &fakeWriter{}
	e := NewEngine(fakeConfigs{"cfg-1": twoStepConfig()}, writer, nil, connectedEnv())
	e.Register(model.TestKindConnectionCheck, func(_ context.Context, _ Environment, _ model.TestStep) (string, error) {
		close(started)
		<-release
		return "late success", nil
	})

	run, err := e.Start(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	aborted := e.Abort()
	if aborted.State != model.RunAborted {
		t.Fatalf("Abort state=%s, want aborted", aborted.State)
	}
	for _, step := range aborted.Steps {
		if step.Status != model.StepAborted {
			t.Fatalf("step %d status=%s, want aborted", step.Index, step.Status)
		}
	}

	// Let the blocked step return its late result and the goroutine drain.
	close(release)
	e.Wait()

	final := e.Status()
	if final.Steps[0].Status != model.StepAborted {
		t.Fatalf("late result overwrote abort: step 1=%+v", final.Steps[0])
	}

	protocols := writer.written()
	if len(protocols) != 1 {
		t.Fatalf("wrote %d protocols, want exactly 1", len(protocols))
	}
	if !protocols[0].Aborted || protocols[0].ID != run.RunID {
		t.Fatalf("protocol=%+v, want aborted record for %s", protocols[0], run.RunID)
	}
	for _, step := range protocols[0].Steps {
		if step.Status != model.StepAborted {
			t.Fatalf("protocol step %d status=%s, want aborted", step.Index, step.Status)
		}
	}
}

func TestAbortWithoutRunIsNoOp(t *testing.T) {
	writer := &fakeWriter{}
	e := NewEngine(fakeConfigs{}, writer, nil, connectedEnv())

	run := e.Abort()
	if run.RunID != "" {
		t.Fatalf("Abort on idle engine=%+v, want zero run", run)
	}
	if len(writer.written()) != 0 {
		t.Fatal("Abort on idle engine wrote a protocol")
	}
}

func TestUnknownStepKindFailsThatStepOnly(t *testing.T) {
	cfg := model.TestConfiguration{
		ID:   "cfg-1",
		Name: "mixed",
		Steps: []model.TestStep{
			{Index: 1, Kind: "does_not_exist"},
			{Index: 2, Kind: model.TestKindConnectionCheck},
		},
	}
	e := NewEngine(fakeConfigs{"cfg-1": cfg}, nil, nil, connectedEnv())

	if _, err := e.Start(context.Background(), "cfg-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := waitState(t, e, model.RunFinished)
	e.Wait()

	if final.Steps[0].Status != model.StepFailed {
		t.Fatalf("unknown kind step status=%s, want failed", final.Steps[0].Status)
	}
	if final.Steps[1].Status != model.StepSuccess {
		t.Fatalf("following step status=%s, want success", final.Steps[1].Status)
	}
}
