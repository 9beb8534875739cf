// Package testrun executes configured test sequences against the running
// protocol endpoints, one step at a time.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/testcfg"
)

var (
	// ErrRunActive is returned by Start while another run is executing.
	ErrRunActive = errors.New("testrun: a run is already active")
	// ErrConfigNotFound is returned for unknown configuration ids.
	ErrConfigNotFound = errors.New("testrun: configuration not found")
)

// ConfigSource resolves a configuration id to its stored definition.
type ConfigSource interface {
	Get(id string) (model.TestConfiguration, error)
}

// ProtocolWriter receives the completed run exactly once, when it reaches
// a terminal state.
type ProtocolWriter interface {
	Write(p model.TestProtocol) (model.TestProtocol, error)
}

// StepFunc implements one sub-test kind. It returns the step's log body;
// a non-nil error records the step as failed without halting the run.
type StepFunc func(ctx context.Context, env Environment, step model.TestStep) (string, error)

// RunEvent is the payload of test envelopes on the live stream.
type RunEvent struct {
	Event  string           `json:"event"` // run_started, step_status, run_finished, run_aborted
	RunID  string           `json:"run_id"`
	Step   int              `json:"step,omitempty"`
	Status model.StepStatus `json:"status,omitempty"`
	State  model.RunState   `json:"state,omitempty"`
}

// Engine is the process-wide test-run state machine. Exactly one run can
// be active at a time; admission is test-and-set under the engine mutex.
type Engine struct {
	configs ConfigSource
	writer  ProtocolWriter
	pub     model.Publisher
	env     Environment
	steps   map[model.TestKind]StepFunc

	mu      sync.Mutex
	current *model.TestRun
	logs    map[int]string // per-step log bodies of the current run
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine wires the orchestrator with its collaborators and registers
// the built-in sub-test kinds.
func NewEngine(configs ConfigSource, writer ProtocolWriter, pub model.Publisher, env Environment) *Engine {
	e := &Engine{
		configs: configs,
		writer:  writer,
		pub:     pub,
		env:     env,
		steps:   make(map[model.TestKind]StepFunc),
	}
	e.Register(model.TestKindConnectionCheck, connectionCheckStep)
	e.Register(model.TestKindInterrogation, interrogationStep)
	return e
}

// Register installs or replaces the behavior for a sub-test kind.
func (e *Engine) Register(kind model.TestKind, fn StepFunc) {
	e.steps[kind] = fn
}

// Start begins executing the named configuration. It fails with
// ErrConfigNotFound for unknown ids and ErrRunActive while a run is in
// progress; the active run is left untouched in both cases.
func (e *Engine) Start(ctx context.Context, configID string) (model.TestRun, error) {
	cfg, err := e.configs.Get(configID)
	if errors.Is(err, testcfg.ErrNotFound) {
		return model.TestRun{}, fmt.Errorf("%w: %q", ErrConfigNotFound, configID)
	}
	if err != nil {
		// A read failure is a storage problem, not a missing configuration.
		return model.TestRun{}, fmt.Errorf("testrun: loading configuration %q: %w", configID, err)
	}

	e.mu.Lock()
	if e.current != nil && e.current.State == model.RunRunning {
		e.mu.Unlock()
		return model.TestRun{}, ErrRunActive
	}

	run := &model.TestRun{
		RunID:     uuid.NewString(),
		ConfigID:  cfg.ID,
		Name:      cfg.Name,
		State:     model.RunRunning,
		StartedAt: time.Now(),
		Steps:     make([]model.RunStep, len(cfg.Steps)),
	}
	for i, step := range cfg.Steps {
		run.Steps[i] = model.RunStep{Index: step.Index, Kind: step.Kind, Status: model.StepPending}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.current = run
	e.logs = make(map[int]string, len(cfg.Steps))
	e.cancel = cancel
	snapshot := cloneRun(run)
	e.mu.Unlock()

	e.publish(RunEvent{Event: "run_started", RunID: run.RunID, State: model.RunRunning})

	e.wg.Add(1)
	go e.execute(runCtx, run.RunID, cfg)

	return snapshot, nil
}

// Abort cancels the active run. The current and all not-yet-started steps
// are recorded as aborted and the protocol is written immediately; a step
// result arriving after the abort is discarded ("abort wins"). Aborting
// when no run is active is a no-op.
func (e *Engine) Abort() model.TestRun {
	e.mu.Lock()
	run := e.current
	if run == nil || run.State != model.RunRunning {
		var snapshot model.TestRun
		if run != nil {
			snapshot = cloneRun(run)
		}
		e.mu.Unlock()
		return snapshot
	}

	for i := range run.Steps {
		if !run.Steps[i].Status.Terminal() {
			run.Steps[i].Status = model.StepAborted
		}
	}
	run.State = model.RunAborted
	cancel := e.cancel
	e.cancel = nil
	protocol := e.buildProtocolLocked(run)
	snapshot := cloneRun(run)
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.publish(RunEvent{Event: "run_aborted", RunID: run.RunID, State: model.RunAborted})
	e.writeProtocol(protocol)
	return snapshot
}

// Status returns a snapshot of the current or last run, or nil if nothing
// has run this process lifetime.
func (e *Engine) Status() *model.TestRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	snapshot := cloneRun(e.current)
	return &snapshot
}

// Wait blocks until the active run's goroutine has exited. Used during
// shutdown, after Abort.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) execute(ctx context.Context, runID string, cfg model.TestConfiguration) {
	defer e.wg.Done()

	for i, step := range cfg.Steps {
		if !e.beginStep(runID, i) {
			return // aborted
		}

		fn, ok := e.steps[step.Kind]
		var body string
		var err error
		if !ok {
			err = fmt.Errorf("unknown test kind %q", step.Kind)
		} else {
			body, err = fn(ctx, e.env, step)
		}

		if !e.finishStep(runID, i, body, err) {
			return // aborted while the step ran; late result discarded
		}
	}

	e.finishRun(runID)
}

// beginStep marks step i running. It returns false when the run was
// aborted in the meantime.
func (e *Engine) beginStep(runID string, i int) bool {
	e.mu.Lock()
	run := e.current
	if run == nil || run.RunID != runID || run.State != model.RunRunning {
		e.mu.Unlock()
		return false
	}
	run.Steps[i].Status = model.StepRunning
	index := run.Steps[i].Index
	e.mu.Unlock()

	e.publish(RunEvent{Event: "step_status", RunID: runID, Step: index, Status: model.StepRunning})
	return true
}

// finishStep records the step outcome. A failure is recorded and the run
// proceeds; only an abort stops the sequence.
func (e *Engine) finishStep(runID string, i int, body string, stepErr error) bool {
	e.mu.Lock()
	run := e.current
	if run == nil || run.RunID != runID || run.State != model.RunRunning ||
		run.Steps[i].Status != model.StepRunning {
		e.mu.Unlock()
		return false
	}

	if stepErr != nil {
		run.Steps[i].Status = model.StepFailed
		run.Steps[i].Error = stepErr.Error()
	} else {
		run.Steps[i].Status = model.StepSuccess
	}
	index := run.Steps[i].Index
	status := run.Steps[i].Status
	e.logs[index] = body
	e.mu.Unlock()

	e.publish(RunEvent{Event: "step_status", RunID: runID, Step: index, Status: status})
	return true
}

func (e *Engine) finishRun(runID string) {
	e.mu.Lock()
	run := e.current
	if run == nil || run.RunID != runID || run.State != model.RunRunning {
		e.mu.Unlock()
		return
	}
	run.State = model.RunFinished
	protocol := e.buildProtocolLocked(run)
	e.mu.Unlock()

	e.publish(RunEvent{Event: "run_finished", RunID: runID, State: model.RunFinished})
	e.writeProtocol(protocol)
}

func (e *Engine) buildProtocolLocked(run *model.TestRun) model.TestProtocol {
	p := model.TestProtocol{
		ID:         run.RunID,
		ConfigID:   run.ConfigID,
		Name:       run.Name,
		Aborted:    run.State == model.RunAborted,
		FinishedAt: time.Now(),
		Steps:      make([]model.ProtocolStep, len(run.Steps)),
	}
	for i, step := range run.Steps {
		p.Steps[i] = model.ProtocolStep{
			Index:  step.Index,
			Kind:   step.Kind,
			Status: step.Status,
			Log:    e.logs[step.Index],
		}
	}
	return p
}

func (e *Engine) writeProtocol(p model.TestProtocol) {
	if e.writer == nil {
		return
	}
	if _, err := e.writer.Write(p); err != nil {
		// A protocol write failure must not take the service down; the
		// in-memory run snapshot stays queryable.
		log.Printf("testrun: writing protocol %s: %v", p.ID, err)
	}
}

func (e *Engine) publish(ev RunEvent) {
	if e.pub != nil {
		e.pub.Publish(model.Envelope{Type: model.EnvelopeTest, Payload: ev})
	}
}

func cloneRun(run *model.TestRun) model.TestRun {
	out := *run
	out.Steps = make([]model.RunStep, len(run.Steps))
	copy(out.Steps, run.Steps)
	return out
}
