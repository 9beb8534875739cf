package model

import "time"

// TestKind names a supported sub-test type.
type TestKind string

const (
	// TestKindInterrogation drives a general interrogation through the
	// client stack and checks the server's response cycle.
	TestKindInterrogation TestKind = "general_interrogation"
	// TestKindConnectionCheck verifies both stacks report an established
	// connection before the sequence proceeds.
	TestKindConnectionCheck TestKind = "connection_check"
)

// TestStep is one ordered unit of work inside a configuration. Index is
// 1-based and contiguous; it is reassigned on every save and never edited
// independently.
type TestStep struct {
	Index      int      `json:"index" yaml:"index"`
	Kind       TestKind `json:"kind" yaml:"kind"`
	SignalList string   `json:"signal_list,omitempty" yaml:"signal_list,omitempty"`
}

// TestConfiguration is a named, ordered list of sub-tests.
type TestConfiguration struct {
	ID    string     `json:"id" yaml:"id"`
	Name  string     `json:"name" yaml:"name"`
	Steps []TestStep `json:"steps" yaml:"steps"`
}

// StepStatus is the recorded outcome of one run step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepAborted StepStatus = "aborted"
)

// Terminal reports whether the status can no longer change.
func (s StepStatus) Terminal() bool {
	return s == StepSuccess || s == StepFailed || s == StepAborted
}

// RunState is the lifecycle state of a test run.
type RunState string

const (
	RunIdle     RunState = "idle"
	RunRunning  RunState = "running"
	RunFinished RunState = "finished"
	RunAborted  RunState = "aborted"
)

// RunStep is the live status of one step within a run.
type RunStep struct {
	Index  int        `json:"index"`
	Kind   TestKind   `json:"kind"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
	LogRef string     `json:"log_ref,omitempty"`
}

// TestRun is the transient state of one in-progress or completed
// execution. At most one run is active process-wide.
type TestRun struct {
	RunID     string    `json:"run_id"`
	ConfigID  string    `json:"config_id"`
	Name      string    `json:"name"`
	State     RunState  `json:"state"`
	Steps     []RunStep `json:"steps"`
	StartedAt time.Time `json:"started_at"`
}

// ProtocolStep is the immutable per-step record inside a stored protocol.
type ProtocolStep struct {
	Index  int        `json:"index"`
	Kind   TestKind   `json:"kind"`
	Status StepStatus `json:"status"`
	Log    string     `json:"log,omitempty"`
}

// TestProtocol is the durable result record of a finished or aborted run.
// It is written once and only ever removed as a whole unit.
type TestProtocol struct {
	ID         string         `json:"id"`
	ConfigID   string         `json:"config_id"`
	Name       string         `json:"name"`
	Aborted    bool           `json:"aborted"`
	FinishedAt time.Time      `json:"finished_at"`
	Steps      []ProtocolStep `json:"steps"`
}
