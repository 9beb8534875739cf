package report

import (
	"errors"
	"testing"
	"time"

	"github.com/gridprobe/gridprobe/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleProtocol(id string, aborted bool, at time.Time) model.TestProtocol {
	return model.TestProtocol{
		ID:         id,
		ConfigID:   "cfg-1",
		Name:       "Abnahmetest",
		Aborted:    aborted,
		FinishedAt: at,
		Steps: []model.ProtocolStep{
			{Index: 1, Kind: model.TestKindConnectionCheck, Status: model.StepSuccess, Log: "both sides up"},
			{Index: 2, Kind: model.TestKindInterrogation, Status: model.StepFailed, Log: "timeout waiting for END"},
		},
	}
}

func TestWriteAndGet(t *testing.T) {
	s := newTestStore(t)

	written, err := s.Write(sampleProtocol("p-1", false, time.Now()))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if written.ID != "p-1" {
		t.Fatalf("Write id=%q", written.ID)
	}

	got, err := s.Get("p-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Abnahmetest" || got.Aborted || got.ConfigID != "cfg-1" {
		t.Fatalf("Get=%+v", got)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(got.Steps))
	}
	if got.Steps[0].Status != model.StepSuccess || got.Steps[1].Status != model.StepFailed {
		t.Fatalf("step statuses=%+v", got.Steps)
	}
	if got.Steps[1].Log != "timeout waiting for END" {
		t.Fatalf("step 2 log=%q", got.Steps[1].Log)
	}
}

func TestWriteAssignsIDWhenMissing(t *testing.T) {
	s := newTestStore(t)

	p := sampleProtocol("", true, time.Time{})
	written, err := s.Write(p)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if written.ID == "" {
		t.Fatal("Write left id empty")
	}
	if written.FinishedAt.IsZero() {
		t.Fatal("Write left finished_at zero")
	}

	got, err := s.Get(written.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Aborted {
		t.Fatal("aborted flag lost")
	}
}

func TestListNewestFirstWithoutLogs(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Truncate(time.Second)
	if _, err := s.Write(sampleProtocol("old", false, base.Add(-time.Hour))); err != nil {
		t.Fatalf("Write old: %v", err)
	}
	if _, err := s.Write(sampleProtocol("new", false, base)); err != nil {
		t.Fatalf("Write new: %v", err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List=%d protocols, want 2", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "old" {
		t.Fatalf("List order=[%s %s], want [new old]", list[0].ID, list[1].ID)
	}
	if len(list[0].Steps) != 0 {
		t.Fatal("List included step rows")
	}
}

func TestStepLog(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write(sampleProtocol("p-1", false, time.Now())); err != nil {
		t.Fatalf("Write: %v", err)
	}

	log, err := s.StepLog("p-1", 1)
	if err != nil {
		t.Fatalf("StepLog: %v", err)
	}
	if log != "both sides up" {
		t.Fatalf("StepLog=%q", log)
	}

	if _, err := s.StepLog("p-1", 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StepLog missing index err=%v, want ErrNotFound", err)
	}
	if _, err := s.StepLog("nope", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StepLog missing protocol err=%v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesProtocolAndSteps(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write(sampleProtocol("p-1", false, time.Now())); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.Delete("p-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("p-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get deleted err=%v, want ErrNotFound", err)
	}
	if _, err := s.StepLog("p-1", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("StepLog after delete err=%v, want ErrNotFound", err)
	}

	if err := s.Delete("p-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err=%v, want ErrNotFound", err)
	}
}

func TestGetUnknownID(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get err=%v, want ErrNotFound", err)
	}
}
