// Package signals manages the externally supplied signal lists that map
// information object addresses to human-readable labels.
package signals

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gridprobe/gridprobe/internal/model"
)

// ErrNotFound is returned when a named signal list does not exist.
var ErrNotFound = errors.New("signals: list not found")

// Signal is one data point definition from a signal list.
type Signal struct {
	IOA    int            `yaml:"ioa" json:"ioa"`
	Label  string         `yaml:"label" json:"label"`
	TypeID int            `yaml:"type_id" json:"type_id"`
	Value  string         `yaml:"value,omitempty" json:"value,omitempty"`
	// GeneralInterrogation marks points reported in response to a general
	// interrogation cycle.
	GeneralInterrogation bool `yaml:"general_interrogation,omitempty" json:"general_interrogation,omitempty"`
}

type listFile struct {
	Signals []Signal `yaml:"signals"`
}

// Dictionary resolves IOA values to labels for one signal list.
type Dictionary struct {
	signals []Signal
	labels  map[int]string
}

// Resolve looks up the label for an IOA. The sentinel address 0 and any
// unmapped address fall back to the raw label supplied by the decoder.
func (d *Dictionary) Resolve(ioa int, fallback string) string {
	if d == nil || ioa == 0 {
		return fallback
	}
	if label, ok := d.labels[ioa]; ok && label != "" {
		return label
	}
	return fallback
}

// Signals returns the list's data points in file order.
func (d *Dictionary) Signals() []Signal {
	if d == nil {
		return nil
	}
	return d.signals
}

// InterrogationSignals returns only the points flagged for general
// interrogation responses.
func (d *Dictionary) InterrogationSignals() []Signal {
	var out []Signal
	for _, sig := range d.Signals() {
		if sig.GeneralInterrogation {
			out = append(out, sig)
		}
	}
	return out
}

// Annotate resolves the event's label against the dictionary. Only I
// frames carry an IOA worth resolving.
func (d *Dictionary) Annotate(ev model.TelegramEvent) model.TelegramEvent {
	if ev.FrameKind == model.FrameI {
		ev.Label = d.Resolve(ev.IOA, ev.Label)
	}
	return ev
}

// ListInfo summarizes one stored signal list.
type ListInfo struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Manager stores signal lists as YAML files in a directory, one list per
// file, keyed by file name without extension.
type Manager struct {
	mu  sync.Mutex
	dir string
}

// NewManager creates the backing directory if needed.
func NewManager(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("signals: dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("signals: mkdir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// List enumerates the stored signal lists sorted by name.
func (m *Manager) List() ([]ListInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("signals: read dir: %w", err)
	}
	infos := []ListInfo{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yml")
		dict, err := m.loadLocked(name)
		if err != nil {
			continue
		}
		infos = append(infos, ListInfo{Name: name, Count: len(dict.signals)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Load reads one signal list by name.
func (m *Manager) Load(name string) (*Dictionary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(name)
}

// Save writes a signal list, replacing any previous content.
func (m *Manager) Save(name string, sigs []Signal) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("signals: name is empty")
	}
	data, err := yaml.Marshal(listFile{Signals: sigs})
	if err != nil {
		return fmt.Errorf("signals: marshal: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tmp := m.pathFor(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("signals: write: %w", err)
	}
	if err := os.Rename(tmp, m.pathFor(name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("signals: rename: %w", err)
	}
	return nil
}

// Delete removes one signal list. Deleting an absent list is an error so
// the caller can report NotFound.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.pathFor(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("signals: delete: %w", err)
	}
	return nil
}

func (m *Manager) loadLocked(name string) (*Dictionary, error) {
	data, err := os.ReadFile(m.pathFor(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("signals: read: %w", err)
	}

	var file listFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("signals: parse %s: %w", name, err)
	}
	labels := make(map[int]string, len(file.Signals))
	for _, sig := range file.Signals {
		if sig.IOA != 0 {
			labels[sig.IOA] = sig.Label
		}
	}
	return &Dictionary{signals: file.Signals, labels: labels}, nil
}

func (m *Manager) pathFor(name string) string {
	return filepath.Join(m.dir, filepath.Base(name)+".yml")
}
