// Package manifest records per-unit progress of one stage run over one
// document, so an interrupted run can resume without reprocessing finished
// units.
//
// The manifest is keyed by the document hash and rewritten atomically after
// every unit. Entries whose index is out of range or whose unit hash no
// longer matches are dropped on load and reprocessed.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/placeholder"
)

const Version = 1

// ErrStale is returned by Read when a manifest belongs to another document.
var ErrStale = errors.New("manifest belongs to a different document")

// State is the persisted form.
type State struct {
	Version          int                      `json:"version"`
	Stage            internal.Stage           `json:"stage"`
	DocHash          string                   `json:"doc_hash"`
	TotalUnits       int                      `json:"total_units"`
	CompletedIndices []int                    `json:"completed_indices"`
	FailedIndices    []int                    `json:"failed_indices"`
	UnitHashes       map[int]string           `json:"unit_hashes"`
	UnitOutputs      map[int]string           `json:"unit_outputs"`
	Outcomes         map[int]internal.Outcome `json:"outcomes"`
	Timestamp        time.Time                `json:"timestamp"`
}

const schemaText = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["doc_hash", "total_units", "completed_indices", "unit_hashes", "unit_outputs"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "stage": {"enum": ["translate", "refine"]},
    "doc_hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "total_units": {"type": "integer", "minimum": 0},
    "completed_indices": {"type": ["array", "null"], "items": {"type": "integer", "minimum": 0}},
    "failed_indices": {"type": ["array", "null"], "items": {"type": "integer", "minimum": 0}},
    "unit_hashes": {"type": ["object", "null"], "additionalProperties": false,
      "patternProperties": {"^[0-9]+$": {"type": "string"}}},
    "unit_outputs": {"type": ["object", "null"], "additionalProperties": false,
      "patternProperties": {"^[0-9]+$": {"type": "string"}}},
    "outcomes": {"type": ["object", "null"], "additionalProperties": false,
      "patternProperties": {"^[0-9]+$": {"type": "string"}}},
    "timestamp": {"type": "string"}
  }
}`

var schema = jsonschema.MustCompileString("manifest.schema.json", schemaText)

// Manifest is safe for concurrent Record calls.
type Manifest struct {
	mu     sync.Mutex
	path   string
	state  State
	logger *zap.Logger
}

// PathFor returns the manifest path of a document stem and stage.
func PathFor(dir, stem string, stage internal.Stage) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_manifest.json", stem, stage))
}

// Read decodes and validates the manifest at path. When docHash is non-empty
// and differs from the stored one, the state is returned with ErrStale.
func Read(path, docHash string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return State{}, fmt.Errorf("invalid manifest: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if docHash != "" && st.DocHash != docHash {
		return st, ErrStale
	}
	return st, nil
}

// New returns an empty manifest for units that overwrites whatever is at
// path on the first Record.
func New(path string, stage internal.Stage, docHash string, units []internal.Unit, logger *zap.Logger) *Manifest {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manifest{path: path, logger: logger}
	m.state = State{Version: Version, Stage: stage, DocHash: docHash, TotalUnits: len(units)}
	m.dropStale(units)
	return m
}

// Load opens the manifest at path for a run over units. A missing, corrupt
// or foreign manifest starts empty; only an unreadable file is an error.
func Load(path string, stage internal.Stage, docHash string, units []internal.Unit, logger *zap.Logger) (*Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manifest{path: path, logger: logger}

	st, err := Read(path, docHash)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		st = State{}
	case errors.Is(err, ErrStale):
		logger.Info("manifest belongs to another document, starting fresh",
			zap.String("path", path), zap.String("stored_doc_hash", st.DocHash))
		st = State{}
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	default:
		logger.Warn("ignoring unusable manifest", zap.String("path", path), zap.Error(err))
		st = State{}
	}
	if st.Stage != "" && st.Stage != stage {
		logger.Info("manifest belongs to another stage, starting fresh", zap.String("path", path))
		st = State{}
	}

	st.Version = Version
	st.Stage = stage
	st.DocHash = docHash
	st.TotalUnits = len(units)
	m.state = st
	if dropped := m.dropStale(units); dropped > 0 {
		logger.Info("dropped stale manifest entries", zap.Int("count", dropped))
	}
	return m, nil
}

// dropStale removes entries for indices out of range, with a different unit
// hash, or marked completed without output.
func (m *Manifest) dropStale(units []internal.Unit) int {
	st := &m.state
	if st.UnitHashes == nil {
		st.UnitHashes = make(map[int]string)
	}
	if st.UnitOutputs == nil {
		st.UnitOutputs = make(map[int]string)
	}
	if st.Outcomes == nil {
		st.Outcomes = make(map[int]internal.Outcome)
	}

	stale := func(i int) bool {
		return i < 0 || i >= len(units) || st.UnitHashes[i] != units[i].Hash
	}
	dropped := 0
	forget := func(i int) {
		delete(st.UnitHashes, i)
		delete(st.UnitOutputs, i)
		delete(st.Outcomes, i)
		dropped++
	}

	var completed []int
	for _, i := range st.CompletedIndices {
		if stale(i) || st.UnitOutputs[i] == "" {
			forget(i)
			continue
		}
		completed = append(completed, i)
	}
	var failed []int
	for _, i := range st.FailedIndices {
		if stale(i) {
			forget(i)
			continue
		}
		failed = append(failed, i)
	}
	st.CompletedIndices = sortedUnique(completed)
	st.FailedIndices = sortedUnique(failed)

	// Orphaned map entries no index list refers to.
	for i := range st.UnitHashes {
		if !slices.Contains(st.CompletedIndices, i) && !slices.Contains(st.FailedIndices, i) {
			delete(st.UnitHashes, i)
			delete(st.UnitOutputs, i)
			delete(st.Outcomes, i)
		}
	}
	return dropped
}

// Done returns the recorded output of a completed unit whose hash matches.
// Failed units are never done; they are retried on resume.
func (m *Manifest) Done(index int, unitHash string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.state.CompletedIndices, index) || m.state.UnitHashes[index] != unitHash {
		return "", false
	}
	out := m.state.UnitOutputs[index]
	return out, out != ""
}

// Record stores a unit result and persists the manifest.
func (m *Manifest) Record(res internal.UnitResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &m.state
	st.CompletedIndices = slices.DeleteFunc(st.CompletedIndices, func(i int) bool { return i == res.Index })
	st.FailedIndices = slices.DeleteFunc(st.FailedIndices, func(i int) bool { return i == res.Index })
	if res.Outcome == internal.OutcomeFailed {
		st.FailedIndices = sortedUnique(append(st.FailedIndices, res.Index))
	} else {
		st.CompletedIndices = sortedUnique(append(st.CompletedIndices, res.Index))
	}
	st.UnitHashes[res.Index] = res.UnitHash
	st.UnitOutputs[res.Index] = res.Output
	st.Outcomes[res.Index] = res.Outcome
	st.Timestamp = time.Now().UTC()

	return m.save()
}

// Completed returns the number of completed units.
func (m *Manifest) Completed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.CompletedIndices)
}

// Failed returns the failed unit indices in ascending order.
func (m *Manifest) Failed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.FailedIndices)
}

// Finalize concatenates the recorded outputs strictly by index. Indices with
// no output become gap markers.
func (m *Manifest) Finalize() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	for i := 0; i < m.state.TotalUnits; i++ {
		if out, ok := m.state.UnitOutputs[i]; ok && out != "" {
			b.WriteString(out)
			continue
		}
		b.WriteString(placeholder.Gap(i))
	}
	return b.String()
}

// Snapshot returns a copy of the current state.
func (m *Manifest) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.CompletedIndices = slices.Clone(st.CompletedIndices)
	st.FailedIndices = slices.Clone(st.FailedIndices)
	return st
}

// Path returns where the manifest is persisted.
func (m *Manifest) Path() string {
	return m.path
}

// Save persists the manifest without recording anything.
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

func (m *Manifest) save() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}
	// renameio writes a temp file in the same directory, fsyncs and renames.
	if err := renameio.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Delete removes the manifest at path. A missing file is not an error.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func sortedUnique(xs []int) []int {
	if len(xs) == 0 {
		return []int{}
	}
	slices.Sort(xs)
	return slices.Compact(xs)
}
