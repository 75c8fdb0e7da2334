// Package cache defines the per-unit result cache used by both stages.
//
// Entries are keyed by (stage, unit hash, parameter hash). The parameter hash
// covers everything besides the unit text that shapes the model output, so
// changing the model, the prompt template or the injected glossary never
// serves a stale entry. Writes are last-write-wins; there is no cross-key
// locking.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valpere/tradutor/internal"
)

// Key identifies one cached unit result.
type Key struct {
	Stage     internal.Stage
	UnitHash  string
	ParamHash string
}

// Entry is a cached, validated unit output.
type Entry struct {
	Output    string
	Flags     []string
	CreatedAt time.Time
}

// Store is the narrow interface the unit processor depends on.
type Store interface {
	Lookup(ctx context.Context, key Key) (Entry, bool, error)
	Put(ctx context.Context, key Key, entry Entry) error
}

// Params are the call parameters folded into the parameter hash.
type Params struct {
	TemplateVersion string
	Stage           internal.Stage
	Backend         string
	Model           string
	// Temperature is the stage's base temperature, never the raised
	// per-attempt value, so lookup and write-through agree on the key.
	Temperature float64
	// Terms are the glossary pairs actually injected into the prompt, as
	// "source=target" strings. Order does not matter.
	Terms   []string
	Context string
}

// ParamHash returns a stable hex digest of p.
func ParamHash(p Params) string {
	terms := append([]string(nil), p.Terms...)
	sort.Strings(terms)

	h := sha256.New()
	for _, field := range []string{
		p.TemplateVersion,
		string(p.Stage),
		p.Backend,
		p.Model,
		strconv.FormatFloat(p.Temperature, 'f', 3, 64),
		strings.Join(terms, "\x1e"),
		p.Context,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[Key]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]Entry)}
}

func (m *Memory) Lookup(_ context.Context, key Key) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *Memory) Put(_ context.Context, key Key, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries[key] = entry
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Noop never hits and discards writes; it backs --no-cache.
type Noop struct{}

func (Noop) Lookup(context.Context, Key) (Entry, bool, error) { return Entry{}, false, nil }
func (Noop) Put(context.Context, Key, Entry) error            { return nil }
