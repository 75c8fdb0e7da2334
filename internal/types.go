package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
	"unicode/utf8"
)

// Stage identifies one of the two LLM passes applied to a document.
type Stage string

const (
	StageTranslate Stage = "translate"
	StageRefine    Stage = "refine"
)

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	return s == StageTranslate || s == StageRefine
}

// Outcome is the terminal state of a single unit.
type Outcome string

const (
	OutcomeResumed         Outcome = "resumed"
	OutcomeCachedHit       Outcome = "cached_hit"
	OutcomeAccepted        Outcome = "accepted"
	OutcomeRetriedAccepted Outcome = "retried_then_accepted"
	OutcomeFallback        Outcome = "fallback_to_original"
	OutcomeFailed          Outcome = "failed"
)

// Cacheable reports whether an outcome may be written to the cache store.
// Reverted and failed content is never cached.
func (o Outcome) Cacheable() bool {
	return o == OutcomeAccepted || o == OutcomeRetriedAccepted
}

// Document is the normalized input text plus its content hash.
type Document struct {
	Text string `json:"-"`
	Hash string `json:"doc_hash"`
}

// NewDocument hashes already-normalized text.
func NewDocument(normalized string) Document {
	return Document{Text: normalized, Hash: HashText(normalized)}
}

// Unit is an ordered, non-overlapping slice of a Document.
type Unit struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Hash      string `json:"unit_hash"`
	CharCount int    `json:"char_count"`
	// HardCut marks a unit produced by a cut with no paragraph or sentence
	// boundary available; translation quality around it is at risk.
	HardCut bool `json:"hard_cut,omitempty"`
}

// NewUnit builds a unit and fills in its derived fields.
func NewUnit(index int, text string, hardCut bool) Unit {
	return Unit{
		Index:     index,
		Text:      text,
		Hash:      HashText(text),
		CharCount: utf8.RuneCountInString(text),
		HardCut:   hardCut,
	}
}

// UnitResult is what the unit processor reports for one unit.
type UnitResult struct {
	Index    int            `json:"index"`
	UnitHash string         `json:"unit_hash"`
	Outcome  Outcome        `json:"outcome"`
	Output   string         `json:"output"`
	Source   string         `json:"source"`
	Attempts int            `json:"attempts"`
	Flags    []string       `json:"flags,omitempty"`
	Removed  map[string]int `json:"removed,omitempty"`
}

// RunSummary is the operator-facing report of one stage run.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	Stage         Stage         `json:"stage"`
	DocHash       string        `json:"doc_hash"`
	TotalUnits    int           `json:"total_units"`
	Resumed       int           `json:"resumed"`
	CacheHits     int           `json:"cache_hits"`
	Duplicates    int           `json:"duplicates_reused"`
	Retried       int           `json:"retried"`
	Fallbacks     int           `json:"fallbacks"`
	Failed        int           `json:"failed"`
	FailedIndices []int         `json:"failed_indices"`
	HardCuts      int           `json:"hard_cuts"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

// HashText returns the hex SHA-256 of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
