// Package orchestrator drives one stage over a whole document: normalize,
// chunk, resume from the manifest, process every unit, and reassemble the
// outputs strictly by index.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/chunker"
	"github.com/valpere/tradutor/internal/dedupe"
	"github.com/valpere/tradutor/internal/manifest"
	"github.com/valpere/tradutor/internal/placeholder"
	"github.com/valpere/tradutor/internal/processor"
)

// Source tags added by the orchestrator on top of the processor's.
const (
	SourceManifest  = "manifest"
	SourceDuplicate = "duplicate"
)

// UnitProcessor is the per-unit state machine.
type UnitProcessor interface {
	Process(ctx context.Context, unit internal.Unit, lightContext string) (internal.UnitResult, error)
}

type OrchestratorConfig struct {
	Stage internal.Stage
	// ChunkChars is the unit size bound S, in runes.
	ChunkChars int
	// Sections splits on "##" headings before splitting by size.
	Sections bool
	// Context passes a tail of the previous unit's output as read-only
	// continuity text. It forces sequential execution.
	Context      bool
	ContextWords int
	// Parallel bounds concurrent units when Context is off.
	Parallel int
	// DedupeThreshold enables near-duplicate reuse within a run when > 0.
	DedupeThreshold float64
	// ManifestPath enables the resumable manifest when non-empty.
	ManifestPath string
	// Resume consults an existing manifest; otherwise it is overwritten.
	Resume bool
}

// Result is the outcome of one stage run.
type Result struct {
	Output  string
	Summary internal.RunSummary
	Units   []internal.Unit
	Results []internal.UnitResult
}

type Orchestrator struct {
	proc   UnitProcessor
	config OrchestratorConfig
	logger *zap.Logger
}

func New(proc UnitProcessor, config OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{proc: proc, config: config, logger: logger}
}

// Plan normalizes text and splits it into units.
func (o *Orchestrator) Plan(text string) (internal.Document, []internal.Unit) {
	doc := internal.NewDocument(chunker.Normalize(text))
	if o.config.Sections {
		return doc, chunker.SplitSections(doc.Text, o.config.ChunkChars)
	}
	return doc, chunker.Split(doc.Text, o.config.ChunkChars)
}

type run struct {
	*Orchestrator
	man   *manifest.Manifest
	dedup *dedupe.Index
	total int
}

// Execute runs the stage over text. On error the manifest still holds every
// unit finished so far.
func (o *Orchestrator) Execute(ctx context.Context, text string) (*Result, error) {
	started := time.Now()
	doc, units := o.Plan(text)

	summary := internal.RunSummary{
		RunID:      uuid.NewString(),
		Stage:      o.config.Stage,
		DocHash:    doc.Hash,
		TotalUnits: len(units),
		StartedAt:  started.UTC(),
	}
	log := o.logger.With(zap.String("run_id", summary.RunID), zap.String("stage", string(o.config.Stage)))

	for _, u := range units {
		if u.HardCut {
			summary.HardCuts++
			log.Warn("unit cut without a paragraph or sentence boundary",
				zap.Int("unit", u.Index), zap.Int("chars", u.CharCount))
		}
	}

	r := &run{Orchestrator: o, total: len(units)}
	if o.config.ManifestPath != "" {
		if o.config.Resume {
			m, err := manifest.Load(o.config.ManifestPath, o.config.Stage, doc.Hash, units, log)
			if err != nil {
				return nil, err
			}
			r.man = m
		} else {
			r.man = manifest.New(o.config.ManifestPath, o.config.Stage, doc.Hash, units, log)
		}
	}
	if o.config.DedupeThreshold > 0 {
		r.dedup = dedupe.New(o.config.DedupeThreshold)
	}

	log.Info("starting run",
		zap.String("doc_hash", doc.Hash),
		zap.Int("units", len(units)),
		zap.Int("chunk_chars", o.config.ChunkChars))

	results := make([]internal.UnitResult, len(units))
	var err error
	if o.config.Parallel > 1 && !o.config.Context {
		err = r.parallel(ctx, units, results)
	} else {
		err = r.sequential(ctx, units, results)
	}

	res := &Result{Units: units, Results: results}
	tally(&summary, results)
	summary.Duration = time.Since(started)
	res.Summary = summary
	if err != nil {
		return res, err
	}

	if r.man != nil {
		res.Output = r.man.Finalize()
	} else {
		res.Output = assemble(results)
	}
	log.Info("run finished",
		zap.Int("cache_hits", summary.CacheHits),
		zap.Int("resumed", summary.Resumed),
		zap.Int("retried", summary.Retried),
		zap.Int("fallbacks", summary.Fallbacks),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration))
	return res, nil
}

func (r *run) sequential(ctx context.Context, units []internal.Unit, results []internal.UnitResult) error {
	prev := ""
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		light := ""
		if r.config.Context {
			light = r.lightContext(prev)
		}
		res, err := r.step(ctx, u, light)
		if res.Outcome != "" {
			results[u.Index] = res
		}
		if err != nil {
			return err
		}
		prev = res.Output
	}
	return nil
}

func (r *run) parallel(ctx context.Context, units []internal.Unit, results []internal.UnitResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Parallel)
	var mu sync.Mutex
	for _, u := range units {
		g.Go(func() error {
			res, err := r.step(gctx, u, "")
			if res.Outcome != "" {
				mu.Lock()
				results[u.Index] = res
				mu.Unlock()
			}
			return err
		})
	}
	return g.Wait()
}

// lightContext returns the continuity text taken from the previous output.
func (r *run) lightContext(prev string) string {
	if strings.TrimSpace(prev) == "" || placeholder.IsFailure(prev) {
		return ""
	}
	if s := chunker.LastSentence(prev); s != "" {
		return chunker.ExtractContext(s, r.config.ContextWords)
	}
	return chunker.ExtractContext(prev, r.config.ContextWords)
}

// step resolves one unit: manifest fast-path, in-run duplicate, processor.
// Finished units are recorded in the manifest.
func (r *run) step(ctx context.Context, u internal.Unit, light string) (internal.UnitResult, error) {
	log := r.logger.With(zap.Int("unit", u.Index), zap.Int("total", r.total))

	if r.man != nil {
		if out, ok := r.man.Done(u.Index, u.Hash); ok {
			r.remember(u, internal.UnitResult{Outcome: internal.OutcomeAccepted, Output: out})
			log.Debug("unit resumed from manifest")
			return internal.UnitResult{
				Index:    u.Index,
				UnitHash: u.Hash,
				Outcome:  internal.OutcomeResumed,
				Output:   out,
				Source:   SourceManifest,
			}, nil
		}
	}

	var res internal.UnitResult
	reused := false
	if r.dedup != nil {
		if out, sim, ok := r.dedup.Match(u.Text); ok {
			lead, trail := edges(u.Text)
			res = internal.UnitResult{
				Index:    u.Index,
				UnitHash: u.Hash,
				Outcome:  internal.OutcomeAccepted,
				Output:   lead + strings.TrimSpace(out) + trail,
				Source:   SourceDuplicate,
			}
			reused = true
			log.Debug("reusing output of a near-duplicate unit", zap.Float64("similarity", sim))
		}
	}

	if !reused {
		var err error
		res, err = r.proc.Process(ctx, u, light)
		if err != nil {
			if errors.Is(err, processor.ErrUnitFailed) && r.man != nil {
				if rerr := r.man.Record(res); rerr != nil {
					log.Error("failed to record manifest", zap.Error(rerr))
				}
			}
			return res, err
		}
	}

	r.remember(u, res)
	if r.man != nil {
		if err := r.man.Record(res); err != nil {
			return res, fmt.Errorf("failed to record unit %d: %w", u.Index, err)
		}
	}

	fields := []zap.Field{zap.String("outcome", string(res.Outcome)), zap.Int("attempts", res.Attempts)}
	if len(res.Flags) > 0 {
		fields = append(fields, zap.Strings("flags", res.Flags))
	}
	log.Info("unit done", fields...)
	return res, nil
}

func (r *run) remember(u internal.Unit, res internal.UnitResult) {
	if r.dedup == nil {
		return
	}
	switch res.Outcome {
	case internal.OutcomeAccepted, internal.OutcomeRetriedAccepted, internal.OutcomeCachedHit:
		r.dedup.Add(u.Text, res.Output)
	}
}

func edges(s string) (lead, trail string) {
	body := strings.TrimLeftFunc(s, unicode.IsSpace)
	lead = s[:len(s)-len(body)]
	trimmed := strings.TrimRightFunc(body, unicode.IsSpace)
	return lead, body[len(trimmed):]
}

func assemble(results []internal.UnitResult) string {
	var b strings.Builder
	for i, res := range results {
		if res.Outcome == "" {
			b.WriteString(placeholder.Gap(i))
			continue
		}
		b.WriteString(res.Output)
	}
	return b.String()
}

func tally(s *internal.RunSummary, results []internal.UnitResult) {
	s.FailedIndices = []int{}
	for _, res := range results {
		switch res.Outcome {
		case internal.OutcomeResumed:
			s.Resumed++
		case internal.OutcomeCachedHit:
			s.CacheHits++
		case internal.OutcomeRetriedAccepted:
			s.Retried++
		case internal.OutcomeFallback:
			s.Fallbacks++
		case internal.OutcomeFailed:
			s.Failed++
			s.FailedIndices = append(s.FailedIndices, res.Index)
		}
		if res.Source == SourceDuplicate {
			s.Duplicates++
		}
	}
}

// WriteReport writes the run summary as indented JSON.
func WriteReport(path string, summary internal.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
