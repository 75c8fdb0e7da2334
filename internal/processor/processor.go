// Package processor runs one unit through a stage: cache lookup, prompt,
// backend call, sanitization, validation, then retry, fallback or failure.
//
// Translation never reverts to the English source. When its attempts are
// exhausted the unit's output is a failure marker carrying the unit index.
// Refinement falls back to its own input, unchanged.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/backend"
	"github.com/valpere/tradutor/internal/cache"
	"github.com/valpere/tradutor/internal/glossary"
	"github.com/valpere/tradutor/internal/placeholder"
	"github.com/valpere/tradutor/internal/postprocess"
	"github.com/valpere/tradutor/internal/prompt"
	"github.com/valpere/tradutor/internal/validator"
)

// ErrUnitFailed aborts a strict run on the first failed unit.
var ErrUnitFailed = errors.New("unit failed")

// Source tags reported in UnitResult.Source.
const (
	SourceModel       = "model"
	SourceCache       = "cache"
	SourceInput       = "input"
	SourcePlaceholder = "placeholder"
	SourcePassthrough = "passthrough"
)

// FlagBackendError is reported when at least one attempt failed in transport.
const FlagBackendError = "backend_error"

// Config holds the per-stage call and retry settings.
type Config struct {
	Stage       internal.Stage
	Model       string
	Temperature float64
	// TemperatureStep is added to the temperature on every retry, up to
	// MaxTemperature when that is positive.
	TemperatureStep float64
	MaxTemperature  float64
	MaxAttempts     int
	MaxTokens       int
	Timeout         time.Duration
	// Retry k (1-based) waits InitialBackoff × BackoffFactor^(k-1).
	InitialBackoff time.Duration
	BackoffFactor  float64
	Strict         bool
	// ProtectMarkup swaps code spans and HTML tags for [PHn] markers around
	// the call.
	ProtectMarkup bool
	// PreserveEdges sends the unit without its leading and trailing
	// whitespace and re-attaches it to the output, so that the joined
	// document keeps the source's paragraph layout.
	PreserveEdges bool
}

// DefaultConfig returns the stock settings for a stage.
func DefaultConfig(stage internal.Stage) Config {
	cfg := Config{
		Stage:           stage,
		Temperature:     0.15,
		TemperatureStep: 0.1,
		MaxTemperature:  1.0,
		MaxAttempts:     3,
		Timeout:         120 * time.Second,
		InitialBackoff:  1500 * time.Millisecond,
		BackoffFactor:   1.8,
		ProtectMarkup:   true,
		PreserveEdges:   true,
	}
	if stage == internal.StageRefine {
		cfg.Temperature = 0.30
		cfg.MaxAttempts = 2
	}
	return cfg
}

// Validator is the decision interface the processor depends on.
type Validator interface {
	Evaluate(in validator.Input, attemptsLeft int) validator.Verdict
}

// Glossary supplies prompt terms and the post-call enforce pass.
type Glossary interface {
	Lookup(text string) []glossary.Term
	Enforce(source, output string) (string, int)
}

// SleepFunc waits between attempts; it returns early when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Deps are the processor's collaborators. Only Generator is required.
type Deps struct {
	Generator backend.Generator
	Cache     cache.Store
	Validator Validator
	Prompts   prompt.Builder
	Glossary  Glossary
	Logger    *zap.Logger
	Sleep     SleepFunc
}

type Processor struct {
	cfg      Config
	gen      backend.Generator
	store    cache.Store
	check    Validator
	prompts  prompt.Builder
	glossary Glossary
	logger   *zap.Logger
	sleep    SleepFunc
}

func New(cfg Config, deps Deps) *Processor {
	p := &Processor{
		cfg:      cfg,
		gen:      deps.Generator,
		store:    deps.Cache,
		check:    deps.Validator,
		prompts:  deps.Prompts,
		glossary: deps.Glossary,
		logger:   deps.Logger,
		sleep:    deps.Sleep,
	}
	if p.cfg.MaxAttempts < 1 {
		p.cfg.MaxAttempts = 1
	}
	if p.store == nil {
		p.store = cache.Noop{}
	}
	if p.check == nil {
		p.check = validator.Noop{}
	}
	if p.prompts == nil {
		p.prompts = prompt.Default()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.sleep == nil {
		p.sleep = Sleep
	}
	return p
}

// Stage returns the stage this processor runs.
func (p *Processor) Stage() internal.Stage {
	return p.cfg.Stage
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the wait before retry k (1-based).
func (p *Processor) Backoff(retry int) time.Duration {
	if retry < 1 || p.cfg.InitialBackoff <= 0 {
		return 0
	}
	factor := p.cfg.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	return time.Duration(float64(p.cfg.InitialBackoff) * math.Pow(factor, float64(retry-1)))
}

// TemperatureFor returns the sampling temperature of attempt n (1-based).
func (p *Processor) TemperatureFor(attempt int) float64 {
	t := p.cfg.Temperature + p.cfg.TemperatureStep*float64(attempt-1)
	if p.cfg.MaxTemperature > 0 && t > p.cfg.MaxTemperature {
		t = p.cfg.MaxTemperature
	}
	return t
}

// exhausted is the stage's terminal decision once attempts run out.
func (p *Processor) exhausted() validator.Decision {
	if p.cfg.Stage == internal.StageRefine {
		return validator.Fallback
	}
	return validator.Fail
}

// Process runs unit through the state machine. lightContext is read-only
// continuity text; it is shown to the model but never part of the output.
//
// The only errors returned are context cancellation and, in strict mode,
// ErrUnitFailed. Backend and validation failures are resolved into the
// result's outcome.
func (p *Processor) Process(ctx context.Context, unit internal.Unit, lightContext string) (internal.UnitResult, error) {
	res := internal.UnitResult{
		Index:    unit.Index,
		UnitHash: unit.Hash,
	}
	log := p.logger.With(zap.String("stage", string(p.cfg.Stage)), zap.Int("unit", unit.Index))

	if strings.TrimSpace(unit.Text) == "" {
		res.Outcome = internal.OutcomeAccepted
		res.Output = unit.Text
		res.Source = SourcePassthrough
		return res, nil
	}

	var terms []glossary.Term
	if p.glossary != nil {
		terms = p.glossary.Lookup(unit.Text)
	}
	key := cache.Key{
		Stage:    p.cfg.Stage,
		UnitHash: unit.Hash,
		ParamHash: cache.ParamHash(cache.Params{
			TemplateVersion: prompt.TemplateVersion,
			Stage:           p.cfg.Stage,
			Backend:         p.gen.Name(),
			Model:           p.cfg.Model,
			Temperature:     p.cfg.Temperature,
			Terms:           glossary.Pairs(terms),
			Context:         lightContext,
		}),
	}

	entry, ok, err := p.store.Lookup(ctx, key)
	if err != nil {
		log.Warn("cache lookup failed", zap.Error(err))
	} else if ok {
		res.Outcome = internal.OutcomeCachedHit
		res.Output = entry.Output
		res.Source = SourceCache
		res.Flags = entry.Flags
		return res, nil
	}

	lead, core, trail := "", unit.Text, ""
	if p.cfg.PreserveEdges {
		lead, core, trail = splitEdges(unit.Text)
	}
	var markers []string
	if p.cfg.ProtectMarkup {
		core, markers = placeholder.Protect(core)
	}
	text := p.prompts.Build(prompt.Request{
		Stage:        p.cfg.Stage,
		Text:         core,
		Context:      lightContext,
		Glossary:     glossary.Format(terms),
		Placeholders: len(markers) > 0,
	})

	flags := newFlagSet()
	removed := make(map[string]int)
	decision := p.exhausted()

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := p.Backoff(attempt - 1)
			log.Debug("retrying unit", zap.Int("attempt", attempt), zap.Duration("backoff", wait))
			if err := p.sleep(ctx, wait); err != nil {
				return res, err
			}
		}
		res.Attempts = attempt
		attemptsLeft := p.cfg.MaxAttempts - attempt

		raw, err := p.gen.Generate(ctx, text, backend.Params{
			Model:       p.cfg.Model,
			Temperature: p.TemperatureFor(attempt),
			MaxTokens:   p.cfg.MaxTokens,
			Timeout:     p.cfg.Timeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			flags.add(FlagBackendError)
			log.Warn("backend call failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.cfg.MaxAttempts),
				zap.Error(err))
			continue
		}

		clean, report := postprocess.Sanitize(raw, core, p.cfg.Stage)
		for k, v := range report.Map() {
			removed[k] += v
		}
		if report.Total() > 0 {
			log.Debug("sanitizer removed artifacts", zap.Any("removed", report.Map()))
		}

		verdict := p.check.Evaluate(validator.Input{
			Source:    core,
			Candidate: clean,
			Stage:     p.cfg.Stage,
			Truncated: report.Truncated,
		}, attemptsLeft)
		for _, f := range verdict.FlagStrings() {
			flags.add(f)
		}
		switch verdict.Decision {
		case validator.Accept:
			out := placeholder.Restore(clean, markers)
			if p.glossary != nil {
				var n int
				if out, n = p.glossary.Enforce(unit.Text, out); n > 0 {
					log.Debug("glossary enforced", zap.Int("substitutions", n))
				}
			}
			res.Output = lead + out + trail
			res.Source = SourceModel
			res.Outcome = internal.OutcomeAccepted
			if attempt > 1 {
				res.Outcome = internal.OutcomeRetriedAccepted
			}
			res.Flags = flags.list()
			res.Removed = nonEmpty(removed)
			p.writeThrough(ctx, log, key, res)
			return res, nil
		case validator.Retry:
			log.Warn("output rejected",
				zap.Int("attempt", attempt),
				zap.Strings("flags", verdict.FlagStrings()))
			continue
		default:
			decision = verdict.Decision
		}
		break
	}

	res.Flags = flags.list()
	res.Removed = nonEmpty(removed)
	if decision == validator.Fallback {
		res.Outcome = internal.OutcomeFallback
		res.Output = unit.Text
		res.Source = SourceInput
		log.Warn("falling back to stage input", zap.Strings("flags", res.Flags))
		return res, nil
	}

	res.Outcome = internal.OutcomeFailed
	res.Output = lead + placeholder.Failure(unit.Index) + trail
	res.Source = SourcePlaceholder
	log.Error("unit failed", zap.Int("attempts", res.Attempts), zap.Strings("flags", res.Flags))
	if p.cfg.Strict {
		return res, fmt.Errorf("%w: %s unit %d after %d attempts", ErrUnitFailed, p.cfg.Stage, unit.Index, res.Attempts)
	}
	return res, nil
}

func (p *Processor) writeThrough(ctx context.Context, log *zap.Logger, key cache.Key, res internal.UnitResult) {
	if !res.Outcome.Cacheable() {
		return
	}
	err := p.store.Put(ctx, key, cache.Entry{
		Output:    res.Output,
		Flags:     res.Flags,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
}

// splitEdges separates leading and trailing whitespace from the body.
func splitEdges(s string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(s, unicode.IsSpace)
	lead = s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsSpace)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

type flagSet struct {
	seen  map[string]bool
	order []string
}

func newFlagSet() *flagSet {
	return &flagSet{seen: make(map[string]bool)}
}

func (f *flagSet) add(flag string) {
	if !f.seen[flag] {
		f.seen[flag] = true
		f.order = append(f.order, flag)
	}
}

func (f *flagSet) list() []string {
	if len(f.order) == 0 {
		return nil
	}
	return f.order
}

func nonEmpty(m map[string]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	return m
}
