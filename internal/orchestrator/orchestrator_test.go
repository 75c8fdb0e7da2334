package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/backend"
	"github.com/valpere/tradutor/internal/cache"
	"github.com/valpere/tradutor/internal/manifest"
	"github.com/valpere/tradutor/internal/placeholder"
	"github.com/valpere/tradutor/internal/processor"
	"github.com/valpere/tradutor/internal/prompt"
	"github.com/valpere/tradutor/internal/validator"
)

// mockGenerator prefixes the prompt with a tag unless respond overrides it.
type mockGenerator struct {
	respond   func(ctx context.Context, prompt string) (string, error)
	callCount atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func (m *mockGenerator) Name() string { return "mock" }

func (m *mockGenerator) Generate(ctx context.Context, prompt string, _ backend.Params) (string, error) {
	m.callCount.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.respond != nil {
		return m.respond(ctx, prompt)
	}
	return "[TRANSLATED]" + prompt, nil
}

func identity(r prompt.Request) string { return r.Text }

func newProcessor(gen backend.Generator, mutate func(*processor.Config, *processor.Deps)) *processor.Processor {
	cfg := processor.DefaultConfig(internal.StageTranslate)
	cfg.Model = "mock-model"
	deps := processor.Deps{
		Generator: gen,
		Cache:     cache.Noop{},
		Validator: validator.New(validator.DefaultConfig(), nil),
		Prompts:   prompt.Func(identity),
		Sleep:     func(context.Context, time.Duration) error { return nil },
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	return processor.New(cfg, deps)
}

func TestExecute_TwoParagraphScenario(t *testing.T) {
	gen := &mockGenerator{}
	proc := newProcessor(gen, func(c *processor.Config, d *processor.Deps) {
		c.PreserveEdges = false
		d.Validator = validator.Noop{}
	})
	o := New(proc, OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 10}, nil)

	res, err := o.Execute(context.Background(), "Para one. Para two.")
	require.NoError(t, err)

	require.Len(t, res.Units, 2)
	assert.Equal(t, "Para one.", res.Units[0].Text)
	assert.Equal(t, " Para two.", res.Units[1].Text)
	assert.Equal(t, "[TRANSLATED]Para one.[TRANSLATED] Para two.", res.Output)
	assert.Equal(t, 2, res.Summary.TotalUnits)
	assert.Equal(t, 0, res.Summary.Failed)
	assert.NotEmpty(t, res.Summary.RunID)
}

const threeParagraphs = "Alpha.\n\nBeta.\n\nGamma."

func TestExecute_EmptyOutputFailsUnitWithMarker(t *testing.T) {
	gen := &mockGenerator{respond: func(_ context.Context, p string) (string, error) {
		if strings.Contains(p, "Gamma") {
			return "", nil
		}
		return "[T]" + p, nil
	}}
	o := New(newProcessor(gen, nil), OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 8}, nil)

	res, err := o.Execute(context.Background(), threeParagraphs)
	require.NoError(t, err)
	require.Len(t, res.Units, 3)

	assert.Equal(t, 1, res.Summary.Failed)
	assert.Equal(t, []int{2}, res.Summary.FailedIndices)
	assert.Equal(t, int32(5), gen.callCount.Load(), "one call each for units 0 and 1, three for unit 2")
	assert.Equal(t, []int{2}, placeholder.UnitMarkers(res.Output))
	assert.Equal(t, "[T]Alpha.\n\n[T]Beta.\n\n"+placeholder.Failure(2), res.Output)
	assert.NotContains(t, res.Output, "Gamma")
}

func TestExecute_TruncatedOutputFailsUnitWithMarker(t *testing.T) {
	gen := &mockGenerator{respond: func(_ context.Context, p string) (string, error) {
		if strings.Contains(p, "Beta") {
			return "### TEXTO_TRADUZIDO_INICIO\n[T]Be", nil
		}
		return "[T]" + p, nil
	}}
	o := New(newProcessor(gen, nil), OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 8}, nil)

	res, err := o.Execute(context.Background(), threeParagraphs)
	require.NoError(t, err)
	require.Len(t, res.Units, 3)

	assert.Equal(t, 1, res.Summary.Failed)
	assert.Equal(t, []int{1}, res.Summary.FailedIndices)
	assert.Contains(t, res.Results[1].Flags, string(validator.FlagTruncated))
	assert.Equal(t, "[T]Alpha.\n\n"+placeholder.Failure(1)+"\n\n[T]Gamma.", res.Output)
	assert.NotContains(t, res.Output, "[T]Be")
}

func TestExecute_StrictStopsAtFailure(t *testing.T) {
	gen := &mockGenerator{respond: func(_ context.Context, p string) (string, error) {
		if strings.Contains(p, "Beta") {
			return "", nil
		}
		return "[T]" + p, nil
	}}
	proc := newProcessor(gen, func(c *processor.Config, _ *processor.Deps) { c.Strict = true })
	path := filepath.Join(t.TempDir(), "m.json")
	o := New(proc, OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 8, ManifestPath: path}, nil)

	res, err := o.Execute(context.Background(), threeParagraphs)
	assert.ErrorIs(t, err, processor.ErrUnitFailed)
	assert.Equal(t, []int{1}, res.Summary.FailedIndices)

	st, rerr := manifest.Read(path, "")
	require.NoError(t, rerr)
	assert.Equal(t, []int{0}, st.CompletedIndices)
	assert.Equal(t, []int{1}, st.FailedIndices)
}

func TestExecute_ResumeSkipsFinishedUnits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc_translate_manifest.json")
	cfg := OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 8, ManifestPath: path, Resume: true}

	// Reference output of an uninterrupted run.
	clean, err := New(newProcessor(&mockGenerator{}, nil), OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 8}, nil).
		Execute(context.Background(), threeParagraphs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	interrupted := &mockGenerator{respond: func(ctx context.Context, p string) (string, error) {
		if strings.Contains(p, "Gamma") {
			cancel()
			return "", ctx.Err()
		}
		return "[TRANSLATED]" + p, nil
	}}
	_, err = New(newProcessor(interrupted, nil), cfg, nil).Execute(ctx, threeParagraphs)
	require.ErrorIs(t, err, context.Canceled)

	st, err := manifest.Read(path, "")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, st.CompletedIndices)

	resumed := &mockGenerator{}
	res, err := New(newProcessor(resumed, nil), cfg, nil).Execute(context.Background(), threeParagraphs)
	require.NoError(t, err)
	assert.Equal(t, int32(1), resumed.callCount.Load())
	assert.Equal(t, 2, res.Summary.Resumed)
	assert.Equal(t, clean.Output, res.Output)
}

func TestExecute_WithoutResumeReprocesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	cfg := OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 8, ManifestPath: path}

	_, err := New(newProcessor(&mockGenerator{}, nil), cfg, nil).Execute(context.Background(), threeParagraphs)
	require.NoError(t, err)

	again := &mockGenerator{}
	res, err := New(newProcessor(again, nil), cfg, nil).Execute(context.Background(), threeParagraphs)
	require.NoError(t, err)
	assert.Equal(t, int32(3), again.callCount.Load())
	assert.Equal(t, 0, res.Summary.Resumed)
}

func TestExecute_ParallelKeepsOrder(t *testing.T) {
	gen := &mockGenerator{}
	o := New(newProcessor(gen, nil), OrchestratorConfig{
		Stage:      internal.StageTranslate,
		ChunkChars: 8,
		Parallel:   3,
	}, nil)

	res, err := o.Execute(context.Background(), threeParagraphs)
	require.NoError(t, err)
	assert.Equal(t, "[TRANSLATED]Alpha.\n\n[TRANSLATED]Beta.\n\n[TRANSLATED]Gamma.", res.Output)
	assert.Equal(t, int32(3), gen.callCount.Load())
}

func TestExecute_LightContextFromPreviousOutput(t *testing.T) {
	gen := &mockGenerator{respond: func(_ context.Context, p string) (string, error) {
		_, text, _ := strings.Cut(p, "|")
		return "[T]" + text, nil
	}}
	proc := newProcessor(gen, func(_ *processor.Config, d *processor.Deps) {
		d.Prompts = prompt.Func(func(r prompt.Request) string { return r.Context + "|" + r.Text })
	})
	o := New(proc, OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 8, Context: true, ContextWords: 25}, nil)

	res, err := o.Execute(context.Background(), threeParagraphs)
	require.NoError(t, err)
	require.Len(t, gen.prompts, 3)
	assert.Equal(t, "|Alpha.", gen.prompts[0])
	assert.Equal(t, "[T]Alpha.|Beta.", gen.prompts[1])
	assert.Equal(t, "[T]Beta.|Gamma.", gen.prompts[2])
	assert.Equal(t, "[T]Alpha.\n\n[T]Beta.\n\n[T]Gamma.", res.Output)
}

func TestExecute_ReusesNearDuplicates(t *testing.T) {
	gen := &mockGenerator{}
	o := New(newProcessor(gen, nil), OrchestratorConfig{
		Stage:           internal.StageTranslate,
		ChunkChars:      17,
		DedupeThreshold: 0.95,
	}, nil)

	res, err := o.Execute(context.Background(), "Same line here.\n\nSame line here.\n\nOther.")
	require.NoError(t, err)
	require.Len(t, res.Units, 3)
	assert.Equal(t, int32(2), gen.callCount.Load())
	assert.Equal(t, 1, res.Summary.Duplicates)
	assert.Equal(t, SourceDuplicate, res.Results[1].Source)
	assert.Equal(t, "[TRANSLATED]Same line here.\n\n[TRANSLATED]Same line here.\n\n[TRANSLATED]Other.", res.Output)
}

func TestExecute_HardCutsCounted(t *testing.T) {
	o := New(newProcessor(&mockGenerator{}, nil), OrchestratorConfig{Stage: internal.StageTranslate, ChunkChars: 5}, nil)
	res, err := o.Execute(context.Background(), "abcdefghijkl")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.HardCuts)
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "livro_translate_report.json")
	require.NoError(t, WriteReport(path, internal.RunSummary{RunID: "r1", Stage: internal.StageTranslate, FailedIndices: []int{3}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "r1", got["run_id"])
	assert.Equal(t, []any{float64(3)}, got["failed_indices"])
}
