/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/backend"
	"github.com/valpere/tradutor/internal/cache"
	"github.com/valpere/tradutor/internal/detector"
	"github.com/valpere/tradutor/internal/extract"
	"github.com/valpere/tradutor/internal/glossary"
	"github.com/valpere/tradutor/internal/manifest"
	"github.com/valpere/tradutor/internal/markdown"
	"github.com/valpere/tradutor/internal/orchestrator"
	"github.com/valpere/tradutor/internal/processor"
	"github.com/valpere/tradutor/internal/prompt"
	"github.com/valpere/tradutor/internal/store"
	"github.com/valpere/tradutor/internal/validator"
)

// stageOptions are the per-run flags shared by translate and refine.
type stageOptions struct {
	output        string
	resume        bool
	strict        bool
	noContext     bool
	noCache       bool
	parallel      int
	model         string
	refineModel   string
	glossaryFiles []string
	html          bool
	dumpChunks    bool
	// detector is shared by every stage of one command run.
	detector *detector.Detector
}

// stageModel returns the model override for stage: --model for translate,
// --refine-model for refine. Empty means the configured model.
func (o stageOptions) stageModel(stage internal.Stage) string {
	if stage == internal.StageRefine {
		return o.refineModel
	}
	return o.model
}

// docStem returns the base name of a document without extension or the
// "_pt" suffix of a translated file.
func docStem(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.TrimSuffix(stem, "_pt_refinado")
	return strings.TrimSuffix(stem, "_pt")
}

func stageOutputPath(stem string, stage internal.Stage) string {
	if stage == internal.StageRefine {
		return filepath.Join(appConfig.OutputDir, stem+"_pt_refinado.md")
	}
	return filepath.Join(appConfig.OutputDir, stem+"_pt.md")
}

func reportPath(stem string, stage internal.Stage) string {
	return filepath.Join(appConfig.OutputDir, fmt.Sprintf("%s_%s_report.json", stem, stage))
}

func openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(appConfig.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.New(appConfig.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// loadGlossary merges the database glossary with glossary files; file terms
// override database terms on the same key.
func loadGlossary(ctx context.Context, db *store.Store, files []string) (*glossary.Glossary, error) {
	var terms []glossary.Term
	if db != nil {
		entries, err := db.ListGlossaryTerms(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read glossary: %w", err)
		}
		for _, e := range entries {
			terms = append(terms, glossary.Term{Source: e.SourceTerm, Target: e.TargetTerm, Enforce: e.Enforce})
		}
	}
	for _, f := range files {
		fileTerms, err := glossary.LoadFile(f)
		if err != nil {
			return nil, err
		}
		terms = append(terms, fileTerms...)
	}
	if len(terms) == 0 {
		return nil, nil
	}
	return glossary.New(terms, appConfig.Glossary.Limit, appConfig.Glossary.FallbackLimit), nil
}

// loadDocument reads and preprocesses the input document.
func loadDocument(path string) (string, error) {
	text, rep, err := extract.Document(path)
	if err != nil {
		return "", err
	}
	logger.Info("document loaded",
		zap.String("input", path),
		zap.String("kind", extract.Kind(path)),
		zap.Int("chars", len([]rune(text))))
	if removed := rep.Map(); len(removed) > 0 {
		logger.Info("document preprocessed", zap.Any("changes", removed))
	}
	return text, nil
}

// runStage runs one stage over text and writes its output and report.
func runStage(ctx context.Context, stage internal.Stage, stem, text string, opts stageOptions) (*orchestrator.Result, string, error) {
	gen, err := backend.New(appConfig.Backend)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(appConfig.OutputDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create output directory: %w", err)
	}

	db, err := openStore()
	if err != nil {
		return nil, "", err
	}
	defer db.Close()

	var unitCache cache.Store = db
	if opts.noCache {
		unitCache = cache.Noop{}
	}
	if opts.detector == nil {
		opts.detector = detector.New()
	}

	deps := processor.Deps{
		Generator: gen,
		Cache:     unitCache,
		Validator: validator.New(appConfig.Validator, opts.detector),
		Prompts:   prompt.Default(),
		Logger:    logger,
	}
	files := append(append([]string{}, appConfig.Glossary.Files...), opts.glossaryFiles...)
	gl, err := loadGlossary(ctx, db, files)
	if err != nil {
		return nil, "", err
	}
	if gl != nil {
		deps.Glossary = gl
		logger.Info("glossary loaded", zap.Int("terms", gl.Len()))
	}

	pc := appConfig.Processor(stage, opts.strict)
	if model := opts.stageModel(stage); model != "" {
		pc.Model = model
	}

	parallel := appConfig.Parallel
	if opts.parallel > 0 {
		parallel = opts.parallel
	}
	useContext := appConfig.Context && !opts.noContext
	if parallel > 1 && useContext {
		logger.Warn("light context requires sequential execution; ignoring --parallel", zap.Int("parallel", parallel))
	}

	orch := orchestrator.New(processor.New(pc, deps), orchestrator.OrchestratorConfig{
		Stage:           stage,
		ChunkChars:      appConfig.Stage(stage).ChunkChars,
		Sections:        stage == internal.StageRefine,
		Context:         useContext,
		ContextWords:    appConfig.ContextWords,
		Parallel:        parallel,
		DedupeThreshold: appConfig.DedupeThreshold,
		ManifestPath:    manifest.PathFor(appConfig.OutputDir, stem, stage),
		Resume:          opts.resume,
	}, logger)

	result, err := orch.Execute(ctx, text)
	if result != nil {
		if rerr := orchestrator.WriteReport(reportPath(stem, stage), result.Summary); rerr != nil {
			logger.Warn("failed to write report", zap.Error(rerr))
		}
		if opts.dumpChunks {
			if derr := dumpChunks(stem, stage, result.Units); derr != nil {
				logger.Warn("failed to dump chunks", zap.Error(derr))
			}
		}
	}
	if err != nil {
		return result, "", fmt.Errorf("%s stage stopped: %w", stage, err)
	}

	out := opts.output
	if out == "" {
		out = stageOutputPath(stem, stage)
	}
	if err := writeOutput(out, result.Output, stem, opts.html); err != nil {
		return result, "", err
	}
	return result, out, nil
}

func writeOutput(path, text, title string, html bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if html {
		htmlPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".html"
		if err := os.WriteFile(htmlPath, []byte(markdown.Document(title, []byte(text))), 0644); err != nil {
			return fmt.Errorf("failed to write HTML file: %w", err)
		}
	}
	return nil
}

func dumpChunks(stem string, stage internal.Stage, units []internal.Unit) error {
	data, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(appConfig.OutputDir, fmt.Sprintf("%s_%s_chunks.json", stem, stage)), data, 0644)
}

func printSummary(s internal.RunSummary, output string) {
	fmt.Printf("%s finished: %d units (%d resumed, %d from cache, %d duplicates, %d retried)\n",
		s.Stage, s.TotalUnits, s.Resumed, s.CacheHits, s.Duplicates, s.Retried)
	if s.Fallbacks > 0 {
		fmt.Printf("Fallbacks to stage input: %d\n", s.Fallbacks)
	}
	if s.Failed > 0 {
		fmt.Printf("Failed units: %d %v (marked in the output)\n", s.Failed, s.FailedIndices)
	}
	if s.HardCuts > 0 {
		fmt.Printf("Hard cuts: %d\n", s.HardCuts)
	}
	if output != "" {
		fmt.Printf("Output: %s\n", output)
	}
}
