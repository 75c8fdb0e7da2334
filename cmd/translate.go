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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/detector"
)

var (
	inputFile  string
	outputFile string
	useRefine  bool
	runOpts    stageOptions
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a PDF or Markdown document to Brazilian Portuguese",
	Long: `Translate a PDF or Markdown document from English to Brazilian Portuguese.

The document is split into units of at most translate.chunk_chars characters.
Each unit is looked up in the cache, sent to the backend, sanitized and
validated; invalid output is retried with a higher temperature. Units that
still fail are replaced by a [[TRADUTOR:FALHA unidade=N]] marker.

Progress is recorded in <output-dir>/<name>_translate_manifest.json after
every unit. Re-run with --resume to continue an interrupted run.

Two-pass translation:
  --refine        Run the refinement stage on the translated text
  --refine-model  Model for the refinement stage (--model only affects translation)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFile != "" && filepath.Clean(inputFile) == filepath.Clean(outputFile) {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		text, err := loadDocument(inputFile)
		if err != nil {
			return err
		}

		opts := runOpts
		opts.detector = detector.New()
		if lang, ok := opts.detector.DetectISO(text); ok && lang != "en" {
			logger.Warn("input does not look like English", zap.String("detected", lang))
		}

		stem := docStem(inputFile)
		if useRefine {
			opts.output = ""
		} else {
			opts.output = outputFile
		}

		result, out, err := runStage(cmd.Context(), internal.StageTranslate, stem, text, opts)
		if result != nil {
			printSummary(result.Summary, out)
		}
		if err != nil {
			return err
		}
		if !useRefine {
			return nil
		}

		opts.output = outputFile
		result, out, err = runStage(cmd.Context(), internal.StageRefine, stem, result.Output, opts)
		if result != nil {
			printSummary(result.Summary, out)
		}
		return err
	},
}

func addStageFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&inputFile, "input", "i", "", "Input file (required)")
	f.StringVarP(&outputFile, "output", "o", "", "Output file (default <output-dir>/<name>_pt.md)")
	f.BoolVar(&runOpts.resume, "resume", false, "Continue from the manifest of a previous run")
	f.BoolVar(&runOpts.strict, "strict", false, "Abort on the first unit that fails every attempt")
	f.IntVar(&runOpts.parallel, "parallel", 0, "Process N units concurrently (requires --no-context)")
	f.BoolVar(&runOpts.noContext, "no-context", false, "Do not pass the previous unit as light context")
	f.BoolVar(&runOpts.noCache, "no-cache", false, "Bypass the unit cache")
	f.StringSliceVar(&runOpts.glossaryFiles, "glossary", nil, "Glossary file (YAML or JSON); repeatable")
	f.StringVar(&runOpts.model, "model", "", "Override the model of this command's first stage")
	f.BoolVar(&runOpts.html, "html", false, "Also write an HTML rendering of the output")
	f.BoolVar(&runOpts.dumpChunks, "dump-chunks", false, "Write the unit plan as JSON next to the output")

	if err := cmd.MarkFlagRequired("input"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func init() {
	rootCmd.AddCommand(translateCmd)

	addStageFlags(translateCmd)
	translateCmd.Flags().BoolVar(&useRefine, "refine", false, "Run the refinement stage after translation")
	translateCmd.Flags().StringVar(&runOpts.refineModel, "refine-model", "", "Override the refinement model used with --refine")
}
