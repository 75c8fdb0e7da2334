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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/detector"
	"github.com/valpere/tradutor/internal/extract"
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Refine a Brazilian Portuguese Markdown document",
	Long: `Run the refinement stage on an already translated Markdown document.

The text is split on ## sections first, then by refine.chunk_chars. A unit
whose refinement fails validation keeps its input text unchanged.

Example:
  tradutor refine -i saida/livro_pt.md --resume`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if extract.Kind(inputFile) != extract.KindMarkdown {
			return fmt.Errorf("refine expects a Markdown file, got %q", inputFile)
		}
		if outputFile != "" && filepath.Clean(inputFile) == filepath.Clean(outputFile) {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		text, err := loadDocument(inputFile)
		if err != nil {
			return err
		}

		opts := runOpts
		opts.output = outputFile
		opts.refineModel = opts.model
		opts.detector = detector.New()
		result, out, err := runStage(cmd.Context(), internal.StageRefine, docStem(inputFile), text, opts)
		if result != nil {
			printSummary(result.Summary, out)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(refineCmd)

	addStageFlags(refineCmd)
}
