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
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/chunker"
	"github.com/valpere/tradutor/internal/extract"
	"github.com/valpere/tradutor/internal/manifest"
)

var (
	manifestInput string
	manifestStage string
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect or delete the resume manifest of a document",
	Long: `Inspect or delete the resume manifest of a document.

A manifest is kept per document and stage in the output directory and is
only removed by "tradutor manifest delete".`,
}

func manifestPath() (string, internal.Stage, error) {
	stage := internal.Stage(strings.ToLower(manifestStage))
	if !stage.Valid() {
		return "", "", fmt.Errorf("unknown stage %q (use translate or refine)", manifestStage)
	}
	return manifest.PathFor(appConfig.OutputDir, docStem(manifestInput), stage), stage, nil
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the progress recorded for a document",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, stage, err := manifestPath()
		if err != nil {
			return err
		}

		// The input only matches the manifest when it is the text the stage
		// actually processed: the source for translate, Markdown for refine.
		var docHash string
		if stage == internal.StageTranslate || extract.Kind(manifestInput) == extract.KindMarkdown {
			if text, err := extract.Text(manifestInput); err == nil {
				docHash = internal.HashText(chunker.Normalize(text))
			}
		}

		st, err := manifest.Read(path, docHash)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			fmt.Printf("No manifest at %s\n", path)
			return nil
		case errors.Is(err, manifest.ErrStale):
			fmt.Println("Warning: the manifest was written for a different version of this document;")
			fmt.Println("its units will be reprocessed on the next run.")
		case err != nil:
			return err
		}

		fmt.Printf("Manifest:   %s\n", path)
		fmt.Printf("Stage:      %s\n", st.Stage)
		fmt.Printf("Document:   %s\n", st.DocHash)
		fmt.Printf("Updated:    %s\n", st.Timestamp.Format("2006-01-02 15:04:05"))
		fmt.Printf("Completed:  %d/%d\n", len(st.CompletedIndices), st.TotalUnits)
		if len(st.FailedIndices) > 0 {
			fmt.Printf("Failed:     %v\n", st.FailedIndices)
		}

		counts := map[internal.Outcome]int{}
		for _, o := range st.Outcomes {
			counts[o]++
		}
		for _, o := range []internal.Outcome{
			internal.OutcomeAccepted, internal.OutcomeRetriedAccepted, internal.OutcomeCachedHit,
			internal.OutcomeResumed, internal.OutcomeFallback, internal.OutcomeFailed,
		} {
			if counts[o] > 0 {
				fmt.Printf("  %-22s %d\n", o, counts[o])
			}
		}
		return nil
	},
}

var manifestDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the manifest so the next run starts from scratch",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _, err := manifestPath()
		if err != nil {
			return err
		}
		if err := manifest.Delete(path); err != nil {
			return fmt.Errorf("failed to delete manifest: %w", err)
		}
		fmt.Printf("Deleted manifest: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(manifestCmd)

	pf := manifestCmd.PersistentFlags()
	pf.StringVarP(&manifestInput, "input", "i", "", "Input document the manifest belongs to (required)")
	pf.StringVar(&manifestStage, "stage", string(internal.StageTranslate), "Stage: translate or refine")
	if err := manifestCmd.MarkPersistentFlagRequired("input"); err != nil {
		panic(err)
	}

	manifestCmd.AddCommand(manifestShowCmd)
	manifestCmd.AddCommand(manifestDeleteCmd)
}
