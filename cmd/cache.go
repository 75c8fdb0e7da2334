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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/tradutor/internal"
)

var cacheStage string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the unit cache",
	Long: `List, inspect, and clear the SQLite unit cache.

Entries are keyed by stage, unit content and generation parameters, so a
changed model or prompt never reuses an old output.`,
}

func stageFlag() (internal.Stage, error) {
	if cacheStage == "" {
		return "", nil
	}
	stage := internal.Stage(strings.ToLower(cacheStage))
	if !stage.Valid() {
		return "", fmt.Errorf("unknown stage %q (use translate or refine)", cacheStage)
	}
	return stage, nil
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := stageFlag()
		if err != nil {
			return err
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.ListEntries(cmd.Context(), stage)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("Cache is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tUNIT\tPARAMS\tCREATED\tFLAGS\tOUTPUT")
		for _, e := range entries {
			snippet := strings.ReplaceAll(e.Output, "\n", " ")
			if r := []rune(snippet); len(r) > 40 {
				snippet = string(r[:37]) + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Stage, e.UnitHash[:12], e.ParamHash[:12],
				e.CreatedAt.Format("2006-01-02 15:04"),
				strings.Join(e.Flags, ","), snippet)
		}
		return w.Flush()
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Total entries:     %d\n", stats.TotalEntries)
		fmt.Printf("Translate entries: %d\n", stats.TranslateEntries)
		fmt.Printf("Refine entries:    %d\n", stats.RefineEntries)
		fmt.Printf("Stored output:     %d bytes\n", stats.TotalBytes)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cache entries, optionally of one stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := stageFlag()
		if err != nil {
			return err
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		var n int64
		if stage != "" {
			n, err = db.ClearStage(cmd.Context(), stage)
		} else {
			n, err = db.Clear(cmd.Context())
		}
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Printf("Cleared %d entries from the cache.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.PersistentFlags().StringVar(&cacheStage, "stage", "", "Restrict to one stage: translate or refine")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
