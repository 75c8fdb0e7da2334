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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/tradutor/internal/glossary"
)

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage the terminology glossary",
	Long: `Add, list, import, and delete glossary entries.

Glossary entries keep names and domain terms consistent across units. Terms
relevant to a unit are listed in its prompt; enforced terms are also
substituted in the output when the model ignores them.`,
}

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all glossary entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.ListGlossaryTerms(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list glossary: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("Glossary is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTERM\tPT-BR\tENFORCE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", e.ID, e.SourceTerm, e.TargetTerm, e.Enforce)
		}
		return w.Flush()
	},
}

var glossaryAddEnforce bool

var glossaryAddCmd = &cobra.Command{
	Use:   "add <term> <pt-br>",
	Short: "Add or update a glossary entry",
	Long: `Add a glossary entry mapping an English term to its Brazilian Portuguese form.

Example:
  tradutor glossary add "wand" "varinha" --enforce`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.AddGlossaryTerm(cmd.Context(), args[0], args[1], glossaryAddEnforce); err != nil {
			return fmt.Errorf("failed to add glossary entry: %w", err)
		}
		fmt.Printf("Added: %q → %q\n", args[0], args[1])
		return nil
	},
}

var glossaryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import glossary entries from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		terms, err := glossary.LoadFile(args[0])
		if err != nil {
			return err
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		for _, t := range terms {
			if err := db.AddGlossaryTerm(cmd.Context(), t.Source, t.Target, t.Enforce); err != nil {
				return fmt.Errorf("failed to import %q: %w", t.Source, err)
			}
		}
		fmt.Printf("Imported %d glossary entries.\n", len(terms))
		return nil
	},
}

var glossaryDeleteCmd = &cobra.Command{
	Use:   "delete <id|term>",
	Short: "Delete a glossary entry by ID or term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.DeleteGlossaryTerm(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to delete glossary entry: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("no glossary entry matches %q", args[0])
		}
		fmt.Printf("Deleted glossary entry: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(glossaryCmd)

	glossaryAddCmd.Flags().BoolVar(&glossaryAddEnforce, "enforce", false, "Substitute the term in outputs that miss it")

	glossaryCmd.AddCommand(glossaryListCmd)
	glossaryCmd.AddCommand(glossaryAddCmd)
	glossaryCmd.AddCommand(glossaryImportCmd)
	glossaryCmd.AddCommand(glossaryDeleteCmd)
}
