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
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/backend"
	"github.com/valpere/tradutor/internal/extract"
)

var (
	doctorAttempts uint
	doctorDelay    time.Duration
	doctorInput    string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the backend is reachable",
	Long: `Wait for the configured backend to answer, then report the models that
will be used. With -i, also check that a PDF has a readable page tree.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := backend.New(appConfig.Backend)
		if err != nil {
			return err
		}

		err = backend.WaitReady(cmd.Context(), b, doctorAttempts, doctorDelay, func(n uint, err error) {
			logger.Warn("backend not ready", zap.String("backend", b.Name()), zap.Uint("attempt", n+1), zap.Error(err))
		})
		if err != nil {
			return fmt.Errorf("backend %s is not reachable: %w", b.Name(), err)
		}
		fmt.Printf("Backend:         %s (ready)\n", b.Name())
		fmt.Printf("Translate model: %s\n", appConfig.Translate.Model)
		fmt.Printf("Refine model:    %s\n", appConfig.Refine.Model)

		if doctorInput != "" && extract.Kind(doctorInput) == extract.KindPDF {
			pages, err := extract.PageCount(doctorInput)
			if err != nil {
				return err
			}
			fmt.Printf("PDF pages:       %d\n", pages)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().UintVar(&doctorAttempts, "attempts", 10, "Number of readiness checks")
	doctorCmd.Flags().DurationVar(&doctorDelay, "delay", 2*time.Second, "Delay between readiness checks")
	doctorCmd.Flags().StringVarP(&doctorInput, "input", "i", "", "Optional PDF to check")
}
