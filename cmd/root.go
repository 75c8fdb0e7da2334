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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/valpere/tradutor/internal/config"
	"github.com/valpere/tradutor/internal/logging"
)

var version = "0.3.0"

var (
	cfgFile string

	v         *viper.Viper
	appConfig *config.Config
	logger    = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tradutor",
	Short: "Long-document EN → PT-BR translator and refiner",
	Long: `A CLI application that translates long documents (PDF or Markdown) from
English to Brazilian Portuguese with LLMs, then optionally refines the
Portuguese text in a second pass.

Documents are split into bounded units; every unit is cached, validated
against hallucination, repetition and language drift, retried, and recorded
in a resumable manifest.

Supported backends: Ollama (local), OpenAI-compatible APIs, Gemini

Use "tradutor translate --help" for translation options.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		v, err = config.New(cfgFile)
		if err != nil {
			return err
		}
		for key, flag := range map[string]string{
			"debug":            "debug",
			"db_path":          "db",
			"output_dir":       "output-dir",
			"backend.name":     "backend",
			"backend.base_url": "base-url",
			"backend.api_key":  "api-key",
		} {
			if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", flag, err)
			}
		}
		appConfig, err = config.Load(v)
		if err != nil {
			return err
		}
		logger, err = logging.New(appConfig.Debug)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run; units
// already recorded in the manifest are kept.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./tradutor.yaml or $HOME/.tradutor/tradutor.yaml)")
	pf.Bool("debug", false, "Enable debug logging")
	pf.String("db", "saida/tradutor.db", "SQLite database for the unit cache and glossary")
	pf.String("output-dir", "saida", "Directory for outputs, manifests and reports")
	pf.String("backend", "ollama", "LLM backend: ollama, openai or gemini")
	pf.String("base-url", "", "Backend base URL (default depends on the backend)")
	pf.String("api-key", "", "API key for hosted backends (supports ${ENV_VAR})")
}
