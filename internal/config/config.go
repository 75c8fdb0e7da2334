// Package config loads tradutor settings from defaults, an optional YAML
// file, TRADUTOR_* environment variables and bound command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/tradutor/internal"
	"github.com/valpere/tradutor/internal/backend"
	"github.com/valpere/tradutor/internal/dedupe"
	"github.com/valpere/tradutor/internal/processor"
	"github.com/valpere/tradutor/internal/validator"
)

// StageConfig tunes one stage.
type StageConfig struct {
	Model           string        `mapstructure:"model"`
	ChunkChars      int           `mapstructure:"chunk_chars"`
	Temperature     float64       `mapstructure:"temperature"`
	TemperatureStep float64       `mapstructure:"temperature_step"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	BackoffFactor   float64       `mapstructure:"backoff_factor"`
}

type GlossaryConfig struct {
	Files         []string `mapstructure:"files"`
	Limit         int      `mapstructure:"limit"`
	FallbackLimit int      `mapstructure:"fallback_limit"`
}

type Config struct {
	Backend         backend.Config   `mapstructure:"backend"`
	Translate       StageConfig      `mapstructure:"translate"`
	Refine          StageConfig      `mapstructure:"refine"`
	Validator       validator.Config `mapstructure:"validator"`
	Glossary        GlossaryConfig   `mapstructure:"glossary"`
	Context         bool             `mapstructure:"context"`
	ContextWords    int              `mapstructure:"context_words"`
	Parallel        int              `mapstructure:"parallel"`
	DedupeThreshold float64          `mapstructure:"dedupe_threshold"`
	OutputDir       string           `mapstructure:"output_dir"`
	DBPath          string           `mapstructure:"db_path"`
	Debug           bool             `mapstructure:"debug"`
}

// SetDefaults registers every default on v. Each key must have a default
// for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.name", backend.NameOllama)
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 120*time.Second)
	v.SetDefault("backend.max_retries", 0)
	v.SetDefault("backend.num_ctx", 8192)
	v.SetDefault("backend.keep_alive", "10m")
	v.SetDefault("backend.repeat_penalty", 0.0)

	for stage, d := range map[string]StageConfig{
		string(internal.StageTranslate): {
			Model: "qwen3:14b-q4_K_M", ChunkChars: 3800, Temperature: 0.15, MaxAttempts: 3, MaxTokens: 0,
		},
		string(internal.StageRefine): {
			Model: "gemma3-gaia-ptbr-4b:q4_k_m", ChunkChars: 10000, Temperature: 0.30, MaxAttempts: 2, MaxTokens: 0,
		},
	} {
		v.SetDefault(stage+".model", d.Model)
		v.SetDefault(stage+".chunk_chars", d.ChunkChars)
		v.SetDefault(stage+".temperature", d.Temperature)
		v.SetDefault(stage+".temperature_step", 0.1)
		v.SetDefault(stage+".max_attempts", d.MaxAttempts)
		v.SetDefault(stage+".max_tokens", d.MaxTokens)
		v.SetDefault(stage+".timeout", 120*time.Second)
		v.SetDefault(stage+".initial_backoff", 1500*time.Millisecond)
		v.SetDefault(stage+".backoff_factor", 1.8)
	}

	vd := validator.DefaultConfig()
	v.SetDefault("validator.translate_ratio.min", vd.TranslateRatio.Min)
	v.SetDefault("validator.translate_ratio.max", vd.TranslateRatio.Max)
	v.SetDefault("validator.refine_ratio.min", vd.RefineRatio.Min)
	v.SetDefault("validator.refine_ratio.max", vd.RefineRatio.Max)
	v.SetDefault("validator.drift_threshold", vd.DriftThreshold)
	v.SetDefault("validator.min_ratio_runes", vd.MinRatioRunes)
	v.SetDefault("validator.entity_overlap", vd.EntityOverlap)
	v.SetDefault("validator.max_new_entities", vd.MaxNewEntities)

	v.SetDefault("glossary.files", []string{})
	v.SetDefault("glossary.limit", 30)
	v.SetDefault("glossary.fallback_limit", 10)

	v.SetDefault("context", true)
	v.SetDefault("context_words", 25)
	v.SetDefault("parallel", 1)
	v.SetDefault("dedupe_threshold", dedupe.DefaultThreshold)
	v.SetDefault("output_dir", "saida")
	v.SetDefault("db_path", "saida/tradutor.db")
	v.SetDefault("debug", false)
}

// New returns a viper instance with defaults, environment binding and the
// config file read. cfgFile may be empty to search ./tradutor.yaml and
// $HOME/.tradutor/tradutor.yaml; a missing file is not an error.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("TRADUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("tradutor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tradutor")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates the current state of v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Backend.APIKey = ResolveEnvVars(cfg.Backend.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Backend.Name) {
	case backend.NameOllama, backend.NameOpenAI, backend.NameGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend.Name))
	}
	for name, s := range map[string]StageConfig{"translate": c.Translate, "refine": c.Refine} {
		if s.ChunkChars <= 0 {
			errs = append(errs, fmt.Errorf("%s.chunk_chars must be positive", name))
		}
		if s.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("%s.max_attempts must be at least 1", name))
		}
		if s.Temperature < 0 {
			errs = append(errs, fmt.Errorf("%s.temperature must not be negative", name))
		}
	}
	for name, b := range map[string]validator.Band{
		"validator.translate_ratio": c.Validator.TranslateRatio,
		"validator.refine_ratio":    c.Validator.RefineRatio,
	} {
		if b.Min <= 0 || b.Max <= b.Min {
			errs = append(errs, fmt.Errorf("%s must satisfy 0 < min < max", name))
		}
	}
	if c.Validator.DriftThreshold < 0 || c.Validator.DriftThreshold > 1 {
		errs = append(errs, fmt.Errorf("validator.drift_threshold must be in [0, 1]"))
	}
	if c.Validator.EntityOverlap < 0 || c.Validator.EntityOverlap > 1 {
		errs = append(errs, fmt.Errorf("validator.entity_overlap must be in [0, 1]"))
	}
	if c.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1"))
	}
	return errors.Join(errs...)
}

// Stage returns the settings of a stage.
func (c *Config) Stage(stage internal.Stage) StageConfig {
	if stage == internal.StageRefine {
		return c.Refine
	}
	return c.Translate
}

// Processor converts a stage's settings into a processor configuration.
func (c *Config) Processor(stage internal.Stage, strict bool) processor.Config {
	s := c.Stage(stage)
	pc := processor.DefaultConfig(stage)
	pc.Model = s.Model
	pc.Temperature = s.Temperature
	pc.TemperatureStep = s.TemperatureStep
	pc.MaxAttempts = s.MaxAttempts
	pc.MaxTokens = s.MaxTokens
	pc.Timeout = s.Timeout
	pc.InitialBackoff = s.InitialBackoff
	pc.BackoffFactor = s.BackoffFactor
	pc.Strict = strict
	return pc
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envRef.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
