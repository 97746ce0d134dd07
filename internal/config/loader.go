package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validLLMNames lists the recognised LLM backend names. "openai" maps to the
// direct SDK; the rest go through the any-llm adapter.
var validLLMNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// validTranscribeNames lists the recognised transcription backend names.
var validTranscribeNames = []string{"openai", "whisper-native"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, overlays
// environment secrets, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays secrets from the environment onto cfg. Environment
// values take precedence over the config file so tokens never need to be
// written to disk.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Providers.LLM.Name == "openai" {
			cfg.Providers.LLM.APIKey = v
		}
		if cfg.Providers.Transcribe.Name == "openai" && cfg.Providers.Transcribe.APIKey == "" {
			cfg.Providers.Transcribe.APIKey = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. A missing LLM API key
// is deliberately not an error here: the bot starts without it and reports
// the missing credential to users when an LLM-dependent step is attempted.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (set DISCORD_TOKEN)"))
	}

	if !slices.Contains(validLLMNames, cfg.Providers.LLM.Name) {
		errs = append(errs, fmt.Errorf("providers.llm.name %q is unknown; valid values: %v", cfg.Providers.LLM.Name, validLLMNames))
	}
	if !slices.Contains(validTranscribeNames, cfg.Providers.Transcribe.Name) {
		errs = append(errs, fmt.Errorf("providers.transcribe.name %q is unknown; valid values: %v", cfg.Providers.Transcribe.Name, validTranscribeNames))
	}
	if cfg.Providers.Transcribe.Name == "whisper-native" && cfg.Providers.Transcribe.ModelPath == "" {
		errs = append(errs, errors.New("providers.transcribe.model_path is required for the whisper-native backend"))
	}

	if cfg.Workflow.HistoryLimit < 0 || cfg.Workflow.ExpandLimit < 0 {
		errs = append(errs, errors.New("workflow history limits must not be negative"))
	}
	if cfg.Workflow.ChunkLimit < 1 {
		errs = append(errs, errors.New("workflow.chunk_limit must be at least 1"))
	}
	if cfg.Workflow.SessionTTL < 0 {
		errs = append(errs, errors.New("workflow.session_ttl must not be negative"))
	}
	if cfg.Live.SegmentDuration < 0 {
		errs = append(errs, errors.New("live.segment_duration must not be negative"))
	}

	return errors.Join(errs...)
}
