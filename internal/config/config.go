// Package config provides the configuration schema and loader for the
// debate auditor bot.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], with secrets overlaid from the
// environment via [ApplyEnv].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	Discord   DiscordConfig   `yaml:"discord"`
	Providers ProvidersConfig `yaml:"providers"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Live      LiveConfig      `yaml:"live"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DiscordConfig holds the Discord connection settings.
type DiscordConfig struct {
	// Token is the Discord bot token. Usually supplied via the
	// DISCORD_TOKEN environment variable rather than the config file.
	Token string `yaml:"token"`

	// TriggerPhrase starts an audit when it appears in a message that
	// mentions the bot. Default: "audit please".
	TriggerPhrase string `yaml:"trigger_phrase"`
}

// ProvidersConfig declares which provider implementation to use for each
// upstream service.
type ProvidersConfig struct {
	LLM        LLMEntry        `yaml:"llm"`
	Transcribe TranscribeEntry `yaml:"transcribe"`
}

// LLMEntry selects and configures the text-completion backend.
type LLMEntry struct {
	// Name selects the backend: "openai" uses the OpenAI SDK directly; any
	// other recognised name ("anthropic", "gemini", "ollama", ...) goes
	// through the any-llm multi-provider adapter.
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. Usually supplied via the
	// OPENAI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Model selects the specific model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// RequestTimeout is the per-request HTTP timeout. Zero disables.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TranscribeEntry selects and configures the audio transcription backend.
type TranscribeEntry struct {
	// Name selects the backend: "openai" (Whisper API) or "whisper-native"
	// (local whisper.cpp via CGO).
	Name string `yaml:"name"`

	// APIKey authenticates the "openai" backend. Falls back to the LLM
	// entry's key when empty.
	APIKey string `yaml:"api_key"`

	// Model is the API model name for the "openai" backend. Default: whisper-1.
	Model string `yaml:"model"`

	// ModelPath is the checkpoint file for the "whisper-native" backend.
	ModelPath string `yaml:"model_path"`

	// Language is the BCP-47 language hint for the native backend.
	Language string `yaml:"language"`
}

// WorkflowConfig tunes the audit workflow state machine.
type WorkflowConfig struct {
	// HistoryLimit is the message window fetched on audit trigger. Default: 100.
	HistoryLimit int `yaml:"history_limit"`

	// ExpandLimit is the message window fetched on EXPAND. Default: 300.
	ExpandLimit int `yaml:"expand_limit"`

	// ClassifierMaxTokens bounds the debate-detection reply. Default: 5.
	ClassifierMaxTokens int `yaml:"classifier_max_tokens"`

	// SummaryMaxTokens bounds summary replies. Default: 200.
	SummaryMaxTokens int `yaml:"summary_max_tokens"`

	// AnalysisMaxTokens bounds the full verdict. Default: 500.
	AnalysisMaxTokens int `yaml:"analysis_max_tokens"`

	// SessionTTL drops audit sessions idle for longer than this on next
	// lookup. Zero disables expiry. Default: 1h.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// ChunkLimit is the maximum characters per outbound message. Default:
	// 2000, the Discord message length limit.
	ChunkLimit int `yaml:"chunk_limit"`
}

// LiveConfig tunes the live voice capture session.
type LiveConfig struct {
	// SegmentDuration is the length of one capture window. Default: 180s.
	SegmentDuration time.Duration `yaml:"segment_duration"`

	// SummaryMaxTokens bounds the rolling per-segment summary. Default: 150.
	SummaryMaxTokens int `yaml:"summary_max_tokens"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address for the /metrics listener (e.g.,
	// ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`
}

// ApplyDefaults fills zero-valued tunables with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogInfo
	}
	if c.Discord.TriggerPhrase == "" {
		c.Discord.TriggerPhrase = "audit please"
	}
	if c.Providers.LLM.Name == "" {
		c.Providers.LLM.Name = "openai"
	}
	if c.Providers.LLM.Model == "" {
		c.Providers.LLM.Model = "gpt-4o-mini"
	}
	if c.Providers.Transcribe.Name == "" {
		c.Providers.Transcribe.Name = "openai"
	}
	if c.Providers.Transcribe.Model == "" {
		c.Providers.Transcribe.Model = "whisper-1"
	}
	if c.Providers.Transcribe.Language == "" {
		c.Providers.Transcribe.Language = "en"
	}
	if c.Workflow.HistoryLimit == 0 {
		c.Workflow.HistoryLimit = 100
	}
	if c.Workflow.ExpandLimit == 0 {
		c.Workflow.ExpandLimit = 300
	}
	if c.Workflow.ClassifierMaxTokens == 0 {
		c.Workflow.ClassifierMaxTokens = 5
	}
	if c.Workflow.SummaryMaxTokens == 0 {
		c.Workflow.SummaryMaxTokens = 200
	}
	if c.Workflow.AnalysisMaxTokens == 0 {
		c.Workflow.AnalysisMaxTokens = 500
	}
	if c.Workflow.SessionTTL == 0 {
		c.Workflow.SessionTTL = time.Hour
	}
	if c.Workflow.ChunkLimit == 0 {
		c.Workflow.ChunkLimit = 2000
	}
	if c.Live.SegmentDuration == 0 {
		c.Live.SegmentDuration = 180 * time.Second
	}
	if c.Live.SummaryMaxTokens == 0 {
		c.Live.SummaryMaxTokens = 150
	}
}
