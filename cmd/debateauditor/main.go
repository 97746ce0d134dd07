// Command debateauditor is the entry point for the debate auditor Discord
// bot: mention-triggered audits of text debates plus live voice debate
// recording with rolling notes and a final verdict.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/whitelam-dev/debateauditor/internal/audit"
	"github.com/whitelam-dev/debateauditor/internal/config"
	discordbot "github.com/whitelam-dev/debateauditor/internal/discord"
	"github.com/whitelam-dev/debateauditor/internal/live"
	"github.com/whitelam-dev/debateauditor/internal/observe"
	"github.com/whitelam-dev/debateauditor/internal/transcript"
	audiodiscord "github.com/whitelam-dev/debateauditor/pkg/audio/discord"
	"github.com/whitelam-dev/debateauditor/pkg/provider/llm"
	"github.com/whitelam-dev/debateauditor/pkg/provider/llm/anyllm"
	oaillm "github.com/whitelam-dev/debateauditor/pkg/provider/llm/openai"
	"github.com/whitelam-dev/debateauditor/pkg/provider/transcribe"
	oaitranscribe "github.com/whitelam-dev/debateauditor/pkg/provider/transcribe/openai"
	"github.com/whitelam-dev/debateauditor/pkg/provider/transcribe/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A .env file is a convenience for local development; absence is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "debateauditor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "debateauditor: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("debateauditor starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
		"llm_provider", cfg.Providers.LLM.Name,
		"transcribe_provider", cfg.Providers.Transcribe.Name,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.Default()

	// ── Providers ─────────────────────────────────────────────────────────────
	llmProvider, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return 1
	}
	if llmProvider == nil {
		slog.Warn("no LLM credentials configured — audits will report the missing key")
	}

	transcriber, err := buildTranscriber(cfg.Providers)
	if err != nil {
		slog.Error("failed to build transcription provider", "err", err)
		return 1
	}
	if transcriber == nil {
		slog.Warn("no transcription backend configured — live recording is disabled")
	}

	// ── Discord wiring ────────────────────────────────────────────────────────
	session, err := discordbot.NewSession(cfg.Discord.Token)
	if err != nil {
		slog.Error("failed to create Discord session", "err", err)
		return 1
	}

	replier := discordbot.NewReplier(session, cfg.Workflow.ChunkLimit)
	engine := audit.NewEngine(audit.EngineConfig{
		Store:         audit.NewStore(cfg.Workflow.SessionTTL),
		LLM:           llmProvider,
		Assembler:     transcript.NewAssembler(discordbot.NewHistory(session)),
		Replier:       replier,
		Attachments:   discordbot.NewAttachmentFetcher(),
		Metrics:       metrics,
		TriggerPhrase: cfg.Discord.TriggerPhrase,
		Workflow:      cfg.Workflow,
	})
	liveMgr := live.NewManager(live.ManagerConfig{
		Capture:          discordbot.NewVoiceCapture(audiodiscord.New(session)),
		LLM:              llmProvider,
		Transcriber:      transcriber,
		Notifier:         replier,
		Roster:           discordbot.NewRoster(session),
		Metrics:          metrics,
		Live:             cfg.Live,
		VerdictMaxTokens: cfg.Workflow.AnalysisMaxTokens,
	})

	bot, err := discordbot.New(session, engine, liveMgr, replier)
	if err != nil {
		slog.Error("failed to connect to Discord", "err", err)
		return 1
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}
	}()
	// Runs before bot.Close so final verdicts go out over a live gateway.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := liveMgr.Shutdown(shutdownCtx); err != nil {
			slog.Warn("live session shutdown error", "err", err)
		}
	}()

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			slog.Info("metrics listener starting", "addr", addr)
			return observe.Serve(gctx, addr)
		})
	}

	slog.Info("bot ready — press Ctrl+C to shut down")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildLLM constructs the configured text-completion backend, or nil when
// required credentials are missing. A nil provider is not fatal: the bot
// runs and reports the missing key when an LLM step is attempted.
func buildLLM(entry config.LLMEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		if entry.APIKey == "" {
			return nil, nil
		}
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if entry.RequestTimeout > 0 {
			opts = append(opts, oaillm.WithTimeout(entry.RequestTimeout))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)

	case "ollama", "llamacpp", "llamafile":
		// Local servers authenticate by address, not API key.
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)

	default:
		if entry.APIKey == "" {
			return nil, nil
		}
		opts := []anyllmlib.Option{anyllmlib.WithAPIKey(entry.APIKey)}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildTranscriber constructs the configured transcription backend, or nil
// when it cannot be configured. Live recording is refused without one.
func buildTranscriber(providers config.ProvidersConfig) (transcribe.Provider, error) {
	entry := providers.Transcribe
	switch entry.Name {
	case "openai":
		key := entry.APIKey
		if key == "" {
			key = providers.LLM.APIKey
		}
		if key == "" {
			return nil, nil
		}
		return oaitranscribe.New(key, entry.Model)

	case "whisper-native":
		return whisper.New(entry.ModelPath, whisper.WithLanguage(entry.Language))

	default:
		return nil, fmt.Errorf("unknown transcription provider %q", entry.Name)
	}
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
