package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/parley/internal/camera"
	"github.com/MrWong99/parley/internal/classifier"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/search/mcpsearch"
	"github.com/MrWong99/parley/internal/settings"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/store/jsonfile"
	"github.com/MrWong99/parley/internal/store/postgres"
	"github.com/MrWong99/parley/internal/tools"
	"github.com/MrWong99/parley/internal/tools/memorytool"
	"github.com/MrWong99/parley/internal/tools/photo"
	"github.com/MrWong99/parley/internal/tools/websearch"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/internal/transport/ffmpeg"
	"github.com/MrWong99/parley/internal/wire"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	"github.com/MrWong99/parley/pkg/provider/llm/openai"
)

// ── Provider registry ──────────────────────────────────────────────────────────

// registerBuiltinProviders registers the classifier backends parley ships
// with. "openai" uses the native Chat Completions client; every other name
// goes through any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range config.ClassifierProviders {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}
}

func classifierName(c config.ClassifierConfig) string {
	if c.Name == "" {
		return "heuristic"
	}
	return c.Name + "/" + c.Model
}

// ── Collaborators ──────────────────────────────────────────────────────────────

type collaborators struct {
	classifier *classifier.Classifier
	dispatcher *tools.Dispatcher
	settings   *settings.Settings
	location   settings.StaticLocation
	searcher   *mcpsearch.Searcher
}

func (c *collaborators) close() {
	if c.searcher != nil {
		if err := c.searcher.Close(); err != nil {
			slog.Warn("search client close error", "err", err)
		}
	}
}

func buildCollaborators(cfg *config.Config, metrics *observe.Metrics) (*collaborators, error) {
	c := &collaborators{location: settings.StaticLocation(cfg.Location)}

	var err error
	if c.classifier, err = buildClassifier(cfg.Classifier, metrics); err != nil {
		return nil, err
	}
	if c.settings, err = settings.Open(cfg.SettingsPath); err != nil {
		return nil, err
	}

	var ts []tools.Tool
	if url := cfg.Tools.Photo.SnapshotURL; url != "" {
		opts := []photo.Option{photo.WithRetryInterval(cfg.Tools.Photo.RetryInterval)}
		if w := cfg.Tools.Photo.RetryWindow; w > 0 {
			opts = append(opts, photo.WithRetryWindow(w))
		}
		ts = append(ts, photo.New(camera.New(url), opts...))
	}
	if cfg.Tools.Search.Enabled {
		if c.searcher, err = mcpsearch.New(cfg.Tools.Search.MCP()); err != nil {
			return nil, err
		}
		ts = append(ts, websearch.New(c.searcher))
	}
	if !cfg.Tools.Memory.Disabled {
		ts = append(ts, memorytool.New(c.settings))
	}
	if c.dispatcher, err = tools.NewDispatcher(ts, tools.WithTimeout(cfg.Tools.Timeout), tools.WithMetrics(metrics)); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func buildClassifier(cfg config.ClassifierConfig, metrics *observe.Metrics) (*classifier.Classifier, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	breaker := resilience.CircuitBreakerConfig{Name: "classifier"}
	p, err := reg.ClassifierProvider(cfg, breaker)
	if err != nil {
		return nil, err
	}

	opts := []classifier.Option{
		classifier.WithTimeout(cfg.Timeout),
		classifier.WithMetrics(metrics),
	}
	if len(cfg.TriggerPhrases) > 0 {
		opts = append(opts, classifier.WithTriggers(cfg.TriggerPhrases...))
	}
	if cfg.FuzzyThreshold > 0 {
		opts = append(opts, classifier.WithFuzzyThreshold(cfg.FuzzyThreshold))
	}
	// A fallback chain brings one breaker per backend.
	if p != nil && len(cfg.Fallbacks) == 0 {
		opts = append(opts, classifier.WithBreaker(resilience.NewCircuitBreaker(breaker)))
	}
	return classifier.New(p, opts...), nil
}

// buildStore opens the configured thread store. It returns nil for
// [config.StoreNone].
func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreJSONFile:
		return jsonfile.New(cfg.Dir)
	case config.StorePostgres:
		return postgres.New(ctx, cfg.PostgresDSN)
	case config.StoreNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// ── Session ────────────────────────────────────────────────────────────────────

func buildDialer(cfg config.RealtimeConfig) *wire.Client {
	opts := []wire.Option{
		wire.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	if cfg.URL != "" {
		opts = append(opts, wire.WithURL(cfg.URL))
	}
	if cfg.Model != "" {
		opts = append(opts, wire.WithModel(cfg.Model))
	}
	return wire.New(cfg.APIKey, opts...)
}

func buildTransport(cfg config.AudioConfig) *transport.Pipeline {
	var opts []transport.Option
	if cfg.FrameDuration > 0 {
		opts = append(opts, transport.WithFrameDuration(cfg.FrameDuration))
	}

	if cfg.Backend == config.AudioNone {
		return transport.NewPipeline(
			transport.NullMicrophone{F: audio.Wire},
			transport.NullSpeaker{F: audio.Wire},
			opts...,
		)
	}
	native := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if cfg.Channels == 0 {
		native.Channels = 1
	}
	mic := &ffmpeg.Microphone{
		Command:     cfg.FFmpegPath,
		InputFormat: cfg.InputFormat,
		InputDevice: cfg.InputDevice,
	}
	if cfg.SampleRate > 0 {
		mic.Native = native
	}
	spk := &ffmpeg.Speaker{Command: cfg.FFplayPath, Volume: cfg.Volume}
	return transport.NewPipeline(mic, spk, opts...)
}

func engineConfig(cfg *config.Config) engine.Config {
	rt := cfg.Realtime
	td := rt.TurnDetection
	return engine.Config{
		SessionSettings: engine.SessionSettings{
			Instructions: rt.Instructions,
			Voice:        rt.Voice,
			TurnDetection: protocol.TurnDetection{
				Type:              td.Type,
				Threshold:         td.Threshold,
				PrefixPaddingMs:   td.PrefixPaddingMs,
				SilenceDurationMs: td.SilenceDurationMs,
			},
		},
		TranscriptionModel: rt.TranscriptionModel,
		ConnectTimeout:     rt.ConnectTimeout,
		Warmup:             cfg.Audio.Warmup,
		WindowSize:         cfg.Classifier.ContextSize,
	}
}
