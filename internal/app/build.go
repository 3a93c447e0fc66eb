package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/voicecoach/internal/config"
	"github.com/ent0n29/voicecoach/internal/httpapi"
	"github.com/ent0n29/voicecoach/internal/observability"
	"github.com/ent0n29/voicecoach/internal/persona"
	"github.com/ent0n29/voicecoach/internal/report"
	"github.com/ent0n29/voicecoach/internal/session"
	"github.com/ent0n29/voicecoach/internal/tts"
	"github.com/ent0n29/voicecoach/internal/voice"
)

type ProviderInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Registry     *session.Registry
	Orchestrator *voice.Orchestrator
	Synthesis    *tts.Multiplexer
	Reports      *report.Service
	Metrics      *observability.Metrics
	Providers    ProviderInfo

	// Cleanup releases the synthesis connection and the report store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := report.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("report store init failed: %w", err)
	}

	providers, err := resolveProviders(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cfg.VoiceProvider = providers.resolvedProvider

	registry := session.NewRegistry(persona.DefaultVoice(cfg.DefaultVoiceID, cfg.DefaultVoiceStyle))
	registry.SetRemoveHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("removed").Inc()
	})

	synthesis := tts.NewMultiplexer(providers.dialer, voice.NewDirectory(registry, metrics), metrics)
	reports := report.NewService(providers.analyzer, store)

	orchestrator := voice.NewOrchestrator(
		registry,
		providers.stt,
		providers.dialogue,
		synthesis,
		reports,
		metrics,
		voice.Config{ReportTimeout: cfg.ReportTimeout},
	)

	api := httpapi.New(cfg, registry, orchestrator, reports, metrics)

	cleanup := func() error {
		return errors.Join(synthesis.Close(), store.Close())
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Registry:     registry,
		Orchestrator: orchestrator,
		Synthesis:    synthesis,
		Reports:      reports,
		Metrics:      metrics,
		Providers: ProviderInfo{
			Provider: providers.resolvedProvider,
			Detail:   providers.detail,
		},
		Cleanup: cleanup,
	}, nil
}
