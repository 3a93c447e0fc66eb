package app

import (
	"context"
	"fmt"

	"github.com/ent0n29/voicecoach/internal/config"
	"github.com/ent0n29/voicecoach/internal/dialogue"
	"github.com/ent0n29/voicecoach/internal/report"
	"github.com/ent0n29/voicecoach/internal/stt"
	"github.com/ent0n29/voicecoach/internal/tts"
)

type providerSetup struct {
	stt              stt.Provider
	dialogue         dialogue.Provider
	dialer           tts.Dialer
	analyzer         report.Analyzer
	resolvedProvider string
	detail           string
}

// resolveProviders picks live or mock collaborators from VOICE_PROVIDER and
// the configured keys. Config validation already rejects live without keys.
func resolveProviders(ctx context.Context, cfg config.Config) (providerSetup, error) {
	if !cfg.UseLiveProviders() {
		detail := "mock (forced)"
		if cfg.VoiceProvider == config.VoiceProviderAuto {
			detail = "mock (missing assemblyai, gemini or murf key)"
		}
		return providerSetup{
			stt:              stt.NewMockProvider(),
			dialogue:         dialogue.NewMockProvider(),
			dialer:           tts.NewMockDialer(),
			analyzer:         report.HeuristicAnalyzer{},
			resolvedProvider: config.VoiceProviderMock,
			detail:           detail,
		}, nil
	}

	gemini, err := dialogue.NewGeminiProvider(ctx, dialogue.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return providerSetup{}, fmt.Errorf("gemini provider init failed: %w", err)
	}

	return providerSetup{
		stt: stt.NewAssemblyAIProvider(stt.AssemblyAIConfig{
			APIKey:     cfg.AssemblyAIAPIKey,
			WSURL:      cfg.AssemblyAIWSURL,
			SampleRate: cfg.AssemblyAISampleRate,
		}),
		dialogue: gemini,
		dialer: tts.NewMurfDialer(tts.MurfConfig{
			APIKey:     cfg.MurfAPIKey,
			WSURL:      cfg.MurfWSURL,
			SampleRate: cfg.MurfSampleRate,
			Format:     cfg.MurfFormat,
		}),
		analyzer:         report.NewModelAnalyzer(report.NewGeminiGenerator(gemini.Client(), cfg.GeminiReportModel)),
		resolvedProvider: config.VoiceProviderLive,
		detail:           fmt.Sprintf("live (assemblyai + %s + murf)", cfg.GeminiModel),
	}, nil
}
