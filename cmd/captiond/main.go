// Command captiond runs the live captioning engine: it owns the capture
// device and the recording session, and serves the UI boundary over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"live-caption-engine/internal/app"
	"live-caption-engine/internal/capture"
	"live-caption-engine/internal/capture/sim"
	"live-caption-engine/internal/config"
	"live-caption-engine/internal/history"
	"live-caption-engine/internal/httpapi"
	"live-caption-engine/internal/observability"
	"live-caption-engine/internal/pipeline"
	"live-caption-engine/internal/recognize"
	"live-caption-engine/internal/recognize/google"
	"live-caption-engine/internal/recognize/mock"
	"live-caption-engine/internal/session"
	"live-caption-engine/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}
	defer application.Shutdown()

	publisher := history.New(&history.Config{
		Enabled:   cfg.History.Enabled,
		Brokers:   cfg.History.Brokers,
		Topic:     cfg.History.TopicFinalized,
		Principal: cfg.History.Principal,
	})
	defer publisher.Close()

	tokens := token.NewEnvProvider(cfg.Recognizer.CredentialRegion, cfg.Recognizer.CredentialExpiry)

	ctrl := session.NewController(session.Deps{
		Capture:  capture.NewController(newDevice(cfg)),
		Tokens:   tokens,
		Selector: newSelector(cfg),
		History:  publisher,
		Session:  cfg.Session,
		Pipeline: pipeline.Config{
			ReconnectBackoff: cfg.Recognizer.ReconnectBackoff,
			ReconnectMax:     cfg.Recognizer.ReconnectMax,
		},
		Levels: cfg.Levels,
	})

	obs := observability.NewServer(":" + cfg.Observability.MetricsPort)
	obs.Start()

	api := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      httpapi.NewRouter(ctrl, tokens),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", api.Addr).Msg("UI boundary listening")
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")

		// Stop a running session first so the final flush and the history
		// handoff happen before the process exits.
		if err := ctrl.Stop(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Session stop during shutdown failed")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Observability server shutdown failed")
		}
		return api.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Engine exited with error")
	}
}

// newDevice builds the configured capture device. "sim" is a synthetic
// tone; anything else is treated as a WAV file path played at real-time
// cadence.
func newDevice(cfg *config.Configuration) capture.Device {
	if cfg.Capture.Device == "sim" {
		return &sim.ToneDevice{
			SampleRate:    cfg.Capture.SampleRateHz,
			FrameInterval: cfg.Capture.FrameInterval,
			Amplitude:     0.3,
		}
	}
	return &sim.WAVDevice{
		Path:          cfg.Capture.Device,
		FrameInterval: cfg.Capture.FrameInterval,
		Realtime:      true,
	}
}

// newSelector wires the credential-to-adapter policy: a usable credential
// selects the configured provider, a failed one either falls back to the
// mock recognizer or fails the start.
func newSelector(cfg *config.Configuration) session.RecognizerSelector {
	return func(ctx context.Context, cred token.Credential) (recognize.Factory, error) {
		provider := cfg.Recognizer.Provider
		if provider == "google" && !cred.Success {
			if !cfg.Recognizer.MockFallback {
				return nil, fmt.Errorf("recognizer %q needs a credential: %w",
					provider, token.ErrNoCredentials)
			}
			log.Warn().Str("error", cred.Error).
				Msg("No usable credential, falling back to mock recognizer")
			provider = "mock"
		}

		switch provider {
		case "google":
			gcfg := google.Config{
				LanguageCode:   cfg.Recognizer.LanguageCode,
				SampleRateHz:   cfg.Capture.SampleRateHz,
				InterimResults: cfg.Recognizer.InterimResults,
				MaxSpeakers:    cfg.Recognizer.MaxSpeakers,
			}
			return func(ctx context.Context) (recognize.Adapter, error) {
				return google.New(ctx, gcfg)
			}, nil
		default:
			return func(ctx context.Context) (recognize.Adapter, error) {
				return mock.New(), nil
			}, nil
		}
	}
}
