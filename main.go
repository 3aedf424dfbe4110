package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/avrec/cmd"
	"github.com/smazurov/avrec/internal/api"
	"github.com/smazurov/avrec/internal/config"
	"github.com/smazurov/avrec/internal/events"
	"github.com/smazurov/avrec/internal/led"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/metrics/collectors"
	"github.com/smazurov/avrec/internal/metrics/exporters"
	"github.com/smazurov/avrec/internal/recorder"
	"github.com/smazurov/avrec/internal/systemd"
)

// shutdownTimeout bounds how long an active recording may take to finalize
// when the server stops.
const shutdownTimeout = 10 * time.Second

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *config.Options) {
		loadErr := config.LoadConfig(opts, cli.Root())
		logging.Initialize(opts.LoggingConfig())
		logger := logging.GetLogger("main")
		if loadErr != nil {
			logger.Warn("Failed to load config", "error", loadErr)
		}

		eventBus := events.New()

		app, err := cmd.NewApp(opts, eventBus)
		if err != nil {
			logger.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}

		var ledManager *led.Manager
		var ledController led.Controller
		if opts.FeaturesLEDControl {
			logger.Info("LED control enabled, initializing")
			ledController = led.New(logger)
			ledManager = led.NewManager(ledController, eventBus, logger)
		}

		var hwLoad *collectors.HWLoadCollector
		var sseExporter *exporters.SSEExporter
		apiOpts := &api.Options{
			AuthUsername:  opts.AuthUsername,
			AuthPassword:  opts.AuthPassword,
			Recorder:      app.Recorder,
			Defaults:      app.SessionOptions,
			Encoders:      app.Catalog,
			EventBus:      eventBus,
			LEDController: ledController,
		}
		if opts.MetricsEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
			hwLoad = collectors.NewHWLoadCollector(opts.MetricsHWLoadPath, 0)
		}
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		server := api.NewServer(apiOpts)
		notifier := systemd.NewNotifier(nil)

		ctx, cancel := context.WithCancel(context.Background())
		var unpublish func()
		var watcher *config.Watcher[logging.Config]
		var unsubscribe func()

		hooks.OnStart(func() {
			unpublish = api.PublishLogs(eventBus)

			if w, watchErr := config.WatchLogging(opts.Config, logger); watchErr != nil {
				logger.Warn("Config hot-reload disabled", "error", watchErr)
			} else {
				watcher = w
			}

			if hwLoad != nil && hwLoad.Available() {
				if startErr := hwLoad.Start(ctx); startErr != nil {
					logger.Warn("Failed to start hardware load collector", "error", startErr)
				}
			}
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}
			if ledManager != nil {
				ledManager.Start()
			}

			unsubscribe = eventBus.Subscribe(func(ev events.SessionStateChangedEvent) {
				if ev.Path != "" {
					notifier.Status("%s %s", ev.State, ev.Path)
				} else {
					notifier.Status("%s", ev.State)
				}
			})
			go notifier.Watchdog(ctx)
			notifier.Ready()

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			finishRecording(app.Recorder, logger)

			if watcher != nil {
				_ = watcher.Stop()
			}
			if sseExporter != nil {
				sseExporter.Stop()
			}
			if hwLoad != nil {
				_ = hwLoad.Stop()
			}
			if ledManager != nil {
				ledManager.Stop()
			}
			if unsubscribe != nil {
				unsubscribe()
			}
			if unpublish != nil {
				unpublish()
			}
			cancel()
		})
	})

	cli.Root().AddCommand(cmd.CreateRecordCmd())
	cli.Root().AddCommand(cmd.CreateEncodersCmd())

	cli.Run()
}

// finishRecording stops an active session and waits for its file to close.
func finishRecording(rec *recorder.Recorder, logger logging.Logger) {
	session, err := rec.Stop()
	if errors.Is(err, media.ErrNoSession) {
		return
	}
	if err != nil {
		logger.Error("Failed to stop recording", "error", err)
		return
	}
	logger.Info("Finalizing active recording", "path", session.Path)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := session.Wait(ctx); err != nil {
		logger.Error("Recording ended with errors", "path", session.Path, "error", err)
	}
}
