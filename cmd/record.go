package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/avrec/internal/config"
	"github.com/smazurov/avrec/internal/media"
	"github.com/smazurov/avrec/internal/recorder"
)

// stopGrace is added to the EOS timeout when waiting for a stopped session.
const stopGrace = 5 * time.Second

// CreateRecordCmd creates the record command.
func CreateRecordCmd() *cobra.Command {
	var (
		configFile  string
		duration    time.Duration
		outputDir   string
		kind        string
		videoDevice string
		audioDevice string
		noVideo     bool
		noAudio     bool
		logJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session without the HTTP server",
		Long: `Captures the configured video and audio devices into a single MP4 or WebM file ` +
			`until interrupted or until --duration elapses. SIGUSR1 pauses and SIGUSR2 resumes the session.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			opts := config.DefaultOptions()
			opts.Config = configFile
			loadErr := config.LoadConfig(opts, nil)

			flags := cmd.Flags()
			if flags.Changed("output-dir") {
				opts.RecordingOutputDir = outputDir
			}
			if flags.Changed("container") {
				opts.RecordingContainer = kind
			}
			if flags.Changed("video-device") {
				opts.VideoDevice = videoDevice
			}
			if flags.Changed("audio-device") {
				opts.AudioDevice = audioDevice
			}
			if noVideo {
				opts.RecordingVideo = false
			}
			if noAudio {
				opts.RecordingAudio = false
			}

			logger := initLogging(opts, logJSON)
			if loadErr != nil {
				logger.Warn("Failed to load config", "error", loadErr)
			}

			app, err := NewApp(opts, nil)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			control := make(chan os.Signal, 1)
			signal.Notify(control, syscall.SIGUSR1, syscall.SIGUSR2)
			defer signal.Stop(control)

			if err := runRecord(ctx, app.Recorder, app.SessionOptions(), recordParams{
				Duration: duration,
				Grace:    opts.EOSTimeout() + stopGrace,
				Control:  control,
				Logger:   logger,
			}); err != nil {
				logger.Error("Recording failed", "error", err)
				stop()
				os.Exit(1)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "config.toml", "Path to configuration file")
	flags.DurationVarP(&duration, "duration", "d", 0, "Stop after this long, 0 records until interrupted")
	flags.StringVarP(&outputDir, "output-dir", "o", "", "Directory receiving the recording")
	flags.StringVar(&kind, "container", "", "Container format (mp4, webm)")
	flags.StringVar(&videoDevice, "video-device", "", "V4L2 device, lavfi:<graph> or test")
	flags.StringVar(&audioDevice, "audio-device", "", "ALSA or PulseAudio device, lavfi:<graph> or test")
	flags.BoolVar(&noVideo, "no-video", false, "Do not record video")
	flags.BoolVar(&noAudio, "no-audio", false, "Do not record audio")
	flags.BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")

	return cmd
}

type recordParams struct {
	// Duration bounds the session. Zero runs until ctx is done.
	Duration time.Duration
	// Grace bounds the wait for a stopped session to finalize its file.
	Grace time.Duration
	// Control carries SIGUSR1 (pause) and SIGUSR2 (resume).
	Control <-chan os.Signal
	Logger  *slog.Logger
}

// runRecord starts a session and stops it when ctx ends or Duration
// elapses. It returns the session's aggregated failures.
func runRecord(ctx context.Context, rec recorder.Controller, opts recorder.Options, p recordParams) error {
	session, err := rec.Start(ctx, opts)
	if err != nil {
		return err
	}
	p.Logger.Info("Recording", "session_id", session.ID, "path", session.Path)

	var deadline <-chan time.Time
	if p.Duration > 0 {
		timer := time.NewTimer(p.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for stopped := false; !stopped; {
		select {
		case <-session.Done():
			p.Logger.Info("Session ended", "path", session.Path)
			return session.Err()
		case <-ctx.Done():
			p.Logger.Info("Interrupted, finalizing recording")
			stopped = true
		case <-deadline:
			p.Logger.Info("Duration reached", "duration", p.Duration)
			stopped = true
		case sig := <-p.Control:
			switch sig {
			case syscall.SIGUSR1:
				if err := rec.Pause(); err != nil {
					p.Logger.Warn("Failed to pause", "error", err)
				}
			case syscall.SIGUSR2:
				if err := rec.Resume(); err != nil {
					p.Logger.Warn("Failed to resume", "error", err)
				}
			}
		}
	}

	if _, err := rec.Stop(); err != nil && !errors.Is(err, media.ErrNoSession) {
		return err
	}

	grace := p.Grace
	if grace <= 0 {
		grace = stopGrace
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := session.Wait(waitCtx); err != nil {
		if waitCtx.Err() != nil {
			return fmt.Errorf("session %s did not finish within %s", session.ID, grace)
		}
		return err
	}
	p.Logger.Info("Recording saved", "path", session.Path)
	return nil
}
