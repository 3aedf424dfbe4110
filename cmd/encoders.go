package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/avrec/internal/config"
	"github.com/smazurov/avrec/internal/encoders"
	"github.com/smazurov/avrec/internal/media"
)

// encoderCatalog is the part of encoders.Catalog the commands use.
type encoderCatalog interface {
	Candidates(ctx context.Context, mime string) ([]encoders.Candidate, error)
	ValidateAll(ctx context.Context) (*encoders.ValidationResults, error)
}

// CreateEncodersCmd creates the encoders command with its list and
// validate subcommands.
func CreateEncodersCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "encoders",
		Short: "Inspect the encoders available to recordings",
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.toml", "Path to configuration file")

	load := func() *config.Options {
		opts := config.DefaultOptions()
		opts.Config = configFile
		loadErr := config.LoadConfig(opts, nil)
		logger := initLogging(opts, false)
		if loadErr != nil {
			logger.Warn("Failed to load config", "error", loadErr)
		}
		return opts
	}

	var track string
	list := &cobra.Command{
		Use:   "list",
		Short: "List encoder candidates in order of preference",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			app, err := NewApp(load(), nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
			kinds, err := parseTracks(track)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
			if err := listEncoders(cmd.Context(), app.Catalog, kinds, cmd.OutOrStdout()); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
		},
	}
	list.Flags().StringVarP(&track, "track", "t", "", "Only list encoders for this track (video, audio)")

	var output string
	var quiet bool
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Test-encode every compiled encoder and store the results",
		Long: `Runs a short test encode with every H.264 and AAC encoder compiled into ffmpeg ` +
			`and records which ones work. Recordings consult the stored results before picking an encoder.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			opts := load()
			if cmd.Flags().Changed("output") {
				opts.EncodersValidationFile = output
			}
			opts.EncodersValidate = true
			app, err := NewApp(opts, nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}

			out := cmd.OutOrStdout()
			if quiet {
				out = io.Discard
			}
			results, err := validateEncoders(cmd.Context(), app.Catalog, out)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
			if len(results.H264.Working) == 0 {
				fmt.Fprintln(os.Stderr, "No working H.264 encoder found")
				os.Exit(1)
			}
			fmt.Fprintf(out, "Results saved to %s\n", opts.EncodersValidationFile)
		},
	}
	validate.Flags().StringVarP(&output, "output", "o", "validated_encoders.toml", "Output file for validation results")
	validate.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the results summary")

	cmd.AddCommand(list, validate)
	return cmd
}

func parseTracks(track string) ([]media.TrackKind, error) {
	switch strings.ToLower(track) {
	case "":
		return []media.TrackKind{media.KindVideo, media.KindAudio}, nil
	case "video":
		return []media.TrackKind{media.KindVideo}, nil
	case "audio":
		return []media.TrackKind{media.KindAudio}, nil
	default:
		return nil, fmt.Errorf("unknown track %q", track)
	}
}

func listEncoders(ctx context.Context, cat encoderCatalog, kinds []media.TrackKind, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tENCODER\tHW\tCOMPILED\tSTATUS\tFAMILY")
	for _, kind := range kinds {
		candidates, err := cat.Candidates(ctx, media.MimeFor(kind))
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		for _, c := range candidates {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				kind, c.Name, yesNo(c.HWAccel), yesNo(c.Compiled), candidateStatus(c), c.Family)
		}
	}
	return tw.Flush()
}

func candidateStatus(c encoders.Candidate) string {
	switch {
	case !c.Validated:
		return "untested"
	case c.Working:
		return "working"
	default:
		return "failed"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func validateEncoders(ctx context.Context, cat encoderCatalog, w io.Writer) (*encoders.ValidationResults, error) {
	results, err := cat.ValidateAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, section := range []struct {
		name  string
		codec encoders.CodecValidation
	}{
		{"H.264", results.H264},
		{"AAC", results.AAC},
	} {
		fmt.Fprintf(w, "%s: %d working, %d failed\n", section.name, len(section.codec.Working), len(section.codec.Failed))
		for _, name := range section.codec.Working {
			fmt.Fprintf(w, "  ok    %s\n", name)
		}
		for _, name := range section.codec.Failed {
			fmt.Fprintf(w, "  fail  %s\n", name)
		}
	}
	return results, nil
}
