package encoders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/avrec/internal/codec"
	"github.com/smazurov/avrec/internal/codec/ffenc"
	"github.com/smazurov/avrec/internal/encoders/validation"
	"github.com/smazurov/avrec/internal/logging"
	"github.com/smazurov/avrec/internal/media"
)

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	// Registry defaults to CreateValidatorRegistry.
	Registry *validation.ValidatorRegistry
	// List returns the encoders compiled into ffmpeg. Defaults to
	// GetFFmpegEncoders.
	List func(ctx context.Context) (*EncoderList, error)
	// Validate runs a test encode before an encoder is first offered.
	Validate bool
	// Validator defaults to the validator's own Validate.
	Validator func(ctx context.Context, v validation.EncoderValidator, name string) error
	// Storage persists validation outcomes between runs. Optional.
	Storage Storage

	// Video and Audio pin the encoder for a track. Empty means automatic.
	Video string
	Audio string

	ProgressDir string
	LogLevel    string
	Logger      *slog.Logger
}

// Candidate is one encoder considered for a track.
type Candidate struct {
	Name        string `json:"name" example:"h264_vaapi" doc:"FFmpeg encoder name"`
	Family      string `json:"family" example:"Hardware vaapi encoders" doc:"Encoder family"`
	HWAccel     bool   `json:"hwaccel" doc:"Runs on dedicated hardware"`
	Compiled    bool   `json:"compiled" doc:"Present in the ffmpeg build"`
	Validated   bool   `json:"validated" doc:"A test encode was attempted"`
	Working     bool   `json:"working" doc:"The test encode succeeded"`
	Description string `json:"description,omitempty" doc:"FFmpeg description"`
}

// Catalog implements codec.Lookup over ffmpeg encoders, trying hardware
// families before software ones.
type Catalog struct {
	opts   CatalogOptions
	logger *slog.Logger

	mu      sync.Mutex
	list    *EncoderList
	results *ValidationResults
}

// NewCatalog creates a catalog.
func NewCatalog(opts CatalogOptions) *Catalog {
	if opts.Registry == nil {
		opts.Registry = CreateValidatorRegistry()
	}
	if opts.List == nil {
		opts.List = GetFFmpegEncoders
	}
	if opts.Validator == nil {
		opts.Validator = func(ctx context.Context, v validation.EncoderValidator, name string) error {
			return v.Validate(ctx, name)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("encoders")
	}
	return &Catalog{opts: opts, logger: logger}
}

// isVideoEncoder matches the H.264 encoders.
func isVideoEncoder(name string) bool {
	return strings.HasPrefix(name, "h264_") || name == "libx264" || name == "libopenh264"
}

func isAudioEncoder(name string) bool {
	return name == "aac" || name == "libfdk_aac"
}

func matcher(mime string) (func(string) bool, error) {
	switch mime {
	case media.MimeVideoAVC:
		return isVideoEncoder, nil
	case media.MimeAudioAAC:
		return isAudioEncoder, nil
	default:
		return nil, media.NewError(media.ErrCodeCapability, fmt.Sprintf("no encoder family for %s", mime), media.ErrCapabilityUnavailable)
	}
}

func (c *Catalog) override(mime string) string {
	if mime == media.MimeAudioAAC {
		return c.opts.Audio
	}
	return c.opts.Video
}

func (c *Catalog) encoders(ctx context.Context) (*EncoderList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.list != nil {
		return c.list, nil
	}
	list, err := c.opts.List(ctx)
	if err != nil {
		return nil, err
	}
	c.list = list
	return list, nil
}

func (c *Catalog) validation() *ValidationResults {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results != nil {
		return c.results
	}
	c.results = &ValidationResults{}
	if c.opts.Storage != nil {
		results, err := c.opts.Storage.Load()
		if err != nil {
			c.logger.Warn("Ignoring stored validation results", "error", err)
		} else {
			c.results = results
		}
	}
	return c.results
}

func codecResults(r *ValidationResults, mime string) *CodecValidation {
	if mime == media.MimeAudioAAC {
		return &r.AAC
	}
	return &r.H264
}

// working runs or recalls the test encode of name.
func (c *Catalog) working(ctx context.Context, mime, name string, v validation.EncoderValidator) (bool, error) {
	results := c.validation()

	c.mu.Lock()
	ok, known := codecResults(results, mime).lookup(name)
	c.mu.Unlock()
	if known {
		return ok, nil
	}

	err := c.opts.Validator(ctx, v, name)
	ok = err == nil
	if err != nil {
		c.logger.Info("Encoder failed validation", "encoder", name, "error", err)
	} else {
		c.logger.Info("Encoder validated", "encoder", name)
	}

	c.mu.Lock()
	codecResults(results, mime).record(name, ok)
	results.Timestamp = time.Now().UTC().Format(time.RFC3339)
	c.mu.Unlock()

	if c.opts.Storage != nil {
		if serr := c.opts.Storage.Save(results); serr != nil {
			c.logger.Warn("Failed to save validation results", "error", serr)
		}
	}
	return ok, err
}

// FindEncoder implements codec.Lookup.
func (c *Catalog) FindEncoder(mime string) (codec.Capability, error) {
	return c.Find(context.Background(), mime)
}

// Find returns the first usable encoder for mime.
func (c *Catalog) Find(ctx context.Context, mime string) (codec.Capability, error) {
	match, err := matcher(mime)
	if err != nil {
		return codec.Capability{}, err
	}
	list, err := c.encoders(ctx)
	if err != nil {
		return codec.Capability{}, media.NewError(media.ErrCodeCapability, "failed to list encoders",
			errors.Join(media.ErrCapabilityUnavailable, err))
	}

	names := c.opts.Registry.Candidates(match)
	if pinned := c.override(mime); pinned != "" {
		names = []string{pinned}
	}

	var errs []error
	for _, name := range names {
		enc, ok := list.Find(name)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: not compiled into ffmpeg", name))
			continue
		}
		v := c.opts.Registry.FindValidator(name)
		if v == nil {
			errs = append(errs, fmt.Errorf("%s: no validator", name))
			continue
		}
		if c.opts.Validate {
			if ok, verr := c.working(ctx, mime, name, v); !ok {
				if verr == nil {
					verr = errors.New("failed validation earlier")
				}
				errs = append(errs, fmt.Errorf("%s: %w", name, verr))
				continue
			}
		}

		capability, err := c.capability(mime, enc, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		c.logger.Info("Selected encoder", "mime", mime, "encoder", name, "hwaccel", capability.HWAccel)
		return capability, nil
	}

	return codec.Capability{}, media.NewError(media.ErrCodeCapability,
		fmt.Sprintf("no usable encoder for %s", mime),
		errors.Join(append([]error{media.ErrCapabilityUnavailable}, errs...)...))
}

func (c *Catalog) capability(mime string, enc Encoder, v validation.EncoderValidator) (codec.Capability, error) {
	settings, err := v.GetProductionSettings(enc.Name)
	if err != nil {
		return codec.Capability{}, err
	}
	name := enc.Name
	quality := func(bitrate int) (validation.EncoderParams, error) {
		return v.GetQualityParams(name, &validation.QualityParams{
			Mode:    validation.RateControlCBR,
			Bitrate: bitrate,
		})
	}
	return codec.Capability{
		Name:        name,
		Mime:        mime,
		HWAccel:     v.HWAccel(),
		Description: enc.Description,
		Open: func() (codec.Encoder, error) {
			return ffenc.New(ffenc.Config{
				Name:        name,
				Settings:    settings,
				Quality:     quality,
				ProgressDir: c.opts.ProgressDir,
				LogLevel:    c.opts.LogLevel,
			}), nil
		},
	}, nil
}

// Candidates reports every encoder considered for mime, in order of
// preference, without running new test encodes.
func (c *Catalog) Candidates(ctx context.Context, mime string) ([]Candidate, error) {
	match, err := matcher(mime)
	if err != nil {
		return nil, err
	}
	list, err := c.encoders(ctx)
	if err != nil {
		return nil, err
	}
	results := c.validation()

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Candidate
	for _, name := range c.opts.Registry.Candidates(match) {
		cand := Candidate{Name: name}
		if v := c.opts.Registry.FindValidator(name); v != nil {
			cand.Family = v.GetDescription()
			cand.HWAccel = v.HWAccel()
		}
		if enc, ok := list.Find(name); ok {
			cand.Compiled = true
			cand.Description = enc.Description
		}
		cand.Working, cand.Validated = codecResults(results, mime).lookup(name)
		out = append(out, cand)
	}
	return out, nil
}

// ValidateAll test-encodes every compiled candidate of both tracks and
// returns the resulting record.
func (c *Catalog) ValidateAll(ctx context.Context) (*ValidationResults, error) {
	list, err := c.encoders(ctx)
	if err != nil {
		return nil, err
	}
	results := c.validation()

	c.mu.Lock()
	results.H264 = CodecValidation{}
	results.AAC = CodecValidation{}
	c.mu.Unlock()

	for _, mime := range []string{media.MimeVideoAVC, media.MimeAudioAAC} {
		match, _ := matcher(mime)
		for _, name := range c.opts.Registry.Candidates(match) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, ok := list.Find(name); !ok {
				continue
			}
			v := c.opts.Registry.FindValidator(name)
			if v == nil {
				continue
			}
			_, _ = c.working(ctx, mime, name, v)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *results
	return &snapshot, nil
}
