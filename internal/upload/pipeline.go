// Package upload validates submitted frames and hands them to the store.
package upload

import (
	"bytes"
	"context"
	"image"
	_ "image/png" // only PNG is registered, other formats fail DecodeConfig
	"mime"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/shehryarbajwa/custom-frames/internal/frames"
	"github.com/shehryarbajwa/custom-frames/internal/identity"
	"github.com/shehryarbajwa/custom-frames/internal/metrics"
	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

const (
	// Width and Height are the only accepted frame dimensions
	Width  = 512
	Height = 600

	// MaxSize caps the accepted upload body
	MaxSize = 10 << 20
)

// Validation reasons
const (
	ReasonNotPNG          = "not a png"
	ReasonWrongFormat     = "wrong format"
	ReasonWrongDimensions = "wrong dimensions"
)

// ValidationError is a user-correctable problem with the submitted file
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// State is a step of a single upload attempt
type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StateConverting State = "converting"
	StatePublished  State = "published"
	StateFailed     State = "failed"
)

// File is a submitted upload. A nil *File means nothing was attached.
type File struct {
	ContentType string
	Data        []byte
}

// IdentityResolver looks up the display profile of a Steam id
type IdentityResolver interface {
	Resolve(ctx context.Context, steamID string) (*models.Profile, error)
}

// FrameCreator persists a validated frame
type FrameCreator interface {
	Create(ctx context.Context, owner models.Owner, src []byte) (*models.Frame, error)
}

// Pipeline runs validate -> resolve owner -> store.Create, stopping at the
// first failure
type Pipeline struct {
	resolver IdentityResolver
	store    FrameCreator
	banned   map[string]struct{}
}

// NewPipeline creates a pipeline. Uploads from bannedIDs are refused
// before any other work.
func NewPipeline(resolver IdentityResolver, store FrameCreator, bannedIDs []string) *Pipeline {
	banned := make(map[string]struct{}, len(bannedIDs))
	for _, id := range bannedIDs {
		if id != "" {
			banned[id] = struct{}{}
		}
	}
	return &Pipeline{
		resolver: resolver,
		store:    store,
		banned:   banned,
	}
}

// Banned reports whether steamID is on the deny-list.
func (p *Pipeline) Banned(steamID string) bool {
	_, ok := p.banned[steamID]
	return ok
}

// Process takes one upload attempt from Received to a terminal state.
func (p *Pipeline) Process(ctx context.Context, steamID string, file *File) (*models.Frame, error) {
	logger := log.With().Str("steam_id", steamID).Logger()
	logger.Debug().Str("state", string(StateReceived)).Msg("upload")

	logger.Debug().Str("state", string(StateValidating)).Msg("upload")
	if err := Validate(file); err != nil {
		logger.Info().Str("state", string(StateRejected)).Str("reason", err.Error()).Msg("upload")
		metrics.UploadsTotal.WithLabelValues(string(StateRejected)).Inc()
		return nil, err
	}

	profile, err := p.resolver.Resolve(ctx, steamID)
	if err != nil {
		logger.Warn().Err(err).Str("state", string(StateFailed)).Msg("upload")
		metrics.UploadsTotal.WithLabelValues(string(StateFailed)).Inc()
		return nil, err
	}

	logger.Debug().Str("state", string(StateConverting)).Msg("upload")
	frame, err := p.store.Create(ctx, profile.Owner(), file.Data)
	if err != nil {
		logger.Error().Err(err).Str("state", string(StateFailed)).Msg("upload")
		metrics.UploadsTotal.WithLabelValues(string(StateFailed)).Inc()
		return nil, err
	}

	logger.Info().Str("state", string(StatePublished)).Str("id", frame.ID).Msg("upload")
	metrics.UploadsTotal.WithLabelValues(string(StatePublished)).Inc()
	return frame, nil
}

// Validate checks the declared type, then the actual format and size of
// the image. The declared type alone is never trusted.
func Validate(file *File) error {
	if file == nil || len(file.Data) == 0 {
		return &ValidationError{Reason: ReasonNotPNG}
	}

	mediaType, _, err := mime.ParseMediaType(file.ContentType)
	if err != nil || mediaType != "image/png" {
		return &ValidationError{Reason: ReasonNotPNG}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(file.Data))
	if err != nil || format != "png" {
		return &ValidationError{Reason: ReasonWrongFormat}
	}

	if cfg.Width != Width || cfg.Height != Height {
		return &ValidationError{Reason: ReasonWrongDimensions}
	}

	return nil
}

// UserMessage turns a pipeline error into the one-shot text shown to the user.
func UserMessage(err error) string {
	var validationErr *ValidationError
	var conversionErr *frames.ConversionError
	var lookupErr *identity.LookupError

	switch {
	case errors.As(err, &validationErr):
		if validationErr.Reason == ReasonWrongDimensions {
			return "File must be 512x600 pixels"
		}
		return "File not a png"
	case errors.As(err, &conversionErr):
		return "Could not convert the frame, please try again"
	case errors.As(err, &lookupErr):
		return "Could not reach Steam, please try again later"
	default:
		return "Upload failed"
	}
}
