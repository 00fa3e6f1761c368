package frames

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

const (
	extPNG  = ".png"
	extDDS  = ".dds"
	extJSON = ".json"

	// tmpPrefix marks files that are not yet part of a record
	tmpPrefix = ".tmp-"

	maxIDAttempts = 5
)

// Converter turns the PNG at src into a DDS texture at dst
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// Store keeps frame records as files in a single directory. A record is
// visible once its <id>.json exists; the json is always written after both
// binary assets and removed before them.
type Store struct {
	dir       string
	converter Converter
	now       func() time.Time
	newID     func() (string, error)
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides frame id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// Filter restricts List results
type Filter struct {
	OwnerID string
}

// NewStore creates a store rooted at dir, creating the directory if needed
// and removing temp files left behind by an earlier crash.
func NewStore(dir string, converter Converter, opts ...Option) (*Store, error) {
	if converter == nil {
		return nil, errors.New("converter is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create frame directory %s", dir)
	}

	s := &Store{
		dir:       dir,
		converter: converter,
		now:       time.Now,
		newID:     NewID,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.sweepTemp(); err != nil {
		return nil, err
	}

	return s, nil
}

// Dir returns the directory holding the records.
func (s *Store) Dir() string {
	return s.dir
}

// List scans the directory and returns every valid record, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*models.Frame, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read frame directory")
	}

	frames := make([]*models.Frame, 0, len(entries)/3)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, extJSON) {
			continue
		}

		id := strings.TrimSuffix(name, extJSON)
		if !ValidID(id) {
			continue
		}

		frame, err := s.load(id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.Warn().Err(err).Str("id", id).Msg("skipping unreadable frame metadata")
			}
			continue
		}

		if filter.OwnerID != "" && frame.OwnerID != filter.OwnerID {
			continue
		}

		if !s.assetsExist(id) {
			continue
		}

		frames = append(frames, frame)
	}

	sort.Slice(frames, func(i, j int) bool {
		if !frames[i].CreatedAt.Equal(frames[j].CreatedAt) {
			return frames[i].CreatedAt.After(frames[j].CreatedAt)
		}
		return frames[i].ID < frames[j].ID
	})

	return frames, nil
}

// Get returns a single visible record.
func (s *Store) Get(ctx context.Context, id string) (*models.Frame, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if !s.assetsExist(id) {
		return nil, ErrNotFound
	}

	return frame, nil
}

// Create stores src under a fresh id, converts it and publishes the record.
// On failure nothing written for the new id is left behind.
func (s *Store) Create(ctx context.Context, owner models.Owner, src []byte) (*models.Frame, error) {
	if owner.SteamID == "" {
		return nil, errors.New("owner steam id is required")
	}

	id, err := s.allocateID()
	if err != nil {
		return nil, err
	}

	pngPath := s.path(id, extPNG)
	ddsPath := s.path(id, extDDS)
	jsonPath := s.path(id, extJSON)
	ddsTemp := filepath.Join(s.dir, tmpPrefix+id+extDDS)

	if err := s.writeFile(pngPath, src); err != nil {
		return nil, errors.Wrapf(err, "failed to write source image for %s", id)
	}

	if err := s.converter.Convert(ctx, pngPath, ddsTemp); err != nil {
		s.discard(id, pngPath, ddsTemp)
		return nil, &ConversionError{ID: id, Err: err}
	}

	if info, err := os.Stat(ddsTemp); err != nil || info.Size() == 0 {
		s.discard(id, pngPath, ddsTemp)
		return nil, &ConversionError{ID: id, Err: errors.New("converter produced no output")}
	}

	if err := os.Rename(ddsTemp, ddsPath); err != nil {
		s.discard(id, pngPath, ddsTemp)
		return nil, errors.Wrapf(err, "failed to publish texture for %s", id)
	}

	createdAt := s.now().UTC()
	meta := models.FrameMetadata{
		SteamID:     owner.SteamID,
		PersonaName: owner.DisplayName,
		ProfileURL:  owner.ProfileURL,
		CreatedAt:   &createdAt,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		s.discard(id, pngPath, ddsPath)
		return nil, errors.Wrap(err, "failed to marshal frame metadata")
	}

	if err := s.writeFile(jsonPath, data); err != nil {
		s.discard(id, pngPath, ddsPath)
		return nil, errors.Wrapf(err, "failed to write metadata for %s", id)
	}

	log.Info().Str("id", id).Str("steam_id", owner.SteamID).Msg("frame created")

	return &models.Frame{
		ID:               id,
		OwnerID:          owner.SteamID,
		OwnerDisplayName: owner.DisplayName,
		OwnerProfileURL:  owner.ProfileURL,
		CreatedAt:        createdAt,
	}, nil
}

// Delete removes a record owned by requesterID. The metadata goes first so
// the record leaves listings before its assets disappear. An asset that
// cannot be removed yields a *PartialDeleteError.
func (s *Store) Delete(ctx context.Context, id, requesterID string) error {
	if !ValidID(id) {
		return ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	frame, err := s.load(id)
	if err != nil {
		return err
	}

	if requesterID == "" || frame.OwnerID != requesterID {
		return ErrForbidden
	}

	if err := os.Remove(s.path(id, extJSON)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "failed to remove metadata for %s", id)
	}

	var firstErr error
	for _, ext := range []string{extDDS, extPNG} {
		if err := os.Remove(s.path(id, ext)); err != nil && !os.IsNotExist(err) {
			log.Error().Err(err).Str("id", id).Str("ext", ext).Msg("failed to remove frame asset")
			if firstErr == nil {
				firstErr = &PartialDeleteError{ID: id, Err: err}
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	log.Info().Str("id", id).Str("steam_id", requesterID).Msg("frame deleted")
	return nil
}

// AssetPath resolves a served file name (<id>.png, <id>.dds or <id>.json)
// to its path. Assets of records without metadata are never resolved.
func (s *Store) AssetPath(name string) (string, error) {
	ext := filepath.Ext(name)
	switch ext {
	case extPNG, extDDS, extJSON:
	default:
		return "", ErrNotFound
	}

	id := strings.TrimSuffix(name, ext)
	if !ValidID(id) {
		return "", ErrNotFound
	}

	if _, err := os.Stat(s.path(id, extJSON)); err != nil {
		return "", ErrNotFound
	}

	p := s.path(id, ext)
	if _, err := os.Stat(p); err != nil {
		return "", ErrNotFound
	}

	return p, nil
}

func (s *Store) path(id, ext string) string {
	return filepath.Join(s.dir, id+ext)
}

func (s *Store) load(id string) (*models.Frame, error) {
	p := s.path(id, extJSON)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to read metadata for %s", id)
	}

	var meta models.FrameMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(err, "failed to parse metadata for %s", id)
	}

	frame := &models.Frame{
		ID:               id,
		OwnerID:          meta.SteamID,
		OwnerDisplayName: meta.PersonaName,
		OwnerProfileURL:  meta.ProfileURL,
	}

	if meta.CreatedAt != nil {
		frame.CreatedAt = *meta.CreatedAt
	} else {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, errors.Wrapf(err, "failed to stat metadata for %s", id)
		}
		frame.CreatedAt = info.ModTime().UTC()
	}

	return frame, nil
}

func (s *Store) assetsExist(id string) bool {
	for _, ext := range []string{extPNG, extDDS} {
		if _, err := os.Stat(s.path(id, ext)); err != nil {
			return false
		}
	}
	return true
}

func (s *Store) allocateID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := s.newID()
		if err != nil {
			return "", err
		}
		if !s.taken(id) {
			return id, nil
		}
		log.Warn().Str("id", id).Msg("frame id collision, retrying")
	}
	return "", errors.Errorf("no free frame id after %d attempts", maxIDAttempts)
}

func (s *Store) taken(id string) bool {
	for _, ext := range []string{extPNG, extDDS, extJSON} {
		if _, err := os.Lstat(s.path(id, ext)); err == nil {
			return true
		}
	}
	return false
}

// writeFile writes through a temp file and renames it into place.
func (s *Store) writeFile(target string, data []byte) error {
	f, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) discard(id string, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Error().Err(err).Str("id", id).Str("path", p).Msg("failed to clean up partial frame")
		}
	}
}

func (s *Store) sweepTemp() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, "failed to read frame directory")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tmpPrefix) {
			continue
		}
		p := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove stale temp file %s", p)
		}
		log.Debug().Str("path", p).Msg("removed stale temp file")
	}
	return nil
}
