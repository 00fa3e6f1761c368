// Package session maps an opaque cookie token to server-side session data.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

// CookieName is the name of the session cookie
const CookieName = "frames_session"

// Session is the state of one browser session during a request
type Session struct {
	Token    string
	Data     *models.SessionData
	modified bool
	previous string
}

// SteamID returns the signed-in Steam id or "".
func (s *Session) SteamID() string {
	return s.Data.SteamID
}

// Authenticated reports whether the user signed in.
func (s *Session) Authenticated() bool {
	return s.Data.Authenticated()
}

// SetSteamID records a verified sign-in.
func (s *Session) SetSteamID(id string) {
	s.Data.SteamID = id
	s.modified = true
}

// SetMessage stores a one-shot success message.
func (s *Session) SetMessage(msg string) {
	s.Data.Message = msg
	s.modified = true
}

// SetError stores a one-shot error message.
func (s *Session) SetError(msg string) {
	s.Data.Error = msg
	s.modified = true
}

// PopFlash returns and clears the one-shot message and error.
func (s *Session) PopFlash() (message, errMsg string) {
	message, errMsg = s.Data.Message, s.Data.Error
	if message != "" || errMsg != "" {
		s.Data.Message = ""
		s.Data.Error = ""
		s.modified = true
	}
	return message, errMsg
}

// Manager loads and saves sessions for HTTP requests
type Manager struct {
	store  Store
	secure bool
	maxAge time.Duration
}

// NewManager creates a manager. secure marks the cookie Secure, which
// production deployments behind TLS should set.
func NewManager(store Store, secure bool) *Manager {
	return &Manager{
		store:  store,
		secure: secure,
		maxAge: DefaultTTL,
	}
}

// Load returns the session of r, or a fresh unsaved one when the cookie is
// missing, unknown or expired.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		data, err := m.store.Get(r.Context(), c.Value)
		switch {
		case err == nil:
			return &Session{Token: c.Value, Data: data}, nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidToken):
		default:
			return nil, errors.Wrap(err, "failed to load session")
		}
	}

	return m.fresh(), nil
}

// Renew moves the session to a new token. Called after sign-in so a token
// handed out before authentication cannot be reused.
func (m *Manager) Renew(s *Session) {
	s.previous = s.Token
	s.Token = uuid.New().String()
	s.modified = true
}

// Save persists a modified session and refreshes the cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if !s.modified {
		return nil
	}

	if err := m.store.Put(ctx, s.Token, s.Data); err != nil {
		return errors.Wrap(err, "failed to save session")
	}
	if s.previous != "" {
		if err := m.store.Delete(ctx, s.previous); err != nil {
			log.Warn().Err(err).Msg("failed to drop renewed session")
		}
		s.previous = ""
	}
	s.modified = false

	http.SetCookie(w, m.cookie(s.Token, int(m.maxAge.Seconds())))
	return nil
}

// Destroy deletes the session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	http.SetCookie(w, m.cookie("", -1))
	if err := m.store.Delete(ctx, s.Token); err != nil {
		return errors.Wrap(err, "failed to destroy session")
	}
	return nil
}

func (m *Manager) fresh() *Session {
	return &Session{
		Token: uuid.New().String(),
		Data:  &models.SessionData{CreatedAt: time.Now().UTC()},
	}
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
