package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/shehryarbajwa/custom-frames/internal/session"
)

type sessionKey struct{}

// sessionMiddleware loads the caller's session into the request context.
// Handlers save it themselves once they are done changing it.
func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.Sessions.Load(r)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("session store unavailable")
			http.Error(w, "Session store unavailable", http.StatusServiceUnavailable)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFrom returns the session loaded by sessionMiddleware
func sessionFrom(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionKey{}).(*session.Session)
	return sess
}

// saveSession persists session changes, logging failures. The response
// still goes out; the user only loses the one-shot message.
func (h *Handler) saveSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := h.Sessions.Save(r.Context(), w, sess); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to save session")
	}
}

// recoverMiddleware turns a handler panic into a 500
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hlog.FromRequest(r).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// accessLogMiddleware attaches a request-scoped logger and logs every request
func accessLogMiddleware() []mux.MiddlewareFunc {
	return []mux.MiddlewareFunc{
		hlog.NewHandler(log.Logger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
		hlog.RemoteAddrHandler("ip"),
		hlog.UserAgentHandler("user_agent"),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
	}
}
