package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shehryarbajwa/custom-frames/internal/frames"
	"github.com/shehryarbajwa/custom-frames/internal/metrics"
	"github.com/shehryarbajwa/custom-frames/internal/ratelimit"
	"github.com/shehryarbajwa/custom-frames/internal/session"
	"github.com/shehryarbajwa/custom-frames/internal/upload"
	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

// FrameStore is the record store as seen by the handlers
type FrameStore interface {
	List(ctx context.Context, filter frames.Filter) ([]*models.Frame, error)
	Delete(ctx context.Context, id, requesterID string) error
	AssetPath(name string) (string, error)
	Preview(ctx context.Context, id string, height int) ([]byte, error)
}

// Uploader runs the upload pipeline
type Uploader interface {
	Banned(steamID string) bool
	Process(ctx context.Context, steamID string, file *upload.File) (*models.Frame, error)
}

// ProfileResolver looks up Steam profiles for page headers
type ProfileResolver interface {
	Resolve(ctx context.Context, steamID string) (*models.Profile, error)
}

// Authenticator performs Steam sign-in
type Authenticator interface {
	AuthURL() string
	Verify(ctx context.Context, query url.Values) (string, error)
}

// LiveFeed publishes frame events and serves subscribers
type LiveFeed interface {
	Publish(ev models.FrameEvent)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Deps are the collaborators of the HTTP layer
type Deps struct {
	Store    FrameStore
	Uploader Uploader
	Profiles ProfileResolver
	SignIn   Authenticator
	Sessions *session.Manager
	Limiter  *ratelimit.Limiter
	Live     LiveFeed
	Registry *prometheus.Registry
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	Deps
	pages *pages
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) (*Handler, error) {
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	return &Handler{
		Deps:  deps,
		pages: p,
	}, nil
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Operational endpoints, no session
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	if h.Registry != nil {
		r.Handle("/metrics", metrics.Handler(h.Registry)).Methods("GET")
	}
	r.PathPrefix("/static/").Handler(staticHandler()).Methods("GET")
	r.HandleFunc("/template.png", h.Template).Methods("GET")
	r.HandleFunc("/img/{id}", h.ServeAsset).Methods("GET", "HEAD")
	r.HandleFunc("/preview/{id}", h.Preview).Methods("GET")
	if h.Live != nil {
		r.HandleFunc("/ws", h.Live.ServeWS).Methods("GET")
	}

	// Session-aware endpoints
	app := r.PathPrefix("").Subrouter()
	app.Use(h.sessionMiddleware)

	app.HandleFunc("/", h.Index).Methods("GET")
	app.HandleFunc("/my-frames", h.MyFrames).Methods("GET")
	app.HandleFunc("/upload", h.Upload).Methods("POST")
	app.HandleFunc("/", h.Upload).Methods("POST")
	app.HandleFunc("/img/{id}", h.DeleteFrame).Methods("DELETE")
	app.HandleFunc("/login", h.Login).Methods("GET")
	app.HandleFunc("/auth", h.Auth).Methods("GET")
	app.HandleFunc("/logout", h.Logout).Methods("GET", "POST")

	r.Use(accessLogMiddleware()...)
	r.Use(recoverMiddleware)

	return r
}
