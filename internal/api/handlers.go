package api

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/shehryarbajwa/custom-frames/internal/frames"
	"github.com/shehryarbajwa/custom-frames/internal/metrics"
	"github.com/shehryarbajwa/custom-frames/internal/ratelimit"
	"github.com/shehryarbajwa/custom-frames/internal/upload"
	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

// multipartMemory is kept in memory before the parser spills to temp files
const multipartMemory = 1 << 20

var assetTypes = map[string]string{
	".png":  "image/png",
	".dds":  "image/vnd-ms.dds",
	".json": "application/json",
}

// Index handles GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	list, err := h.Store.List(r.Context(), frames.Filter{})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list frames")
		h.renderError(w, r, http.StatusInternalServerError, "Could not list frames")
		return
	}

	data := pageData{
		Frames: newFrameViews(list, sess.SteamID()),
	}

	if sess.Authenticated() {
		profile, err := h.Profiles.Resolve(r.Context(), sess.SteamID())
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("steam_id", sess.SteamID()).Msg("failed to resolve profile")
			h.renderError(w, r, http.StatusBadGateway, "Could not reach Steam, please try again later")
			return
		}
		data.Profile = profile
	} else {
		data.SignInURL = h.SignIn.AuthURL()
	}

	// the flash is consumed only by a page that shows it
	data.Message, data.Error = sess.PopFlash()
	h.saveSession(w, r, sess)

	render(w, r, h.pages.index, http.StatusOK, data)
}

// MyFrames handles GET /my-frames
func (h *Handler) MyFrames(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if !sess.Authenticated() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	list, err := h.Store.List(r.Context(), frames.Filter{OwnerID: sess.SteamID()})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list frames")
		h.renderError(w, r, http.StatusInternalServerError, "Could not list frames")
		return
	}

	profile, err := h.Profiles.Resolve(r.Context(), sess.SteamID())
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("steam_id", sess.SteamID()).Msg("failed to resolve profile")
		h.renderError(w, r, http.StatusBadGateway, "Could not reach Steam, please try again later")
		return
	}

	render(w, r, h.pages.myFrames, http.StatusOK, pageData{
		Title:   "My frames",
		Profile: profile,
		Frames:  newFrameViews(list, sess.SteamID()),
	})
}

// Upload handles POST /upload and POST /
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	logger := hlog.FromRequest(r)

	if !sess.Authenticated() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	steamID := sess.SteamID()

	if h.Uploader.Banned(steamID) {
		logger.Info().Str("steam_id", steamID).Msg("upload from banned id refused")
		metrics.UploadsTotal.WithLabelValues("banned").Inc()
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if h.Limiter != nil {
		allowed := h.Limiter.Allow(steamID)
		setRateLimitHeaders(w, h.Limiter, steamID)
		if !allowed {
			logger.Info().Str("steam_id", steamID).Msg("upload rate limited")
			metrics.UploadsTotal.WithLabelValues("limited").Inc()
			http.Error(w, "Too many uploads, please try again later", http.StatusTooManyRequests)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sess.SetError("File is too large")
		} else {
			sess.SetError("File not a png")
		}
		metrics.UploadsTotal.WithLabelValues(string(upload.StateRejected)).Inc()
		h.finishUpload(w, r)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, err := readUpload(r)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read upload")
		sess.SetError("Upload failed")
		h.finishUpload(w, r)
		return
	}

	frame, err := h.Uploader.Process(r.Context(), steamID, file)
	if err != nil {
		sess.SetError(upload.UserMessage(err))
		h.finishUpload(w, r)
		return
	}

	sess.SetMessage("Upload successful")
	if h.Live != nil {
		h.Live.Publish(models.FrameEvent{Type: models.EventCreated, ID: frame.ID, SteamID: steamID})
	}
	h.finishUpload(w, r)
}

func setRateLimitHeaders(w http.ResponseWriter, limiter *ratelimit.Limiter, steamID string) {
	remaining := int(limiter.Tokens(steamID))
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

func (h *Handler) finishUpload(w http.ResponseWriter, r *http.Request) {
	h.saveSession(w, r, sessionFrom(r))
	http.Redirect(w, r, "/", http.StatusFound)
}

// readUpload returns the "image" part of the form, or nil when none was sent
func readUpload(r *http.Request) (*upload.File, error) {
	f, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to open uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read uploaded file")
	}

	return &upload.File{
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// DeleteFrame handles DELETE /img/{id}
func (h *Handler) DeleteFrame(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if !sess.Authenticated() {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id := mux.Vars(r)["id"]
	err := h.Store.Delete(r.Context(), id, sess.SteamID())
	switch {
	case err == nil:
		metrics.DeletesTotal.WithLabelValues("deleted").Inc()
	case errors.Is(err, frames.ErrNotFound):
		metrics.DeletesTotal.WithLabelValues("not_found").Inc()
		http.Error(w, "Not found", http.StatusNotFound)
		return
	case errors.Is(err, frames.ErrForbidden):
		metrics.DeletesTotal.WithLabelValues("forbidden").Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	default:
		metrics.DeletesTotal.WithLabelValues("error").Inc()
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("failed to delete frame")

		// the metadata is gone, so the frame has left every listing
		var partial *frames.PartialDeleteError
		if errors.As(err, &partial) {
			h.publishDeleted(id, sess.SteamID())
		}
		http.Error(w, "Failed to delete frame", http.StatusInternalServerError)
		return
	}

	h.publishDeleted(id, sess.SteamID())
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) publishDeleted(id, steamID string) {
	if h.Live != nil {
		h.Live.Publish(models.FrameEvent{Type: models.EventDeleted, ID: id, SteamID: steamID})
	}
}

// ServeAsset handles GET /img/{id} where id carries the extension
func (h *Handler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]
	p, err := h.Store.AssetPath(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", assetTypes[filepath.Ext(name)])
	http.ServeFile(w, r, p)
}

// Preview handles GET /preview/{id}
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, err := h.Store.Preview(r.Context(), id, frames.PreviewHeight)
	if err != nil {
		if errors.Is(err, frames.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("failed to render preview")
		http.Error(w, "Failed to render preview", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}

// Login handles GET /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.SignIn.AuthURL(), http.StatusFound)
}

// Auth handles the OpenID callback at GET /auth
func (h *Handler) Auth(w http.ResponseWriter, r *http.Request) {
	steamID, err := h.SignIn.Verify(r.Context(), r.URL.Query())
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("steam sign-in failed")
		http.Error(w, "Failed to sign in with Steam", http.StatusForbidden)
		return
	}

	sess := sessionFrom(r)
	h.Sessions.Renew(sess)
	sess.SetSteamID(steamID)
	if err := h.Sessions.Save(r.Context(), w, sess); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to save session")
		http.Error(w, "Failed to sign in with Steam", http.StatusInternalServerError)
		return
	}

	hlog.FromRequest(r).Info().Str("steam_id", steamID).Msg("signed in")
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout handles GET and POST /logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Destroy(r.Context(), w, sessionFrom(r)); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to destroy session")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

var (
	templateOnce sync.Once
	templatePNG  []byte
)

// Template handles GET /template.png
func (h *Handler) Template(w http.ResponseWriter, r *http.Request) {
	templateOnce.Do(func() {
		templatePNG = blankTemplate()
	})

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="template.png"`)
	w.Write(templatePNG)
}

// blankTemplate draws a transparent frame-sized canvas with a thin border
// marking the edge.
func blankTemplate() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, upload.Width, upload.Height))
	edge := color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	for x := 0; x < upload.Width; x++ {
		img.SetNRGBA(x, 0, edge)
		img.SetNRGBA(x, upload.Height-1, edge)
	}
	for y := 0; y < upload.Height; y++ {
		img.SetNRGBA(0, y, edge)
		img.SetNRGBA(upload.Width-1, y, edge)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}
