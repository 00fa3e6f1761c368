package api

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// pages holds one parsed template set per page, each sharing the layout
type pages struct {
	index    *template.Template
	myFrames *template.Template
	errPage  *template.Template
}

func loadPages() (*pages, error) {
	parse := func(page string) (*template.Template, error) {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/gallery.html", "templates/"+page)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse template %s", page)
		}
		return t, nil
	}

	index, err := parse("index.html")
	if err != nil {
		return nil, err
	}
	myFrames, err := parse("my_frames.html")
	if err != nil {
		return nil, err
	}
	errPage, err := parse("error.html")
	if err != nil {
		return nil, err
	}

	return &pages{
		index:    index,
		myFrames: myFrames,
		errPage:  errPage,
	}, nil
}

// frameView is a gallery entry
type frameView struct {
	*models.Frame
	CanDelete bool
}

// pageData is everything a page template can render
type pageData struct {
	Title     string
	Profile   *models.Profile
	SignInURL string
	Message   string
	Error     string
	Frames    []frameView
}

func newFrameViews(list []*models.Frame, viewerID string) []frameView {
	views := make([]frameView, 0, len(list))
	for _, f := range list {
		views = append(views, frameView{
			Frame:     f,
			CanDelete: viewerID != "" && f.OwnerID == viewerID,
		})
	}
	return views
}

// render executes t into a buffer first so a template error never leaves
// a half-written page behind.
func render(w http.ResponseWriter, r *http.Request, t *template.Template, status int, data pageData) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to render page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render(w, r, h.pages.errPage, status, pageData{
		Title: http.StatusText(status),
		Error: msg,
	})
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
