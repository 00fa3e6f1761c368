// Package identity talks to Steam: OpenID sign-in and profile lookup.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/shehryarbajwa/custom-frames/internal/metrics"
	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

const (
	// DefaultAPIBase is the Steam Web API root
	DefaultAPIBase = "https://api.steampowered.com"

	defaultTimeout = 10 * time.Second
)

// LookupError reports that a Steam profile could not be resolved. No
// fallback identity is substituted.
type LookupError struct {
	SteamID string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("steam profile lookup for %s failed: %v", e.SteamID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Resolver looks up public Steam profiles via ISteamUser/GetPlayerSummaries
type Resolver struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithAPIBase points the resolver at another API root.
func WithAPIBase(base string) ResolverOption {
	return func(r *Resolver) {
		r.apiBase = base
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.client = c
	}
}

// NewResolver creates a resolver using apiKey.
func NewResolver(apiKey string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		apiKey:  apiKey,
		apiBase: DefaultAPIBase,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type playerSummaries struct {
	Response struct {
		Players []models.Profile `json:"players"`
	} `json:"response"`
}

// Resolve fetches the profile of steamID.
func (r *Resolver) Resolve(ctx context.Context, steamID string) (*models.Profile, error) {
	profile, err := r.resolve(ctx, steamID)
	if err != nil {
		metrics.IdentityLookupsTotal.WithLabelValues("error").Inc()
		return nil, &LookupError{SteamID: steamID, Err: err}
	}
	metrics.IdentityLookupsTotal.WithLabelValues("success").Inc()
	return profile, nil
}

func (r *Resolver) resolve(ctx context.Context, steamID string) (*models.Profile, error) {
	if steamID == "" {
		return nil, errors.New("empty steam id")
	}

	q := url.Values{}
	q.Set("key", r.apiKey)
	q.Set("steamids", steamID)
	endpoint := r.apiBase + "/ISteamUser/GetPlayerSummaries/v2/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		// drop the URL, it carries the API key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, errors.Wrap(err, "steam api unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("steam api returned %d", resp.StatusCode)
	}

	var body playerSummaries
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode player summaries")
	}

	for i := range body.Response.Players {
		if body.Response.Players[i].SteamID == steamID {
			return &body.Response.Players[i], nil
		}
	}

	return nil, errors.New("no such player")
}
