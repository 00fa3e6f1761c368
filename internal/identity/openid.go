package identity

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	// SteamOpenIDEndpoint is Steam's OpenID 2.0 provider
	SteamOpenIDEndpoint = "https://steamcommunity.com/openid/login"

	openIDNamespace      = "http://specs.openid.net/auth/2.0"
	openIDIdentifierPick = "http://specs.openid.net/auth/2.0/identifier_select"
)

var claimedIDPattern = regexp.MustCompile(`^https?://steamcommunity\.com/openid/id/(\d{1,20})$`)

// ErrSignInRejected is returned when Steam does not vouch for a callback
var ErrSignInRejected = errors.New("steam sign-in rejected")

// SignIn implements the relying-party side of Steam's OpenID 2.0 login
type SignIn struct {
	endpoint string
	realm    string
	returnTo string
	client   *http.Client
}

// NewSignIn creates a SignIn for a site reachable at realm whose callback
// handler lives at returnTo.
func NewSignIn(realm, returnTo string, opts ...SignInOption) *SignIn {
	s := &SignIn{
		endpoint: SteamOpenIDEndpoint,
		realm:    realm,
		returnTo: returnTo,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignInOption configures a SignIn
type SignInOption func(*SignIn)

// WithEndpoint overrides the OpenID provider endpoint.
func WithEndpoint(endpoint string) SignInOption {
	return func(s *SignIn) {
		s.endpoint = endpoint
	}
}

// WithSignInClient replaces the HTTP client used for verification.
func WithSignInClient(c *http.Client) SignInOption {
	return func(s *SignIn) {
		s.client = c
	}
}

// AuthURL is where users are sent to sign in.
func (s *SignIn) AuthURL() string {
	q := url.Values{}
	q.Set("openid.ns", openIDNamespace)
	q.Set("openid.mode", "checkid_setup")
	q.Set("openid.return_to", s.returnTo)
	q.Set("openid.realm", s.realm)
	q.Set("openid.identity", openIDIdentifierPick)
	q.Set("openid.claimed_id", openIDIdentifierPick)
	return s.endpoint + "?" + q.Encode()
}

// Verify checks the callback query with Steam and returns the signed-in
// Steam id.
func (s *SignIn) Verify(ctx context.Context, query url.Values) (string, error) {
	if query.Get("openid.mode") != "id_res" {
		return "", errors.Wrapf(ErrSignInRejected, "unexpected mode %q", query.Get("openid.mode"))
	}

	if !s.returnToMatches(query.Get("openid.return_to")) {
		return "", errors.Wrap(ErrSignInRejected, "return_to mismatch")
	}

	claimed := query.Get("openid.claimed_id")
	m := claimedIDPattern.FindStringSubmatch(claimed)
	if m == nil {
		return "", errors.Wrapf(ErrSignInRejected, "unexpected claimed id %q", claimed)
	}

	form := url.Values{}
	for k, v := range query {
		if strings.HasPrefix(k, "openid.") {
			form[k] = v
		}
	}
	form.Set("openid.mode", "check_authentication")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "failed to build verification request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "steam openid unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("steam openid returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", errors.Wrap(err, "failed to read verification response")
	}

	if !isValid(string(body)) {
		return "", errors.Wrap(ErrSignInRejected, "assertion not valid")
	}

	return m[1], nil
}

// returnToMatches ignores the query string Steam may append.
func (s *SignIn) returnToMatches(got string) bool {
	if got == "" {
		return false
	}
	if i := strings.IndexByte(got, '?'); i >= 0 {
		got = got[:i]
	}
	want := s.returnTo
	if i := strings.IndexByte(want, '?'); i >= 0 {
		want = want[:i]
	}
	return got == want
}

// isValid parses the key:value response of check_authentication.
func isValid(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && k == "is_valid" {
			return v == "true"
		}
	}
	return false
}
