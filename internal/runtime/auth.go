package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/convseed/internal/circuit"
)

// ScopeAll is the Circuit OAuth scope that covers every REST call we make.
const ScopeAll = "ALL"

var errNotLoggedOn = errors.New("circuit client: not logged on")

// Options configures NewCircuitClient.
type Options struct {
	Domain       string
	ClientID     string
	ClientSecret string
	// BaseURL overrides https://<Domain>; used against local fakes.
	BaseURL string
	// HTTPClient is the transport used for the token exchange and as the base
	// of the authenticated client.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewCircuitClient returns an unauthenticated client; Logon performs the
// password grant.
func NewCircuitClient(opts Options) (circuit.Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		domain := strings.TrimSpace(opts.Domain)
		if domain == "" {
			return nil, fmt.Errorf("circuit client: domain is required")
		}
		base = "https://" + domain
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &restClient{
		baseURL: base,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{ScopeAll},
		},
		base:   hc,
		logger: logger,
	}, nil
}

// Logon exchanges the admin credentials for a token, fetches the caller's
// profile and, when handlers are registered, opens the event stream.
func (g *restClient) Logon(ctx context.Context, email, password string) (circuit.User, error) {
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, g.base)
	tok, err := g.oauth.PasswordCredentialsToken(tokenCtx, email, password)
	if err != nil {
		return circuit.User{}, fmt.Errorf("password grant for %s: %w", email, err)
	}
	// the token source outlives the logon call
	srcCtx := context.WithValue(context.Background(), oauth2.HTTPClient, g.base)
	ts := g.oauth.TokenSource(srcCtx, tok)

	g.mu.Lock()
	g.tokens = ts
	g.authed = oauth2.NewClient(srcCtx, ts)
	g.mu.Unlock()

	var profile wireUser
	if err := g.do(ctx, http.MethodGet, "/rest/v2/users/profile", nil, "", &profile); err != nil {
		return circuit.User{}, fmt.Errorf("fetch profile: %w", err)
	}
	g.logger.Debug("logged on", zap.String("email", profile.EmailAddress), zap.String("user_id", profile.UserID))

	if g.hasHandlers() {
		if err := g.startEvents(ctx); err != nil {
			// notifications are diagnostic only
			g.logger.Warn("event stream unavailable", zap.Error(err))
		}
	}
	return profile.toUser(), nil
}

func (g *restClient) authedClient() (*http.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authed == nil {
		return nil, errNotLoggedOn
	}
	return g.authed, nil
}

func (g *restClient) bearer() (string, error) {
	g.mu.Lock()
	ts := g.tokens
	g.mu.Unlock()
	if ts == nil {
		return "", errNotLoggedOn
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	return tok.AccessToken, nil
}
