package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/skyview-app/skyview/pkg/dpop"
	"github.com/skyview-app/skyview/pkg/oauth2"
	"golang.org/x/sync/singleflight"
)

const defaultExpirySkew = 30 * time.Second

// FactoryConfig wires a Factory to its collaborators. ClientID and
// Sessions are required.
type FactoryConfig struct {
	ClientID   string
	Sessions   SessionStore
	HTTPClient *http.Client
	Nonces     *dpop.NonceCache
	Metrics    *Metrics
	Recorder   Recorder
	// ExpirySkew is how close to expiry a session may get before a
	// refresh is forced. Defaults to 30 seconds.
	ExpirySkew time.Duration
}

// Factory turns stored sessions into usable authenticated clients,
// refreshing credentials when they are about to go stale. Concurrent
// refreshes for the same subject are collapsed into a single exchange.
type Factory struct {
	clientID   string
	sessions   SessionStore
	httpClient *http.Client
	nonces     *dpop.NonceCache
	metrics    *Metrics
	recorder   Recorder
	expirySkew time.Duration
	refreshes  singleflight.Group
}

func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.ClientID == "" || cfg.Sessions == nil {
		return nil, fmt.Errorf("client_id and session store are required")
	}

	f := &Factory{
		clientID:   cfg.ClientID,
		sessions:   cfg.Sessions,
		httpClient: cfg.HTTPClient,
		nonces:     cfg.Nonces,
		metrics:    cfg.Metrics,
		recorder:   cfg.Recorder,
		expirySkew: cfg.ExpirySkew,
	}
	if f.httpClient == nil {
		f.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if f.nonces == nil {
		f.nonces = dpop.NewNonceCache()
	}
	if f.recorder == nil {
		f.recorder = NopRecorder()
	}
	if f.expirySkew <= 0 {
		f.expirySkew = defaultExpirySkew
	}

	return f, nil
}

// ForSubject returns an authenticated client for the given subject DID,
// refreshing the stored session first when its credentials are stale.
// A stale session is never used as-is; refresh failures surface as
// ErrSessionRefresh.
func (f *Factory) ForSubject(ctx context.Context, did string) (*Client, error) {
	session, err := f.sessions.GetSession(ctx, did)
	if err != nil {
		return nil, newError(KindNoSession, err, "look up session")
	}
	if session == nil {
		return nil, newError(KindNoSession, nil, did)
	}

	if f.stale(session) {
		session, err = f.refreshSubject(ctx, did)
		if err != nil {
			return nil, err
		}
	}

	key, err := dpop.ParseKey(session.DPoPKey)
	if err != nil {
		return nil, newError(KindNoSession, err, "restore proof-of-possession key")
	}

	return &Client{
		did:         session.DID,
		pds:         session.PDSURL,
		accessToken: session.AccessToken,
		key:         key,
		httpClient:  f.httpClient,
		nonces:      f.nonces,
	}, nil
}

// IsValid reports whether a usable session exists for the subject. It
// never forces a refresh and never fails; any underlying error reads as
// "invalid".
func (f *Factory) IsValid(ctx context.Context, did string) bool {
	session, err := f.sessions.GetSession(ctx, did)
	return err == nil && session != nil
}

func (f *Factory) stale(session *SessionData) bool {
	return time.Until(session.Expiry) < f.expirySkew
}

// refreshSubject collapses concurrent refresh attempts for one subject
// into a single token exchange. The winner re-reads the session inside
// the guard, so losers observe its result instead of racing their own
// exchange.
func (f *Factory) refreshSubject(ctx context.Context, did string) (*SessionData, error) {
	result, err, _ := f.refreshes.Do(did, func() (any, error) {
		session, err := f.sessions.GetSession(ctx, did)
		if err != nil {
			return nil, newError(KindSessionRefresh, err, "look up session")
		}
		if session == nil {
			return nil, newError(KindNoSession, nil, did)
		}
		if !f.stale(session) {
			return session, nil
		}
		return f.refresh(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	return result.(*SessionData), nil
}

func (f *Factory) refresh(ctx context.Context, session *SessionData) (*SessionData, error) {
	if session.RefreshToken == "" {
		f.countRefreshFailure()
		return nil, newError(KindSessionRefresh, nil, "session has no refresh credential")
	}

	key, err := dpop.ParseKey(session.DPoPKey)
	if err != nil {
		f.countRefreshFailure()
		return nil, newError(KindSessionRefresh, err, "restore proof-of-possession key")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", session.RefreshToken)
	form.Set("client_id", f.clientID)

	token, err := tokenRequest(ctx, f.httpClient, f.nonces, session.TokenEndpoint, session.Issuer, key, form)
	if err != nil {
		f.countRefreshFailure()
		return nil, wrapTokenError(KindSessionRefresh, err)
	}

	now := time.Now()
	session.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		session.RefreshToken = token.RefreshToken
	}
	if token.Scope != "" {
		session.Scope = token.Scope
	}
	session.Expiry = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	session.UpdatedAt = now

	if err := f.sessions.PutSession(ctx, session); err != nil {
		f.countRefreshFailure()
		return nil, newError(KindSessionRefresh, err, "persist refreshed session")
	}

	if f.metrics != nil {
		f.metrics.TokenRefreshes.Inc()
	}
	f.recorder.Record(Event{Time: now, Type: EventTokenRefreshed, DID: session.DID})
	slog.Debug("Refreshed session", "did", session.DID, "expiry", session.Expiry)

	return session, nil
}

func (f *Factory) countRefreshFailure() {
	if f.metrics != nil {
		f.metrics.RefreshFailures.Inc()
	}
}

// Client is a capability object bound to one subject's session. It
// holds no lock on the underlying session, which other requests may
// concurrently read or refresh.
type Client struct {
	did         string
	pds         string
	accessToken string
	key         jwk.Key
	httpClient  *http.Client
	nonces      *dpop.NonceCache
}

func (c *Client) DID() string {
	return c.did
}

// Get issues a DPoP-bound XRPC query against the subject's PDS and
// decodes the JSON response into out (may be nil).
func (c *Client) Get(ctx context.Context, nsid string, params url.Values, out any) error {
	return c.call(ctx, http.MethodGet, nsid, params, nil, out)
}

// Procedure issues a DPoP-bound XRPC procedure call with a JSON body.
func (c *Client) Procedure(ctx context.Context, nsid string, input any, out any) error {
	var body []byte
	if input != nil {
		var err error
		if body, err = json.Marshal(input); err != nil {
			return newError(KindUpstreamProtocol, err, "encode input")
		}
	}
	return c.call(ctx, http.MethodPost, nsid, nil, body, out)
}

func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, body []byte, out any) error {
	endpoint := c.pds + "/xrpc/" + nsid
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	attempt := func() (*http.Response, []byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "DPoP "+c.accessToken)
		if err := dpop.SignRequest(req, c.key, c.accessToken, c.nonces.Get(c.pds)); err != nil {
			return nil, nil, fmt.Errorf("sign request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()

		c.nonces.UpdateFromResponse(c.pds, resp)

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, err
		}
		return resp, respBody, nil
	}

	resp, respBody, err := attempt()
	if err != nil {
		return newError(KindUpstreamProtocol, err, nsid)
	}

	if resp.StatusCode == http.StatusUnauthorized && isUseDPoPNonce(respBody) {
		resp, respBody, err = attempt()
		if err != nil {
			return newError(KindUpstreamProtocol, err, nsid)
		}
	}

	if resp.StatusCode != http.StatusOK {
		return newError(KindUpstreamProtocol, nil,
			fmt.Sprintf("%s returned status %d: %s", nsid, resp.StatusCode, respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return newError(KindUpstreamProtocol, err, nsid)
		}
	}

	return nil
}

func isUseDPoPNonce(body []byte) bool {
	var oauthErr oauth2.Error
	if err := json.Unmarshal(body, &oauthErr); err != nil {
		return false
	}
	return oauthErr.Code == oauth2.ErrorCodeUseDPoPNonce
}

// Profile is the subset of app.bsky.actor.getProfile used to render the
// signed-in account.
type Profile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// GetProfile fetches the profile of an actor (handle or DID).
func (c *Client) GetProfile(ctx context.Context, actor string) (*Profile, error) {
	params := url.Values{}
	params.Set("actor", actor)

	var profile Profile
	if err := c.Get(ctx, "app.bsky.actor.getProfile", params, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}
