package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/skyview-app/skyview/pkg/atproto"
	"github.com/skyview-app/skyview/pkg/dpop"
	"github.com/skyview-app/skyview/pkg/oauth2"
)

const defaultHTTPTimeout = 15 * time.Second

// FlowConfig wires a Flow to its collaborators. ClientID, RedirectURI,
// Scope, Resolver, States and Sessions are required.
type FlowConfig struct {
	ClientID    string
	RedirectURI string
	Scope       string
	Resolver    atproto.IssuerResolver
	States      StateStore
	Sessions    SessionStore
	HTTPClient  *http.Client
	Nonces      *dpop.NonceCache
}

// Flow orchestrates the authorization code flow: building authorization
// URLs, validating callbacks and exchanging codes for sessions.
type Flow struct {
	clientID    string
	redirectURI string
	scope       string
	resolver    atproto.IssuerResolver
	states      StateStore
	sessions    SessionStore
	httpClient  *http.Client
	nonces      *dpop.NonceCache
}

func NewFlow(cfg FlowConfig) (*Flow, error) {
	if cfg.ClientID == "" || cfg.RedirectURI == "" || cfg.Scope == "" {
		return nil, fmt.Errorf("client_id, redirect_uri and scope are required")
	}
	if cfg.Resolver == nil || cfg.States == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("resolver, state store and session store are required")
	}

	f := &Flow{
		clientID:    cfg.ClientID,
		redirectURI: cfg.RedirectURI,
		scope:       cfg.Scope,
		resolver:    cfg.Resolver,
		states:      cfg.States,
		sessions:    cfg.Sessions,
		httpClient:  cfg.HTTPClient,
		nonces:      cfg.Nonces,
	}
	if f.httpClient == nil {
		f.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if f.nonces == nil {
		f.nonces = dpop.NewNonceCache()
	}

	return f, nil
}

// BeginAuthorization resolves the authorization server for the given
// account identifier (may be empty), persists fresh single-use request
// state and returns the full authorization URL to redirect the user to.
func (f *Flow) BeginAuthorization(ctx context.Context, identifier string, opts ...oauth2.ParameterOption) (string, error) {
	endpoints, err := f.resolver.Resolve(ctx, identifier)
	if err != nil {
		return "", newError(KindAuthorizationSetup, err, "resolve authorization server")
	}

	key, err := dpop.NewKey()
	if err != nil {
		return "", newError(KindAuthorizationSetup, err, "generate proof-of-possession key")
	}
	keyJSON, err := dpop.MarshalKey(key)
	if err != nil {
		return "", newError(KindAuthorizationSetup, err, "serialize proof-of-possession key")
	}

	state := oauth2.GenerateState()
	verifier := oauth2.GenerateCodeVerifier()

	params := url.Values{}
	params.Set("client_id", f.clientID)
	params.Set("redirect_uri", f.redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", f.scope)
	params.Set("state", state)
	params.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	params.Set("code_challenge_method", string(oauth2.CodeChallengeMethodS256))
	if identifier != "" {
		params.Set("login_hint", identifier)
	}

	for _, opt := range opts {
		opt(params)
	}

	request := &AuthRequestData{
		State:         state,
		Verifier:      verifier,
		Scope:         params.Get("scope"),
		LoginHint:     identifier,
		Issuer:        endpoints.Issuer,
		PDSURL:        endpoints.PDS,
		TokenEndpoint: endpoints.TokenEndpoint,
		RedirectURI:   params.Get("redirect_uri"),
		DPoPKey:       keyJSON,
		CreatedAt:     time.Now(),
	}
	if err := f.states.PutAuthRequest(ctx, request); err != nil {
		return "", newError(KindAuthorizationSetup, err, "persist authorization request state")
	}

	return endpoints.AuthorizationEndpoint + "?" + params.Encode(), nil
}

// LoginResult is what a successful callback yields: the subject and its
// stored session, plus best-effort profile data filled in by the
// facade.
type LoginResult struct {
	DID         string
	Handle      string
	DisplayName string
	Avatar      string
	Session     *SessionData
}

// CompleteAuthorization validates the callback URL against the stored
// request state, exchanges the code for tokens and materializes the
// session. The request state is consumed exactly once, also on denial
// and failed exchanges.
func (f *Flow) CompleteAuthorization(ctx context.Context, callbackURL string) (*LoginResult, error) {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return nil, newError(KindMissingCode, err, "malformed callback URL")
	}
	query := parsed.Query()

	state := query.Get("state")

	if errCode := query.Get("error"); errCode != "" {
		f.consumeState(ctx, state)
		return nil, &Error{
			Kind:        KindAuthorizationDenied,
			Code:        errCode,
			Description: query.Get("error_description"),
		}
	}

	code := query.Get("code")
	if code == "" {
		return nil, newError(KindMissingCode, nil, "callback carries neither code nor error")
	}
	if state == "" {
		return nil, newError(KindInvalidState, nil, "callback carries no state")
	}

	request, err := f.states.GetAuthRequest(ctx, state)
	if err != nil {
		return nil, newError(KindInvalidState, err, "look up request state")
	}
	if request == nil {
		return nil, newError(KindInvalidState, nil, "state unknown or already consumed")
	}
	f.consumeState(ctx, state)

	key, err := dpop.ParseKey(request.DPoPKey)
	if err != nil {
		return nil, newError(KindTokenExchange, err, "restore proof-of-possession key")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", request.RedirectURI)
	form.Set("client_id", f.clientID)
	form.Set("code_verifier", request.Verifier)

	token, err := tokenRequest(ctx, f.httpClient, f.nonces, request.TokenEndpoint, request.Issuer, key, form)
	if err != nil {
		return nil, wrapTokenError(KindTokenExchange, err)
	}

	if token.Sub == "" {
		return nil, newError(KindTokenExchange, nil, "token response carries no subject")
	}

	now := time.Now()
	session := &SessionData{
		DID:           token.Sub,
		Issuer:        request.Issuer,
		PDSURL:        request.PDSURL,
		TokenEndpoint: request.TokenEndpoint,
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		Scope:         token.Scope,
		Expiry:        now.Add(time.Duration(token.ExpiresIn) * time.Second),
		DPoPKey:       request.DPoPKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if session.Scope == "" {
		session.Scope = request.Scope
	}

	if err := f.sessions.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	return &LoginResult{DID: session.DID, Session: session}, nil
}

func (f *Flow) consumeState(ctx context.Context, state string) {
	if state == "" {
		return
	}
	if err := f.states.DeleteAuthRequest(ctx, state); err != nil {
		slog.Warn("Failed to consume request state", "error", err)
	}
}

// wrapTokenError keeps upstream OAuth error codes visible in the typed
// error instead of burying them in the message.
func wrapTokenError(kind Kind, err error) *Error {
	if oauthErr, ok := err.(*oauth2.Error); ok {
		return &Error{Kind: kind, Code: oauthErr.Code, Description: oauthErr.Description}
	}
	return newError(kind, err, "")
}

// tokenRequest POSTs a DPoP-signed form to the token endpoint. When the
// server demands a fresh nonce it retries exactly once with the nonce
// from the rejection.
func tokenRequest(ctx context.Context, client *http.Client, nonces *dpop.NonceCache, tokenEndpoint, issuer string, key jwk.Key, form url.Values) (*oauth2.TokenResponse, error) {
	token, oauthErr, err := postTokenForm(ctx, client, nonces, tokenEndpoint, issuer, key, form)
	if err != nil {
		return nil, err
	}
	if oauthErr != nil && oauthErr.Code == oauth2.ErrorCodeUseDPoPNonce {
		token, oauthErr, err = postTokenForm(ctx, client, nonces, tokenEndpoint, issuer, key, form)
		if err != nil {
			return nil, err
		}
	}
	if oauthErr != nil {
		return nil, oauthErr
	}
	return token, nil
}

func postTokenForm(ctx context.Context, client *http.Client, nonces *dpop.NonceCache, tokenEndpoint, issuer string, key jwk.Key, form url.Values) (*oauth2.TokenResponse, *oauth2.Error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err := dpop.SignRequest(req, key, "", nonces.Get(issuer)); err != nil {
		return nil, nil, fmt.Errorf("sign token request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("token request to %s: %w", tokenEndpoint, err)
	}
	defer resp.Body.Close()

	nonces.UpdateFromResponse(issuer, resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr oauth2.Error
		if err := json.Unmarshal(body, &oauthErr); err != nil || oauthErr.Code == "" {
			return nil, nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		return nil, &oauthErr, nil
	}

	var tokenResponse oauth2.TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, nil, fmt.Errorf("decode token response: %w", err)
	}

	return &tokenResponse, nil, nil
}
