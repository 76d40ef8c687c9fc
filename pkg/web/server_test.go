package web

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skyview-app/skyview/pkg/atproto"
	"github.com/skyview-app/skyview/pkg/authn"
	"github.com/skyview-app/skyview/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()

	states := authn.NewMemoryStateStore(cfg.StateTTL.Std())
	sessions := authn.NewMemorySessionStore()

	flow, err := authn.NewFlow(authn.FlowConfig{
		ClientID:    cfg.ClientID(),
		RedirectURI: cfg.RedirectURI(),
		Scope:       cfg.Scope,
		Resolver:    &atproto.LocalhostResolver{PDSURL: cfg.DevPDSURL},
		States:      states,
		Sessions:    sessions,
	})
	require.NoError(t, err)

	factory, err := authn.NewFactory(authn.FactoryConfig{
		ClientID: cfg.ClientID(),
		Sessions: sessions,
	})
	require.NoError(t, err)

	svc := authn.NewService(flow, factory, sessions, nil, nil)

	server, err := New(cfg, svc, NewEventHub(), prometheus.NewRegistry())
	require.NoError(t, err)
	return server
}

func newContext(t *testing.T, target string, cookies ...*http.Cookie) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == CookieName {
			return cookie
		}
	}
	t.Fatalf("no %s cookie in response", CookieName)
	return nil
}

func TestCookieRoundTrip(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/")
	writer := &cookieWriter{c: c, server: server}
	require.NoError(t, writer.WriteSubject("did:plc:abc"))

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Positive(t, cookie.MaxAge)

	read, _ := newContext(t, "/", cookie)
	assert.Equal(t, "did:plc:abc", server.Subject(read))
}

func TestSubjectRejectsTamperedCookie(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/")
	writer := &cookieWriter{c: c, server: server}
	require.NoError(t, writer.WriteSubject("did:plc:abc"))

	cookie := sessionCookie(t, rec)
	cookie.Value += "x"

	read, _ := newContext(t, "/", cookie)
	assert.Empty(t, server.Subject(read))

	missing, _ := newContext(t, "/")
	assert.Empty(t, server.Subject(missing))
}

func TestClearSubject(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/")
	writer := &cookieWriter{c: c, server: server}
	require.NoError(t, writer.ClearSubject())

	cookie := sessionCookie(t, rec)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.Empty(t, cookie.Value)
}

func TestLoginEndpointRedirects(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/oauth/login?account=alice.example.com")
	require.NoError(t, server.LoginEndpoint(c))

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", location.Path)

	query := location.Query()
	assert.Equal(t, server.cfg.ClientID(), query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("state"))
	assert.Equal(t, "alice.example.com", query.Get("login_hint"))
}

func TestLogoutEndpointWithoutSubject(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/oauth/logout")
	require.NoError(t, server.LogoutEndpoint(c))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	// the cookie is dropped even though no subject was verified
	cookie := sessionCookie(t, rec)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.Empty(t, cookie.Value)
}

func TestSessionEndpointUnauthorized(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/oauth/session")
	require.NoError(t, server.SessionEndpoint(c))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"no_session"}`, rec.Body.String())
}

func TestClientMetadataEndpoint(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/oauth/client-metadata.json")
	require.NoError(t, server.ClientMetadataEndpoint(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age")
	assert.Contains(t, rec.Body.String(), `"dpop_bound_access_tokens":true`)
	assert.Contains(t, rec.Body.String(), server.cfg.RedirectURI())
}

func TestJWKSEndpoint(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/oauth/jwks.json")
	require.NoError(t, server.JWKSEndpoint(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())
}

func TestIndexLoggedOut(t *testing.T) {
	server := newTestServer(t)

	c, rec := newContext(t, "/")
	require.NoError(t, server.IndexEndpoint(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/oauth/login"`)
}

func TestSignKeyRequiredOutsideDevMode(t *testing.T) {
	cfg := config.Default()
	cfg.DevMode = false
	cfg.CookieSignKey = ""

	_, err := New(cfg, nil, NewEventHub(), prometheus.NewRegistry())
	assert.Error(t, err)
}
