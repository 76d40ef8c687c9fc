// HTTP surface of the app: OAuth endpoints, session introspection and
// the hosted client metadata document, mounted on an echo instance
// owned by the caller.
package web

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skyview-app/skyview/pkg/authn"
	"github.com/skyview-app/skyview/pkg/config"
)

type Server struct {
	cfg      *config.Config
	svc      *authn.Service
	hub      *EventHub
	gatherer prometheus.Gatherer

	signKey        []byte
	cookieTemplate *http.Cookie
	cookieMaxAge   int
}

// New builds the HTTP surface. The cookie signing key comes from the
// configuration; in dev mode a missing key is generated on the spot,
// in production it is an error because sessions would not survive a
// restart.
func New(cfg *config.Config, svc *authn.Service, hub *EventHub, gatherer prometheus.Gatherer) (*Server, error) {
	signKey, err := resolveSignKey(cfg)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:            cfg,
		svc:            svc,
		hub:            hub,
		gatherer:       gatherer,
		signKey:        signKey,
		cookieTemplate: newCookieTemplate(cfg.DevMode),
		cookieMaxAge:   int(cfg.SessionTTL.Std().Seconds()),
	}, nil
}

func resolveSignKey(cfg *config.Config) ([]byte, error) {
	if cfg.CookieSignKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.CookieSignKey)
		if err != nil {
			return nil, fmt.Errorf("decode cookie_sign_key: %w", err)
		}
		return key, nil
	}

	if !cfg.DevMode {
		return nil, fmt.Errorf("cookie_sign_key is required outside dev mode")
	}

	slog.Warn("No cookie_sign_key configured, generating an ephemeral one")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate cookie sign key: %w", err)
	}
	return key, nil
}

func (s *Server) MountRoutes(e *echo.Echo) {
	e.GET("/", s.IndexEndpoint)
	e.GET("/oauth/login", s.LoginEndpoint)
	e.GET("/oauth/callback", s.CallbackEndpoint)
	e.GET("/oauth/logout", s.LogoutEndpoint)
	e.GET("/oauth/session", s.SessionEndpoint)
	e.GET("/oauth/client-metadata.json", s.ClientMetadataEndpoint)
	e.GET("/oauth/jwks.json", s.JWKSEndpoint)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	if s.cfg.DevMode {
		e.GET("/debug/events", s.DebugEventsEndpoint)
	}
}

// LoginEndpoint starts the authorization flow and redirects the user
// agent to the authorization server. The optional account query
// parameter carries the handle or DID to log in as.
func (s *Server) LoginEndpoint(c echo.Context) error {
	identifier := c.QueryParam("account")

	authURL, err := s.svc.Login(c.Request().Context(), identifier)
	if err != nil {
		slog.Error("Failed to start login", "account", identifier, "error", err)
		return c.Redirect(http.StatusFound, "/?error=oauth_failed")
	}

	return c.Redirect(http.StatusFound, authURL)
}

// CallbackEndpoint finishes the authorization flow. On success the
// session cookie is set and the user lands back on the index page; on
// any failure the detail stays in the log and the user sees a generic
// error marker.
func (s *Server) CallbackEndpoint(c echo.Context) error {
	writer := &cookieWriter{c: c, server: s}

	result, err := s.svc.CompleteLogin(c.Request().Context(), c.Request().URL.String(), writer)
	if err != nil {
		slog.Error("Failed to complete login", "kind", authn.KindOf(err).String(), "error", err)
		return c.Redirect(http.StatusFound, "/?error=oauth_failed")
	}

	slog.Info("Login completed", "did", result.DID, "handle", result.Handle)
	return c.Redirect(http.StatusFound, "/")
}

func (s *Server) LogoutEndpoint(c echo.Context) error {
	writer := &cookieWriter{c: c, server: s}

	if did := s.Subject(c); did != "" {
		s.svc.Logout(c.Request().Context(), did, writer)
	} else {
		// no verified subject, still drop whatever cookie is there
		if err := writer.ClearSubject(); err != nil {
			slog.Warn("Failed to clear session marker", "error", err)
		}
	}

	return c.Redirect(http.StatusFound, "/")
}

// SessionEndpoint reports the current session. Profile fields are
// best-effort; the DID alone is authoritative.
func (s *Server) SessionEndpoint(c echo.Context) error {
	ctx := c.Request().Context()

	did := s.Subject(c)
	if did == "" || !s.svc.IsValid(ctx, did) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "no_session"})
	}

	response := map[string]string{"did": did}

	client, err := s.svc.Client(ctx, did)
	if err == nil {
		if profile, err := client.GetProfile(ctx, did); err == nil {
			response["handle"] = profile.Handle
			response["display_name"] = profile.DisplayName
			response["avatar"] = profile.Avatar
		}
	}

	return c.JSON(http.StatusOK, response)
}

// ClientMetadataEndpoint serves the hosted client metadata document
// that doubles as the production client identifier.
func (s *Server) ClientMetadataEndpoint(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.JSON(http.StatusOK, s.cfg.ClientMetadata())
}

// JWKSEndpoint serves the client's public key set. The client
// authenticates with method "none" and binds tokens per-session via
// proof-of-possession keys, so the set is empty.
func (s *Server) JWKSEndpoint(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.JSON(http.StatusOK, jwk.NewSet())
}

func (s *Server) IndexEndpoint(c echo.Context) error {
	did := s.Subject(c)

	if did != "" && s.svc.IsValid(c.Request().Context(), did) {
		return c.HTML(http.StatusOK, fmt.Sprintf(indexLoggedIn, did))
	}
	return c.HTML(http.StatusOK, indexLoggedOut)
}

const indexLoggedOut = `<!DOCTYPE html>
<html>
<head><title>skyview</title></head>
<body>
<h1>skyview</h1>
<form action="/oauth/login" method="get">
  <input type="text" name="account" placeholder="handle or DID">
  <button type="submit">Log in</button>
</form>
</body>
</html>`

const indexLoggedIn = `<!DOCTYPE html>
<html>
<head><title>skyview</title></head>
<body>
<h1>skyview</h1>
<p>Logged in as %s</p>
<p><a href="/oauth/session">Session</a> | <a href="/oauth/logout">Log out</a></p>
</body>
</html>`
