package web

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// CookieName carries the transport-level session marker: the subject
// DID, HMAC-signed. Credential material never enters the cookie.
const CookieName = "skyview_session"

func newCookieTemplate(devMode bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		Secure:   !devMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// cookieWriter adapts one request's response to the SessionWriter
// interface of the auth service.
type cookieWriter struct {
	c      echo.Context
	server *Server
}

func (w *cookieWriter) WriteSubject(did string) error {
	signed, err := jws.Sign([]byte(did), jws.WithKey(jwa.HS256, w.server.signKey))
	if err != nil {
		return fmt.Errorf("sign session cookie: %w", err)
	}

	cookie := *w.server.cookieTemplate
	cookie.Value = string(signed)
	cookie.MaxAge = w.server.cookieMaxAge
	w.c.SetCookie(&cookie)
	return nil
}

func (w *cookieWriter) ClearSubject() error {
	cookie := *w.server.cookieTemplate
	cookie.Value = ""
	cookie.MaxAge = -1
	w.c.SetCookie(&cookie)
	return nil
}

// Subject extracts and verifies the subject DID from the session
// cookie. An absent or tampered cookie reads as "".
func (s *Server) Subject(c echo.Context) string {
	cookie, err := c.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}

	payload, err := jws.Verify([]byte(cookie.Value), jws.WithKey(jwa.HS256, s.signKey))
	if err != nil {
		return ""
	}
	return string(payload)
}
