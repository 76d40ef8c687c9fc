// OAuth 2.0 primitives shared by the authorization flow: PKCE material,
// token responses and the wire-level error shape.
package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
)

// ParameterOption mutates the query or form parameters of an
// authorization or token request.
type ParameterOption func(params url.Values)

func WithAlternateRedirectURI(redirectUri string) ParameterOption {
	return func(params url.Values) {
		if redirectUri != "" {
			params.Set("redirect_uri", redirectUri)
		}
	}
}

func WithScope(scope string) ParameterOption {
	return func(params url.Values) {
		if scope != "" {
			params.Set("scope", scope)
		}
	}
}

func WithLoginHint(hint string) ParameterOption {
	return func(params url.Values) {
		if hint != "" {
			params.Set("login_hint", hint)
		}
	}
}

// TokenResponse is the body of a successful token endpoint response.
// AT Protocol authorization servers additionally return the subject DID
// in the "sub" field.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Sub          string `json:"sub,omitempty"`
}

type CodeChallengeMethod string

const (
	CodeChallengeMethodS256 CodeChallengeMethod = "S256"
)

// Error code returned by DPoP-aware servers when a request must be
// retried with a fresh server nonce.
const ErrorCodeUseDPoPNonce = "use_dpop_nonce"

type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

func randomString(n int) string {
	ret := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			panic("Random number generation failed")
		}
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

// GenerateCodeVerifier creates a PKCE code verifier of the maximum
// length allowed by RFC 7636.
func GenerateCodeVerifier() string {
	return randomString(128)
}

// GenerateState creates a single-use state value for an authorization
// request.
func GenerateState() string {
	return randomString(43)
}

func S256ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
