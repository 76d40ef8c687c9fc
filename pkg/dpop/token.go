// Client-side implementation of https://www.rfc-editor.org/rfc/rfc9449.html
package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/segmentio/ksuid"
)

const (
	HeaderName      = "DPoP"
	NonceHeaderName = "DPoP-Nonce"
	JwtType         = "dpop+jwt"
)

// NewKey generates a fresh ES256 proof-of-possession key. Each
// authorization request gets its own key, which then stays bound to the
// session created from it.
func NewKey() (jwk.Key, error) {
	rawKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}

	key, err := jwk.FromRaw(rawKey)
	if err != nil {
		return nil, fmt.Errorf("convert key to jwk: %w", err)
	}

	if err := key.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		return nil, err
	}

	return key, nil
}

// MarshalKey serializes a proof-of-possession key as a JWK JSON
// document for storage alongside the session.
func MarshalKey(key jwk.Key) (string, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("marshal jwk: %w", err)
	}
	return string(data), nil
}

func ParseKey(serialized string) (jwk.Key, error) {
	key, err := jwk.ParseKey([]byte(serialized))
	if err != nil {
		return nil, fmt.Errorf("parse jwk: %w", err)
	}
	return key, nil
}

// Creates a new DPoP proof ID.
func NewTokenID() string {
	return ksuid.New().String()
}

// AccessTokenHash computes the "ath" claim value for an access token.
func AccessTokenHash(accessToken string) string {
	hash := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// NewProof creates an unsigned DPoP proof with the given parameters.
// accessToken and nonce are optional.
func NewProof(tokenID, httpMethod, httpURI string, issuedAt time.Time, accessToken, nonce string) (jwt.Token, error) {
	token := jwt.New()

	if tokenID == "" {
		return nil, fmt.Errorf("tokenID is required")
	}
	token.Set("jti", tokenID)

	if httpMethod == "" {
		return nil, fmt.Errorf("httpMethod is required")
	}
	token.Set("htm", httpMethod)

	if httpURI == "" {
		return nil, fmt.Errorf("httpURI is required")
	}
	token.Set("htu", httpURI)

	if issuedAt.IsZero() {
		return nil, fmt.Errorf("issuedAt is required")
	}
	token.Set("iat", issuedAt.Unix())

	if accessToken != "" {
		token.Set("ath", AccessTokenHash(accessToken))
	}

	if nonce != "" {
		token.Set("nonce", nonce)
	}

	return token, nil
}

// Signs a DPoP proof with the given private key. The public key is
// embedded in the protected header as required by RFC 9449.
func Sign(token jwt.Token, privateKey jwk.Key) ([]byte, error) {
	publicKey, err := privateKey.PublicKey()
	if err != nil {
		return nil, err
	}

	headers := jws.NewHeaders()
	headers.Set("typ", JwtType)
	headers.Set("jwk", publicKey)

	return jwt.Sign(
		token,
		jwt.WithKey(jwa.ES256, privateKey, jws.WithProtectedHeaders(headers)),
	)
}

// Proof is a parsed and signature-verified DPoP proof.
type Proof struct {
	JwtID           string
	HttpMethod      string
	HttpURI         string
	IssuedAt        time.Time
	AccessTokenHash string
	Nonce           string
	Key             jwk.Key
	KeyThumbprint   []byte
}

// Parse verifies a serialized DPoP proof against the key embedded in
// its header and extracts the claims.
func Parse(tokenBytes []byte) (*Proof, error) {
	// DANGER, parsing the token without verifying the signature
	unsafeMessage, err := jws.Parse(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("unable to parse token: %w", err)
	}

	if len(unsafeMessage.Signatures()) == 0 {
		return nil, fmt.Errorf("no signatures found")
	}

	protectedHeaders := unsafeMessage.Signatures()[0].ProtectedHeaders()
	if protectedHeaders == nil {
		return nil, fmt.Errorf("no protected headers found")
	}

	if protectedHeaders.Type() != JwtType {
		return nil, fmt.Errorf("invalid token type: %s", protectedHeaders.Type())
	}

	proofKey := protectedHeaders.JWK()
	if proofKey == nil {
		return nil, fmt.Errorf("JWK is not found or invalid")
	}

	verifiedToken, err := jwt.Parse(tokenBytes, jwt.WithKey(jwa.ES256, proofKey))
	if err != nil {
		return nil, fmt.Errorf("unable to verify token: %w", err)
	}

	proof := &Proof{}

	if proof.JwtID, err = stringClaim(verifiedToken, "jti", true); err != nil {
		return nil, err
	}

	if proof.HttpMethod, err = stringClaim(verifiedToken, "htm", true); err != nil {
		return nil, err
	}

	if proof.HttpURI, err = stringClaim(verifiedToken, "htu", true); err != nil {
		return nil, err
	}

	proof.IssuedAt = verifiedToken.IssuedAt()
	if proof.IssuedAt.IsZero() {
		return nil, fmt.Errorf("claim iat is required")
	}

	if proof.AccessTokenHash, err = stringClaim(verifiedToken, "ath", false); err != nil {
		return nil, err
	}

	if proof.Nonce, err = stringClaim(verifiedToken, "nonce", false); err != nil {
		return nil, err
	}

	proof.Key = proofKey
	if proof.KeyThumbprint, err = proofKey.Thumbprint(crypto.SHA256); err != nil {
		return nil, err
	}

	return proof, nil
}

func stringClaim(token jwt.Token, name string, required bool) (string, error) {
	if claim, ok := token.Get(name); ok {
		if claimStr, ok := claim.(string); ok {
			return claimStr, nil
		}
		return "", fmt.Errorf("claim %s is not a string", name)
	}
	if required {
		return "", fmt.Errorf("claim %s is required", name)
	}
	return "", nil
}
