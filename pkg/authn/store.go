package authn

import (
	"context"
	"time"
)

// AuthRequestData is the short-lived state of one authorization request
// in flight, keyed by its single-use state value.
type AuthRequestData struct {
	State         string    `json:"state" cbor:"1,keyasint"`
	Verifier      string    `json:"verifier" cbor:"2,keyasint"`
	Scope         string    `json:"scope" cbor:"3,keyasint"`
	LoginHint     string    `json:"login_hint,omitempty" cbor:"4,keyasint,omitempty"`
	Issuer        string    `json:"issuer" cbor:"5,keyasint"`
	PDSURL        string    `json:"pds_url,omitempty" cbor:"6,keyasint,omitempty"`
	TokenEndpoint string    `json:"token_endpoint" cbor:"7,keyasint"`
	RedirectURI   string    `json:"redirect_uri" cbor:"8,keyasint"`
	DPoPKey       string    `json:"dpop_key" cbor:"9,keyasint"`
	CreatedAt     time.Time `json:"created_at" cbor:"10,keyasint"`
}

// SessionData is the server-side record of an authenticated session,
// keyed by the subject DID. The access and refresh credentials never
// leave this record; the browser only ever holds the subject marker.
type SessionData struct {
	DID           string    `json:"did" cbor:"1,keyasint"`
	Handle        string    `json:"handle,omitempty" cbor:"2,keyasint,omitempty"`
	Issuer        string    `json:"issuer" cbor:"3,keyasint"`
	PDSURL        string    `json:"pds_url,omitempty" cbor:"4,keyasint,omitempty"`
	TokenEndpoint string    `json:"token_endpoint" cbor:"5,keyasint"`
	AccessToken   string    `json:"access_token" cbor:"6,keyasint"`
	RefreshToken  string    `json:"refresh_token,omitempty" cbor:"7,keyasint,omitempty"`
	Scope         string    `json:"scope" cbor:"8,keyasint"`
	Expiry        time.Time `json:"expiry" cbor:"9,keyasint"`
	DPoPKey       string    `json:"dpop_key" cbor:"10,keyasint"`
	CreatedAt     time.Time `json:"created_at" cbor:"11,keyasint"`
	UpdatedAt     time.Time `json:"updated_at" cbor:"12,keyasint"`
}

// StateStore holds in-flight authorization request state. A missing
// state is a normal miss reported as (nil, nil), never an error.
// Implementations must be safe for concurrent use and should expire
// entries after a bounded TTL.
type StateStore interface {
	PutAuthRequest(ctx context.Context, data *AuthRequestData) error
	GetAuthRequest(ctx context.Context, state string) (*AuthRequestData, error)
	DeleteAuthRequest(ctx context.Context, state string) error
}

// SessionStore holds authenticated sessions keyed by subject DID, at
// most one live session per subject (last write wins). A missing
// session is reported as (nil, nil). Implementations must provide
// read-after-write visibility per key.
type SessionStore interface {
	PutSession(ctx context.Context, data *SessionData) error
	GetSession(ctx context.Context, did string) (*SessionData, error)
	DeleteSession(ctx context.Context, did string) error
}
