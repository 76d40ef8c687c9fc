package dpop

import (
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// SignRequest attaches a DPoP proof for the request to its headers.
// accessToken, when non-empty, is hashed into the "ath" claim for calls
// against a resource server. nonce, when non-empty, echoes the server
// nonce from a previous response.
func SignRequest(request *http.Request, privateKey jwk.Key, accessToken, nonce string) error {
	token, err := NewProof(
		NewTokenID(),
		request.Method,
		request.URL.String(),
		time.Now(),
		accessToken,
		nonce,
	)
	if err != nil {
		return err
	}

	signed, err := Sign(token, privateKey)
	if err != nil {
		return err
	}

	request.Header.Set(HeaderName, string(signed))

	return nil
}
