package dpop

import (
	"net/http"
	"sync"
)

// NonceCache remembers the most recent DPoP nonce issued per server.
// AT Protocol authorization and resource servers rotate nonces and
// reject proofs without the current one, so every response is a chance
// to learn the next value.
type NonceCache struct {
	mu     sync.Mutex
	nonces map[string]string
}

func NewNonceCache() *NonceCache {
	return &NonceCache{
		nonces: make(map[string]string),
	}
}

// Get returns the last known nonce for the given server origin, or an
// empty string if none was seen yet.
func (c *NonceCache) Get(origin string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[origin]
}

func (c *NonceCache) Set(origin, nonce string) {
	if nonce == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[origin] = nonce
}

// UpdateFromResponse records the DPoP-Nonce header of a response, if
// present. Returns the nonce that was recorded.
func (c *NonceCache) UpdateFromResponse(origin string, resp *http.Response) string {
	nonce := resp.Header.Get(NonceHeaderName)
	c.Set(origin, nonce)
	return nonce
}
