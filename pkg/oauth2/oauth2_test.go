package oauth2_test

import (
	"testing"

	"github.com/skyview-app/skyview/pkg/oauth2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS256ChallengeFromVerifier(t *testing.T) {
	// test vector from RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", oauth2.S256ChallengeFromVerifier(verifier))
}

func TestGenerateCodeVerifier(t *testing.T) {
	verifier := oauth2.GenerateCodeVerifier()
	require.Len(t, verifier, 128)
	assert.NotEqual(t, verifier, oauth2.GenerateCodeVerifier())
}

func TestGenerateState(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		state := oauth2.GenerateState()
		require.Len(t, state, 43)
		require.False(t, seen[state], "state values must not repeat")
		seen[state] = true
	}
}

func TestLocalhostClientID(t *testing.T) {
	clientID := oauth2.LocalhostClientID("http://127.0.0.1:8080/oauth/callback", "atproto transition:generic")
	assert.Equal(t, "http://localhost?redirect_uri=http%3A%2F%2F127.0.0.1%3A8080%2Foauth%2Fcallback&scope=atproto+transition%3Ageneric", clientID)
}
