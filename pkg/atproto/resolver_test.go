package atproto_test

import (
	"context"
	"testing"

	"github.com/skyview-app/skyview/pkg/atproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalhostResolver(t *testing.T) {
	resolver := &atproto.LocalhostResolver{PDSURL: "http://localhost:2583/"}

	endpoints, err := resolver.Resolve(context.Background(), "alice.test")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:2583", endpoints.PDS)
	assert.Equal(t, "http://localhost:2583", endpoints.Issuer)
	assert.Equal(t, "http://localhost:2583/oauth/authorize", endpoints.AuthorizationEndpoint)
	assert.Equal(t, "http://localhost:2583/oauth/token", endpoints.TokenEndpoint)
	assert.Empty(t, endpoints.DID)
}
