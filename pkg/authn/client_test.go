package authn_test

import (
	"context"
	"testing"
	"time"

	"github.com/skyview-app/skyview/pkg/authn"
	"github.com/skyview-app/skyview/pkg/dpop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestFactory(t *testing.T, sessions authn.SessionStore) *authn.Factory {
	t.Helper()
	factory, err := authn.NewFactory(authn.FactoryConfig{
		ClientID: "https://app.example.com/oauth/client-metadata.json",
		Sessions: sessions,
	})
	require.NoError(t, err)
	return factory
}

// seedSession stores a session for testDID pointing at the fake server,
// expiring at the given time.
func seedSession(t *testing.T, server *fakeAuthServer, sessions authn.SessionStore, expiry time.Time) *authn.SessionData {
	t.Helper()

	key, err := dpop.NewKey()
	require.NoError(t, err)
	keyJSON, err := dpop.MarshalKey(key)
	require.NoError(t, err)

	session := &authn.SessionData{
		DID:           testDID,
		Issuer:        server.URL,
		PDSURL:        server.URL,
		TokenEndpoint: server.URL + "/oauth/token",
		AccessToken:   "seed-access",
		RefreshToken:  "seed-refresh",
		Scope:         "atproto transition:generic",
		Expiry:        expiry,
		DPoPKey:       keyJSON,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, sessions.PutSession(context.Background(), session))
	return session
}

func TestForSubjectNoSession(t *testing.T) {
	sessions := authn.NewMemorySessionStore()
	factory := newTestFactory(t, sessions)

	_, err := factory.ForSubject(context.Background(), "did:plc:nobody")
	assert.ErrorIs(t, err, authn.ErrNoSession)
}

func TestForSubjectFreshSession(t *testing.T) {
	server := newFakeAuthServer(t)
	sessions := authn.NewMemorySessionStore()
	seedSession(t, server, sessions, time.Now().Add(time.Hour))
	factory := newTestFactory(t, sessions)

	client, err := factory.ForSubject(context.Background(), testDID)
	require.NoError(t, err)
	assert.Equal(t, testDID, client.DID())

	// no refresh for a fresh session
	assert.Zero(t, server.tokenRequestCount())

	profile, err := client.GetProfile(context.Background(), testDID)
	require.NoError(t, err)
	assert.Equal(t, "alice.example.com", profile.Handle)
	assert.Equal(t, "DPoP seed-access", server.accessUsed())
}

func TestForSubjectRefreshesStaleSession(t *testing.T) {
	server := newFakeAuthServer(t)
	server.requireNonce = true
	sessions := authn.NewMemorySessionStore()
	seedSession(t, server, sessions, time.Now().Add(-time.Minute))
	factory := newTestFactory(t, sessions)

	client, err := factory.ForSubject(context.Background(), testDID)
	require.NoError(t, err)
	assert.Equal(t, testDID, client.DID())
	assert.Equal(t, "refresh_token", server.grantType())

	// the refreshed credentials were written back
	session, err := sessions.GetSession(context.Background(), testDID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "access-1", session.AccessToken)
	assert.Equal(t, "refresh-1", session.RefreshToken)
	assert.True(t, session.Expiry.After(time.Now()))
}

func TestForSubjectRefreshFailure(t *testing.T) {
	server := newFakeAuthServer(t)
	server.rejectGrants = true
	sessions := authn.NewMemorySessionStore()
	seedSession(t, server, sessions, time.Now().Add(-time.Minute))
	factory := newTestFactory(t, sessions)

	_, err := factory.ForSubject(context.Background(), testDID)
	assert.ErrorIs(t, err, authn.ErrSessionRefresh)

	// the stale credentials stay untouched
	session, err := sessions.GetSession(context.Background(), testDID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "seed-access", session.AccessToken)
}

func TestConcurrentRefreshSingleExchange(t *testing.T) {
	server := newFakeAuthServer(t)
	sessions := authn.NewMemorySessionStore()
	seedSession(t, server, sessions, time.Now().Add(-time.Minute))
	factory := newTestFactory(t, sessions)

	var group errgroup.Group
	for i := 0; i < 8; i++ {
		group.Go(func() error {
			_, err := factory.ForSubject(context.Background(), testDID)
			return err
		})
	}
	require.NoError(t, group.Wait())

	// all callers were served by a single refresh exchange
	assert.Equal(t, 1, server.tokenRequestCount())
}

func TestIsValid(t *testing.T) {
	server := newFakeAuthServer(t)
	sessions := authn.NewMemorySessionStore()
	factory := newTestFactory(t, sessions)

	assert.False(t, factory.IsValid(context.Background(), testDID))

	// even a stale session counts, the check never refreshes
	seedSession(t, server, sessions, time.Now().Add(-time.Minute))
	assert.True(t, factory.IsValid(context.Background(), testDID))
	assert.Zero(t, server.tokenRequestCount())
}
