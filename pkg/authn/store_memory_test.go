package authn_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/skyview-app/skyview/pkg/authn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateStoreCRUD(t *testing.T) {
	store := authn.NewMemoryStateStore(10 * time.Minute)
	ctx := context.Background()

	missing, err := store.GetAuthRequest(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	request := &authn.AuthRequestData{
		State:     "state-1",
		Verifier:  "verifier",
		Scope:     "atproto",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.PutAuthRequest(ctx, request))

	stored, err := store.GetAuthRequest(ctx, "state-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "verifier", stored.Verifier)

	require.NoError(t, store.DeleteAuthRequest(ctx, "state-1"))
	stored, err = store.GetAuthRequest(ctx, "state-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// deleting an absent key is not an error
	require.NoError(t, store.DeleteAuthRequest(ctx, "state-1"))
}

func TestMemorySessionStoreLastWriteWins(t *testing.T) {
	store := authn.NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.PutSession(ctx, &authn.SessionData{DID: testDID, AccessToken: "first"}))
	require.NoError(t, store.PutSession(ctx, &authn.SessionData{DID: testDID, AccessToken: "second"}))

	session, err := store.GetSession(ctx, testDID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "second", session.AccessToken)
}

func TestMemorySessionStoreIsolatesRecords(t *testing.T) {
	store := authn.NewMemorySessionStore()
	ctx := context.Background()

	original := &authn.SessionData{DID: testDID, AccessToken: "stored", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, store.PutSession(ctx, original))

	// mutating the record handed to Put must not reach the store
	original.AccessToken = "mutated-after-put"

	first, err := store.GetSession(ctx, testDID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "stored", first.AccessToken)

	// mutating a record handed out by Get must not reach the store
	// or other readers, only an explicit Put publishes changes
	first.AccessToken = "refreshed-in-place"
	first.Expiry = time.Now().Add(-time.Minute)

	second, err := store.GetSession(ctx, testDID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "stored", second.AccessToken)
	assert.True(t, second.Expiry.After(time.Now()))

	require.NoError(t, store.PutSession(ctx, first))
	third, err := store.GetSession(ctx, testDID)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "refreshed-in-place", third.AccessToken)
}

func TestMemorySessionStoreConcurrentSameKey(t *testing.T) {
	store := authn.NewMemorySessionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.PutSession(ctx, &authn.SessionData{
				DID:         testDID,
				AccessToken: fmt.Sprintf("access-%d", i),
			})
			_, _ = store.GetSession(ctx, testDID)
		}(i)
	}
	wg.Wait()

	session, err := store.GetSession(ctx, testDID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEmpty(t, session.AccessToken)
}
