package oauth2

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metal-detector/internal/redis"
)

func TestMemoryAuthorizationRequestStore(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewMemoryAuthorizationRequestStore(clock)

	require.NoError(t, store.Save(ctx, &PendingAuthorization{State: "s1", RegistrationID: "spotify-user", PrincipalName: "alice"}, time.Minute))

	got, err := store.Take(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "spotify-user", got.RegistrationID)
	assert.Equal(t, "alice", got.PrincipalName)

	again, err := store.Take(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, store.Save(ctx, &PendingAuthorization{State: "s2", RegistrationID: "google"}, time.Minute))
	clock.Advance(time.Minute)
	expired, err := store.Take(ctx, "s2")
	require.NoError(t, err)
	assert.Nil(t, expired)

	assert.Error(t, store.Save(ctx, &PendingAuthorization{}, time.Minute))
}

func TestRedisAuthorizationRequestStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	store := NewRedisAuthorizationRequestStore(client, redis.IsNil)

	require.NoError(t, store.Save(ctx, &PendingAuthorization{
		State:          "s1",
		RegistrationID: "spotify-user",
		PrincipalName:  "alice",
		RedirectURI:    "/settings",
	}, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, mr.TTL("oauth2:state:s1"))

	got, err := store.Take(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/settings", got.RedirectURI)
	assert.False(t, mr.Exists("oauth2:state:s1"))

	again, err := store.Take(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, store.Save(ctx, &PendingAuthorization{State: "s2", RegistrationID: "google"}, time.Minute))
	mr.FastForward(2 * time.Minute)
	expired, err := store.Take(ctx, "s2")
	require.NoError(t, err)
	assert.Nil(t, expired)
}
