package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"metal-detector/internal/oauth2"
)

type MockManager struct {
	mock.Mock
}

func (m *MockManager) Authorize(ctx context.Context, req *oauth2.AuthorizeRequest) (*oauth2.AuthorizedClient, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oauth2.AuthorizedClient), args.Error(1)
}

func userClient(name string, expiresAt time.Time, refresh string) *oauth2.AuthorizedClient {
	client := &oauth2.AuthorizedClient{
		RegistrationID: "spotify-user",
		PrincipalName:  name,
		AccessToken:    &oauth2.AccessToken{TokenValue: "access-" + name, TokenType: "Bearer", ExpiresAt: &expiresAt},
	}
	if refresh != "" {
		client.RefreshToken = &oauth2.RefreshToken{TokenValue: refresh}
	}
	return client
}

func forPrincipal(name string) interface{} {
	return mock.MatchedBy(func(req *oauth2.AuthorizeRequest) bool {
		return req.RegistrationID == "spotify-user" &&
			req.Principal.Name() == name &&
			req.AuthorizedClient.HasRefreshToken() &&
			req.AuthorizedClient.RefreshToken.TokenValue == "refresh-"+name
	})
}

func scheduledMode() interface{} {
	return mock.MatchedBy(func(ctx context.Context) bool {
		return oauth2.ExecutionModeFromContext(ctx) == oauth2.ScheduledJob
	})
}

func newTokenRefresh(t *testing.T, clock clockwork.Clock, clients ...*oauth2.AuthorizedClient) (*Scheduler, *MockManager, *MockManager) {
	t.Helper()
	ctx := context.Background()
	store := oauth2.NewMemoryClientStore()
	for _, client := range clients {
		require.NoError(t, store.SaveAuthorizedClient(ctx, client))
	}

	requests, scheduled := new(MockManager), new(MockManager)
	job := NewTokenRefresh("spotify-user", store, oauth2.NewManagerSelector(requests, scheduled),
		oauth2.NewGrantStrategy(oauth2.ContextPrincipalSource{}), 10*time.Minute, clock)

	s := New(time.Minute, WithClock(clock))
	require.NoError(t, s.Register(TokenRefreshJobName, "*/5 * * * *", job))
	return s, requests, scheduled
}

func TestTokenRefresh_RenewsClientsDueForRefresh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	now := clock.Now()
	s, requests, scheduled := newTokenRefresh(t, clock,
		userClient("alice", now.Add(5*time.Minute), "refresh-alice"),
		userClient("bob", now.Add(time.Hour), "refresh-bob"),
		userClient("carol", now.Add(-time.Minute), ""),
		userClient("dave", now.Add(-time.Minute), "refresh-dave"),
	)
	scheduled.On("Authorize", scheduledMode(), forPrincipal("alice")).Return(&oauth2.AuthorizedClient{}, nil).Once()
	scheduled.On("Authorize", scheduledMode(), forPrincipal("dave")).Return(&oauth2.AuthorizedClient{}, nil).Once()

	require.NoError(t, s.RunNow(context.Background(), TokenRefreshJobName))

	scheduled.AssertExpectations(t)
	scheduled.AssertNumberOfCalls(t, "Authorize", 2)
	requests.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
}

func TestTokenRefresh_ContinuesAfterFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	now := clock.Now()
	s, _, scheduled := newTokenRefresh(t, clock,
		userClient("alice", now, "refresh-alice"),
		userClient("bob", now, "refresh-bob"),
	)
	scheduled.On("Authorize", mock.Anything, forPrincipal("alice")).Return(nil, fmt.Errorf("token endpoint down")).Once()
	scheduled.On("Authorize", mock.Anything, forPrincipal("bob")).Return(&oauth2.AuthorizedClient{}, nil).Once()

	err := s.RunNow(context.Background(), TokenRefreshJobName)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alice")
	assert.Contains(t, err.Error(), "token endpoint down")
	assert.NotContains(t, err.Error(), "bob")
	scheduled.AssertExpectations(t)

	status := s.Status()
	require.Len(t, status, 1)
	assert.Equal(t, 1, status[0].Failures)
}

func TestTokenRefresh_NoClients(t *testing.T) {
	s, requests, scheduled := newTokenRefresh(t, clockwork.NewFakeClock())

	require.NoError(t, s.RunNow(context.Background(), TokenRefreshJobName))
	requests.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
	scheduled.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything)
}
