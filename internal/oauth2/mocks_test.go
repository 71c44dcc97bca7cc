package oauth2

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockManager is a mock AuthorizedClientManager
type MockManager struct {
	mock.Mock
}

func (m *MockManager) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizedClient, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AuthorizedClient), args.Error(1)
}

// MockTokenExchanger is a mock TokenExchanger
type MockTokenExchanger struct {
	mock.Mock
}

func (m *MockTokenExchanger) ClientCredentials(ctx context.Context, reg *ClientRegistration) (*AccessToken, *RefreshToken, error) {
	args := m.Called(ctx, reg)
	return tokenArgs(args)
}

func (m *MockTokenExchanger) Refresh(ctx context.Context, reg *ClientRegistration, refreshToken *RefreshToken) (*AccessToken, *RefreshToken, error) {
	args := m.Called(ctx, reg, refreshToken)
	return tokenArgs(args)
}

func (m *MockTokenExchanger) Exchange(ctx context.Context, reg *ClientRegistration, code string) (*AccessToken, *RefreshToken, error) {
	args := m.Called(ctx, reg, code)
	return tokenArgs(args)
}

func (m *MockTokenExchanger) AuthCodeURL(reg *ClientRegistration, state string) string {
	return m.Called(reg, state).String(0)
}

func (m *MockTokenExchanger) UserInfo(ctx context.Context, reg *ClientRegistration, accessToken string) (map[string]any, error) {
	args := m.Called(ctx, reg, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func tokenArgs(args mock.Arguments) (*AccessToken, *RefreshToken, error) {
	var (
		access  *AccessToken
		refresh *RefreshToken
	)
	if v := args.Get(0); v != nil {
		access = v.(*AccessToken)
	}
	if v := args.Get(1); v != nil {
		refresh = v.(*RefreshToken)
	}
	return access, refresh, args.Error(2)
}

// staticUsers always reports the same user id
type staticUsers struct {
	id  string
	err error
}

func (s staticUsers) CurrentUserID(context.Context) (string, error) {
	return s.id, s.err
}

// fixedKeys hands out preset keys in order
type fixedKeys struct {
	keys  []string
	calls int
}

func (f *fixedKeys) GenerateKey() (string, error) {
	key := f.keys[f.calls%len(f.keys)]
	f.calls++
	return key, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func bearer(value string, expiresAt time.Time) *AccessToken {
	return &AccessToken{TokenValue: value, TokenType: "Bearer", ExpiresAt: timePtr(expiresAt)}
}
