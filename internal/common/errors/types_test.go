package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "basic error",
			appError: ValidationError("unsupported grant type: password"),
			want:     "validation: unsupported grant type: password",
		},
		{
			name:     "error with code",
			appError: AuthError("session expired").WithCode("AUTH001"),
			want:     "authentication: session expired: code=AUTH001",
		},
		{
			name:     "error with cause",
			appError: ConnectionError("token endpoint unreachable", errors.New("dial tcp: timeout")),
			want:     "connection: token endpoint unreachable: cause=dial tcp: timeout",
		},
		{
			name: "error with sorted context",
			appError: IllegalArgumentError("no access token").
				WithContext("registration_id", "spotify-user").
				WithContext("principal", "alice"),
			want: "illegal_argument: no access token: context={principal=alice, registration_id=spotify-user}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapped", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestIsType(t *testing.T) {
	err := IllegalStateError("unknown registration id: github")
	wrapped := fmt.Errorf("resolving user: %w", err)

	if !IsType(err, ErrTypeIllegalState) {
		t.Error("IsType should match direct AppError")
	}
	if !IsType(wrapped, ErrTypeIllegalState) {
		t.Error("IsType should match wrapped AppError")
	}
	if IsType(wrapped, ErrTypeValidation) {
		t.Error("IsType should not match a different type")
	}
	if IsType(nil, ErrTypeValidation) {
		t.Error("IsType(nil) should be false")
	}
	if IsType(errors.New("plain"), ErrTypeInternal) {
		t.Error("IsType should be false for foreign errors")
	}
}

func TestGetType(t *testing.T) {
	if got := GetType(nil); got != "" {
		t.Errorf("GetType(nil) = %q, want empty", got)
	}
	if got := GetType(errors.New("plain")); got != ErrTypeInternal {
		t.Errorf("GetType(plain) = %q, want %q", got, ErrTypeInternal)
	}
	if got := GetType(fmt.Errorf("x: %w", NotFoundError("client"))); got != ErrTypeNotFound {
		t.Errorf("GetType(wrapped) = %q, want %q", got, ErrTypeNotFound)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ValidationError("bad"), http.StatusBadRequest},
		{AuthError("no session"), http.StatusUnauthorized},
		{NotFoundError("registration"), http.StatusNotFound},
		{RateLimitError("ip"), http.StatusTooManyRequests},
		{IllegalStateError("unknown registration id: x"), http.StatusServiceUnavailable},
		{IllegalArgumentError("no token for spotify-user"), http.StatusServiceUnavailable},
		{ConnectionError("spotify down", nil), http.StatusServiceUnavailable},
		{ConfigError("missing"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
