package source

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status        int
		wantKind      ErrorKind
		wantRetryable bool
	}{
		{429, KindRateLimit, true},
		{500, KindServer, true},
		{503, KindServer, true},
		{400, KindClient, false},
		{404, KindClient, false},
		{201, KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			fe := ClassifyHTTPStatus(tt.status)
			if fe.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", fe.Kind, tt.wantKind)
			}
			if fe.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", fe.Retryable, tt.wantRetryable)
			}
			if fe.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", fe.StatusCode, tt.status)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewNetworkError(errors.New("refused")), true},
		{"timeout", NewTimeoutError(errors.New("deadline")), true},
		{"throttle", NewThrottleError(429), true},
		{"malformed", NewMalformedError("null result"), true},
		{"client", NewClientError(404, "not found"), false},
		{"validation", NewValidationError("bad symbol"), false},
		{"wrapped", fmt.Errorf("fetch: %w", NewServerError(500)), true},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsThrottle(t *testing.T) {
	if !IsThrottle(NewThrottleError(429)) {
		t.Error("IsThrottle() = false for a throttle error")
	}
	if !IsThrottle(fmt.Errorf("fetch: %w", NewThrottleError(429))) {
		t.Error("IsThrottle() = false for a wrapped throttle error")
	}
	if IsThrottle(NewServerError(500)) {
		t.Error("IsThrottle() = true for a server error")
	}
}

func TestFetchErrorMessage(t *testing.T) {
	withStatus := NewServerError(502)
	if got := withStatus.Error(); got != "server error (status 502): server returned an error" {
		t.Errorf("Error() = %q", got)
	}
	withoutStatus := NewMalformedError("chart result is null")
	if got := withoutStatus.Error(); got != "malformed error: chart result is null" {
		t.Errorf("Error() = %q", got)
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewNetworkError(cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is() does not reach the cause")
	}
}
