package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errorClass
	}{
		{name: "nil error", err: nil, want: classTransient},
		{name: "SDK rate limit", err: &anthropic.APIError{Type: anthropic.ErrTypeRateLimit}, want: classThrottled},
		{name: "SDK overloaded", err: &anthropic.APIError{Type: anthropic.ErrTypeOverloaded}, want: classThrottled},
		{name: "SDK authentication", err: &anthropic.APIError{Type: anthropic.ErrTypeAuthentication}, want: classPermanent},
		{name: "SDK invalid request", err: &anthropic.APIError{Type: anthropic.ErrTypeInvalidRequest}, want: classPermanent},
		{name: "SDK api error", err: &anthropic.APIError{Type: anthropic.ErrTypeApi}, want: classTransient},
		{name: "text rate_limit_error", err: errors.New("rate_limit_error: exceeded"), want: classThrottled},
		{name: "text 429", err: errors.New("API returned status 429"), want: classThrottled},
		{name: "text too many requests", err: errors.New("Too Many Requests"), want: classThrottled},
		{name: "text overloaded", err: errors.New("API is currently overloaded"), want: classThrottled},
		{name: "text 503", err: errors.New("status 503"), want: classThrottled},
		{name: "text authentication", err: errors.New("authentication_error: invalid x-api-key"), want: classPermanent},
		{name: "connection timeout", err: errors.New("connection timeout"), want: classTransient},
		{name: "wrapped SDK error", err: errors.Join(errors.New("call failed"), &anthropic.APIError{Type: anthropic.ErrTypeRateLimit}), want: classThrottled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetBackoffDuration(t *testing.T) {
	throttled := &anthropic.APIError{Type: anthropic.ErrTypeRateLimit}
	transient := errors.New("connection timeout")

	tests := []struct {
		name    string
		err     error
		attempt int
		want    time.Duration
	}{
		{name: "throttled attempt 1", err: throttled, attempt: 1, want: 60 * time.Second},
		{name: "throttled attempt 2", err: throttled, attempt: 2, want: 120 * time.Second},
		{name: "throttled attempt 3 capped", err: throttled, attempt: 3, want: 120 * time.Second},
		{name: "overloaded text", err: errors.New("overloaded"), attempt: 1, want: 60 * time.Second},
		{name: "transient attempt 1", err: transient, attempt: 1, want: 2 * time.Second},
		{name: "transient attempt 2", err: transient, attempt: 2, want: 4 * time.Second},
		{name: "transient attempt 3", err: transient, attempt: 3, want: 8 * time.Second},
		{name: "nil error", err: nil, attempt: 1, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getBackoffDuration(tt.err, tt.attempt); got != tt.want {
				t.Errorf("getBackoffDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryWithBackoff_StopsOnPermanent(t *testing.T) {
	attempts := 0
	cause := errors.New("bad key")

	_, err := retryWithBackoff(context.Background(), 3, func(error, int) time.Duration { return 0 }, func() (int, error) {
		attempts++
		return 0, permanent(cause)
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected error to wrap cause, got %v", err)
	}
	if permanent(nil) != nil {
		t.Error("permanent(nil) should be nil")
	}
}

func TestAnalyze_AuthenticationErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	_, _, err := client.Analyze(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("Expected authentication error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 call, got %d", got)
	}
	if !strings.Contains(err.Error(), "permanent") {
		t.Errorf("Expected permanent failure, got %v", err)
	}
}
