package ai

import (
	"errors"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

const (
	// throttleBaseBackoff is the first wait after a rate limit or overload;
	// Anthropic token windows reset per minute.
	throttleBaseBackoff = 60 * time.Second
	throttleMaxBackoff  = 120 * time.Second
)

// errorClass says how a failed API call should be retried.
type errorClass int

const (
	classTransient errorClass = iota // network blips and 5xx: short exponential backoff
	classThrottled                   // rate limit or overload: wait for the window
	classPermanent                   // bad key, bad request: retrying cannot help
)

func (c errorClass) String() string {
	switch c {
	case classThrottled:
		return "throttled"
	case classPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// classifyError sorts an API error. SDK error types win; otherwise the
// message text is matched.
func classifyError(err error) errorClass {
	if err == nil {
		return classTransient
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case anthropic.ErrTypeRateLimit, anthropic.ErrTypeOverloaded:
			return classThrottled
		case anthropic.ErrTypeAuthentication, anthropic.ErrTypePermission,
			anthropic.ErrTypeInvalidRequest, anthropic.ErrTypeNotFound:
			return classPermanent
		}
		return classTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate_limit_error", "rate limit", "429", "too many requests", "overloaded", "503"} {
		if strings.Contains(msg, marker) {
			return classThrottled
		}
	}
	for _, marker := range []string{"authentication_error", "invalid x-api-key", "401", "permission_error"} {
		if strings.Contains(msg, marker) {
			return classPermanent
		}
	}
	return classTransient
}

// getBackoffDuration returns the wait before the next attempt: 60s per
// attempt capped at 120s when throttled, 2^attempt seconds otherwise.
func getBackoffDuration(err error, attempt int) time.Duration {
	if classifyError(err) == classThrottled {
		return min(throttleBaseBackoff*time.Duration(attempt), throttleMaxBackoff)
	}
	return time.Duration(1<<attempt) * time.Second
}
