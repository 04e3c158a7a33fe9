// Package errors keeps secrets out of error text and log output.
//
// The report tool holds three kinds of secret: the Anthropic API key, the
// Telegram bot token and credentials embedded in the proxy URL. Any of them
// can surface inside an SDK or transport error.
package errors

import (
	"fmt"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// redaction is one secret shape and its replacement template.
type redaction struct {
	pattern *regexp.Regexp
	replace string
}

var redactions = []redaction{
	// Anthropic keys: sk-ant-api03-... or sk-ant-...
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{10,}`), redactedPlaceholder},
	{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{32,}`), redactedPlaceholder},
	// Telegram bot token, bare or inside an api.telegram.org/bot<token>/ URL
	{regexp.MustCompile(`\d{8,12}:[a-zA-Z0-9_-]{30,}`), redactedPlaceholder},
	// user:password@ in proxy or endpoint URLs; the scheme and host survive
	{regexp.MustCompile(`(https?://)[^/\s:@]+:[^/\s@]+@`), "${1}" + redactedPlaceholder + "@"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`), redactedPlaceholder},
	{regexp.MustCompile(`(?i)authorization[:\s]+[^\s]+`), redactedPlaceholder},
	{regexp.MustCompile(`(?i)api[_-]?key[=:][^\s&"']+`), redactedPlaceholder},
	{regexp.MustCompile(`(?i)x-api-key[:\s]+[^\s]+`), redactedPlaceholder},
}

// SanitizeString redacts every known secret shape in s.
func SanitizeString(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replace)
	}
	return s
}

// SanitizeError returns err with a redacted message. The original stays
// reachable through errors.Is and errors.As.
func SanitizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	clean := SanitizeString(msg)
	if clean == msg {
		return err
	}

	return &sanitizedError{original: err, sanitized: clean}
}

// Wrapf is fmt.Errorf("<format>: %w", err) with err's message redacted.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), SanitizeError(err))
}

type sanitizedError struct {
	original  error
	sanitized string
}

func (e *sanitizedError) Error() string { return e.sanitized }

func (e *sanitizedError) Unwrap() error { return e.original }

// MaskCredential shortens a secret to a recognisable prefix for startup
// logs, e.g. "sk-ant-***..." or "123456789:***...".
func MaskCredential(s string) string {
	if len(s) < 10 {
		return strings.Repeat("*", len(s))
	}

	if strings.HasPrefix(s, "sk-ant-") {
		return "sk-ant-***..."
	}

	if botID, _, ok := strings.Cut(s, ":"); ok && botID != "" && len(botID) <= 12 {
		return botID + ":***..."
	}

	return s[:4] + "***..."
}
