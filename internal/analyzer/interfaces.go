// Package analyzer runs the telemetry pipeline (parse, validate, derive,
// evaluate) and defines the seams used by the outer collaborators that read
// log files and describe a run to the AI step.
package analyzer

import "strings"

// EstimateTokens estimates the number of tokens in the content.
// Uses the algorithm: max(chars/4, words/0.75)
func EstimateTokens(content string) int {
	chars := len(content)
	words := len(strings.Fields(content))

	charsEstimate := chars / 4
	wordsEstimate := int(float64(words) / 0.75)

	if charsEstimate > wordsEstimate {
		return charsEstimate
	}
	return wordsEstimate
}

// LogReader reads and validates BMS log content from a source.
type LogReader interface {
	// Read reads log content from the specified source path.
	Read(sourcePath string) (string, error)

	// Validate checks that the content looks like a BMS telemetry log.
	// Called internally by Read, but exposed for testing.
	Validate(content string) error

	// GetSourceInfo returns metadata about the log source.
	// Common keys: size_bytes, size_mb, modified, age_hours
	GetSourceInfo(sourcePath string) (map[string]interface{}, error)
}

// Digester renders a pipeline result as compact text for the AI step.
type Digester interface {
	// EstimateTokens estimates the number of tokens in the content.
	EstimateTokens(content string) int

	// Digest renders the result, trimming low-priority sections to fit the
	// digester's token budget.
	Digest(result *Result) (string, error)
}

// PromptBuilder constructs prompts for Claude AI analysis.
type PromptBuilder interface {
	// GetSystemPrompt returns the system prompt defining Claude's role.
	GetSystemPrompt() string

	// GetUserPrompt constructs the user prompt with the run digest and history.
	// The digest should already be sanitized before passing.
	GetUserPrompt(digest, historicalContext string) string

	// GetLogType returns the type identifier, e.g. "bms_telemetry".
	GetLogType() string
}
