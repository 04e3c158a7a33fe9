package telemetry

import (
	"errors"
	"fmt"
)

// ErrStructuralInput is the sentinel for input that cannot be treated as
// text at all. Match it with errors.Is.
var ErrStructuralInput = errors.New("structurally invalid input")

// ParseError reports a structurally invalid call to the parser. Bad content
// inside an otherwise valid text never produces a ParseError: malformed
// blocks are skipped and counted instead.
type ParseError struct {
	Reason string
	Offset int // byte offset of the offending input, -1 if not applicable
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("parse error: %s (at byte %d)", e.Reason, e.Offset)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

// Unwrap lets errors.Is match ErrStructuralInput.
func (e *ParseError) Unwrap() error {
	return ErrStructuralInput
}
