package group

import "fmt"

// ValidationError describes a source row field that could not be used. A row
// missing a required field is dropped; an unreadable amount becomes zero.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("group: row %d: %s: %s", e.Row, e.Field, e.Reason)
}
