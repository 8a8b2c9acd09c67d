package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateSubmissionError means the portal already holds an active
// declaration for the identity and period. It ends the group as skipped.
type DuplicateSubmissionError struct {
	IdentityID string
	Messages   []string
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("duplicate submission for %s: %s", e.IdentityID, strings.Join(e.Messages, "; "))
}

// TransientPageError is a page step that did not go through before
// submission: a timeout, a missing element or a validation alert. The
// group is purged and retried from scratch on a later run.
type TransientPageError struct {
	Stage    string
	Err      error
	Messages []string
}

func (e *TransientPageError) Error() string {
	return describe("page step "+e.Stage+" failed", e.Err, e.Messages)
}

func (e *TransientPageError) Unwrap() error { return e.Err }

// PostSubmitError is a failure after the irreversible submit call. The
// group is never purged and needs an operator to look at it.
type PostSubmitError struct {
	Stage    string
	Err      error
	Messages []string
}

func (e *PostSubmitError) Error() string {
	return describe("post-submit step "+e.Stage+" failed", e.Err, e.Messages)
}

func (e *PostSubmitError) Unwrap() error { return e.Err }

// StorageError is a checkpoint ledger failure. It aborts the batch.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func describe(what string, err error, messages []string) string {
	var b strings.Builder
	b.WriteString(what)
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	if len(messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(messages, "; "))
	}
	return b.String()
}
