// Package portal drives the EFD-REINF health-plan declaration form. The
// Automation contract is one method per form step; each step reports
// whether it went through and any alert text scraped from the page, and
// leaves classification to the caller.
package portal

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Result is the outcome of one page action. OK is false when the action
// could not be performed at all; ScrapedErrors holds alert text seen on the
// page afterwards, which may be non-empty even when OK is true.
type Result struct {
	OK            bool     `json:"ok"`
	ScrapedErrors []string `json:"scraped_errors,omitempty"`
}

// Done is a successful result with nothing scraped.
func Done() Result { return Result{OK: true} }

// InitialFields identifies the declaration being opened.
type InitialFields struct {
	Period          string
	EstablishmentID string
	HeadIdentityID  string
}

// DependentEntry is one row of the dependents modal.
type DependentEntry struct {
	IdentityID       string
	DisplayName      string
	Code             string
	OtherDescription string
}

// PlanEntry is the health-plan modal for the head.
type PlanEntry struct {
	OperatorID string
	HeadAmount string
}

// DependentValueEntry is the per-dependent amount modal.
type DependentValueEntry struct {
	DependentIdentityID string
	Amount              string
}

// SignMethod selects how the signer dialog is confirmed.
type SignMethod string

const (
	SignKeyboard SignMethod = "keyboard"
	SignClick    SignMethod = "click"
)

// ParseSignMethod validates a configured sign method.
func ParseSignMethod(s string) (SignMethod, error) {
	switch SignMethod(s) {
	case SignKeyboard, SignClick:
		return SignMethod(s), nil
	case "":
		return SignKeyboard, nil
	}
	return "", eris.Errorf("portal: unknown sign method %q", s)
}

// ErrConfirmationTimeout is returned by AwaitConfirmation when no success
// indicator appeared in time.
var ErrConfirmationTimeout = eris.New("portal: confirmation not observed")

// Automation is the page-level contract the planner drives. Implementations
// must not classify scraped text themselves.
type Automation interface {
	FillInitialFields(ctx context.Context, f InitialFields) (Result, error)
	AdvanceToDetail(ctx context.Context) (Result, error)
	AddDependent(ctx context.Context, d DependentEntry) (Result, error)
	AddPlan(ctx context.Context, p PlanEntry) (Result, error)
	AddDependentValue(ctx context.Context, v DependentValueEntry) (Result, error)
	Submit(ctx context.Context) (Result, error)
	Sign(ctx context.Context, method SignMethod) (Result, error)
	AwaitConfirmation(ctx context.Context, timeout time.Duration) (Result, error)
	AdvanceToNext(ctx context.Context) (Result, error)
	Close() error
}
