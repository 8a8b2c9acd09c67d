package model

import "time"

// Outcome is the status recorded on a progress event.
type Outcome string

const (
	OutcomeStarting   Outcome = "starting"
	OutcomeInProgress Outcome = "in_progress"
	OutcomeSuccess    Outcome = "success"
	OutcomeError      Outcome = "error"
	OutcomeSkipped    Outcome = "skipped"
)

// Stage names recorded on progress events.
const (
	StageInitialFields     = "initial_fields"
	StageAdvanceToDetail   = "advance_to_detail"
	StageDuplicateDetected = "duplicate_detected"
	StageAddDependent      = "add_dependent"
	StageDependentsAdded   = "dependents_added"
	StageAddPlan           = "add_plan"
	StagePlanAdded         = "plan_added"
	StageDependentValues   = "dependent_values_added"
	StageReview            = "review"
	StageSubmit            = "submit"
	StageSign              = "sign"
	StageConfirmation      = "confirmation"
	StageGroupComplete     = "group_complete"
	StageAdvanceToNext     = "advance_to_next"
	StageUnexpected        = "unexpected_failure"
)

// ProgressEvent is an append-only fact about a group's workflow.
type ProgressEvent struct {
	ID          int64     `json:"id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	Stage       string    `json:"stage"`
	Outcome     Outcome   `json:"outcome"`
	Notes       string    `json:"notes,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// IsGroupComplete reports whether the event is the designated terminal
// success pair.
func (e ProgressEvent) IsGroupComplete() bool {
	return e.Stage == StageGroupComplete && e.Outcome == OutcomeSuccess
}

// IsTerminal reports whether the event survives a group purge.
func (e ProgressEvent) IsTerminal() bool {
	return e.IsGroupComplete() || e.Outcome == OutcomeSkipped
}

// SubEntityKind selects one of the three processed-sub-entity tables.
type SubEntityKind string

const (
	SubEntityDependent      SubEntityKind = "dependent"
	SubEntityPlan           SubEntityKind = "plan"
	SubEntityDependentValue SubEntityKind = "dependent_value"
)

// SubEntityKinds lists every kind in table order.
var SubEntityKinds = []SubEntityKind{SubEntityDependent, SubEntityPlan, SubEntityDependentValue}

// SubEntityRecord is one row of a processed-sub-entity table. Key is the
// dependent CPF for dependents and dependent values, and the operator CNPJ
// for plans.
type SubEntityRecord struct {
	ID          int64         `json:"id"`
	Kind        SubEntityKind `json:"kind"`
	IdentityID  string        `json:"identity_id"`
	Key         string        `json:"key"`
	Code        string        `json:"code,omitempty"`
	Description string        `json:"description,omitempty"`
	Amount      string        `json:"amount,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// GroupSummary is the latest known state of one identity plus sub-entity
// counts, used by reports.
type GroupSummary struct {
	IdentityID       string    `json:"identity_id"`
	DisplayName      string    `json:"display_name"`
	Stage            string    `json:"stage"`
	Outcome          Outcome   `json:"outcome"`
	Notes            string    `json:"notes,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	Dependents       int       `json:"dependents"`
	DependentsOK     int       `json:"dependents_ok"`
	Plans            int       `json:"plans"`
	PlansOK          int       `json:"plans_ok"`
	DependentValues  int       `json:"dependent_values"`
	DependentValueOK int       `json:"dependent_values_ok"`
}

// LedgerStats holds row counts across the checkpoint tables.
type LedgerStats struct {
	Events          int             `json:"events"`
	Identities      int             `json:"identities"`
	ByOutcome       map[Outcome]int `json:"by_outcome"`
	Dependents      int             `json:"dependents"`
	Plans           int             `json:"plans"`
	DependentValues int             `json:"dependent_values"`
	Ordinal         *int            `json:"checkpoint_ordinal,omitempty"`
}
