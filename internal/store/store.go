package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/efdreinf/reinf-cli/internal/model"
)

// EventFilter specifies criteria for listing progress events.
type EventFilter struct {
	IdentityID string        `json:"identity_id,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	Outcome    model.Outcome `json:"outcome,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

// Store is the checkpoint ledger: an append-only progress log, three
// processed-sub-entity tables and a single-row group pointer. Writes are one
// statement each, except purges which run in one transaction.
type Store interface {
	// Progress events
	RecordEvent(ctx context.Context, ev model.ProgressEvent) error
	LatestEvent(ctx context.Context, identityID string) (*model.ProgressEvent, error)
	GroupIsComplete(ctx context.Context, identityID string) (bool, error)
	GroupWasSkipped(ctx context.Context, identityID string) (bool, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]model.ProgressEvent, error)

	// Processed sub-entities
	RecordSubEntity(ctx context.Context, rec model.SubEntityRecord) error
	IsSubEntityDone(ctx context.Context, kind model.SubEntityKind, identityID, key string) (bool, error)
	ListSubEntities(ctx context.Context, kind model.SubEntityKind, identityID string) ([]model.SubEntityRecord, error)

	// Purge
	PurgeGroup(ctx context.Context, identityID string) error
	PurgeAll(ctx context.Context) error

	// Group pointer
	SetCheckpointOrdinal(ctx context.Context, ordinal int) error
	GetCheckpointOrdinal(ctx context.Context) (int, bool, error)
	ClearCheckpointOrdinal(ctx context.Context) error

	// Reports
	GroupSummaries(ctx context.Context) ([]model.GroupSummary, error)
	Stats(ctx context.Context) (*model.LedgerStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Clock returns the current time. Stores default to time.Now.
type Clock func() time.Time

// subEntityTables maps each kind to its table.
var subEntityTables = map[model.SubEntityKind]string{
	model.SubEntityDependent:      "dependents_processed",
	model.SubEntityPlan:           "plans_processed",
	model.SubEntityDependentValue: "dependent_values_processed",
}

func tableFor(kind model.SubEntityKind) (string, error) {
	t, ok := subEntityTables[kind]
	if !ok {
		return "", eris.Errorf("store: unknown sub-entity kind %q", kind)
	}
	return t, nil
}

func validateEvent(ev model.ProgressEvent) error {
	if ev.IdentityID == "" {
		return eris.New("store: event identity is required")
	}
	if ev.Stage == "" {
		return eris.New("store: event stage is required")
	}
	switch ev.Outcome {
	case model.OutcomeStarting, model.OutcomeInProgress, model.OutcomeSuccess, model.OutcomeError, model.OutcomeSkipped:
	default:
		return eris.Errorf("store: unknown outcome %q", ev.Outcome)
	}
	return nil
}

func validateSubEntity(rec model.SubEntityRecord) error {
	if rec.IdentityID == "" || rec.Key == "" {
		return eris.New("store: sub-entity identity and key are required")
	}
	if rec.Outcome != model.OutcomeSuccess && rec.Outcome != model.OutcomeError {
		return eris.Errorf("store: sub-entity outcome must be success or error, got %q", rec.Outcome)
	}
	return nil
}

type latestEventer interface {
	LatestEvent(ctx context.Context, identityID string) (*model.ProgressEvent, error)
}

// latestIs evaluates pred against the most recent event of an identity.
func latestIs(ctx context.Context, s latestEventer, identityID string, pred func(model.ProgressEvent) bool) (bool, error) {
	ev, err := s.LatestEvent(ctx, identityID)
	if err != nil {
		return false, err
	}
	return ev != nil && pred(*ev), nil
}

func isSkipped(ev model.ProgressEvent) bool {
	return ev.Outcome == model.OutcomeSkipped
}
