package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/efdreinf/reinf-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now Clock
}

// NewSQLite opens a SQLite database at the given path in WAL mode with full
// fsync, so every committed write survives a crash or power loss.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps the batch's writes strictly sequential.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// WithClock overrides the timestamp source.
func (s *SQLiteStore) WithClock(c Clock) *SQLiteStore {
	s.now = c
	return s
}

// tsLayout is fixed width so recorded_at sorts correctly as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: malformed timestamp %q", s)
	}
	return t, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS progress_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_id  TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	notes        TEXT NOT NULL DEFAULT '',
	recorded_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dependents_processed (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_id TEXT NOT NULL,
	sub_key     TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	amount      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plans_processed (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_id TEXT NOT NULL,
	sub_key     TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	amount      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dependent_values_processed (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_id TEXT NOT NULL,
	sub_key     TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	amount      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoint_pointer (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	last_ordinal INTEGER NOT NULL,
	recorded_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_progress_identity ON progress_events(identity_id, recorded_at, id);
CREATE INDEX IF NOT EXISTS idx_dependents_identity ON dependents_processed(identity_id, sub_key);
CREATE INDEX IF NOT EXISTS idx_plans_identity ON plans_processed(identity_id, sub_key);
CREATE INDEX IF NOT EXISTS idx_dependent_values_identity ON dependent_values_processed(identity_id, sub_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, ev model.ProgressEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_events (identity_id, display_name, stage, outcome, notes, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.IdentityID, ev.DisplayName, ev.Stage, string(ev.Outcome), ev.Notes, formatTS(ev.RecordedAt),
	)
	return eris.Wrapf(err, "sqlite: insert event %s/%s", ev.IdentityID, ev.Stage)
}

const sqliteEventCols = `id, identity_id, display_name, stage, outcome, notes, recorded_at`

func scanSQLiteEvent(sc interface{ Scan(...any) error }) (model.ProgressEvent, error) {
	var (
		ev         model.ProgressEvent
		outcome    string
		recordedAt string
	)
	if err := sc.Scan(&ev.ID, &ev.IdentityID, &ev.DisplayName, &ev.Stage, &outcome, &ev.Notes, &recordedAt); err != nil {
		return ev, err
	}
	ev.Outcome = model.Outcome(outcome)
	ts, err := parseTS(recordedAt)
	if err != nil {
		return ev, err
	}
	ev.RecordedAt = ts
	return ev, nil
}

func (s *SQLiteStore) LatestEvent(ctx context.Context, identityID string) (*model.ProgressEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEventCols+` FROM progress_events WHERE identity_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		identityID,
	)
	ev, err := scanSQLiteEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest event %s", identityID)
	}
	return &ev, nil
}

func (s *SQLiteStore) GroupIsComplete(ctx context.Context, identityID string) (bool, error) {
	return latestIs(ctx, s, identityID, model.ProgressEvent.IsGroupComplete)
}

func (s *SQLiteStore) GroupWasSkipped(ctx context.Context, identityID string) (bool, error) {
	return latestIs(ctx, s, identityID, isSkipped)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.ProgressEvent, error) {
	query := `SELECT ` + sqliteEventCols + ` FROM progress_events`
	var (
		where []string
		args  []any
	)
	if filter.IdentityID != "" {
		where = append(where, "identity_id = ?")
		args = append(args, filter.IdentityID)
	}
	if filter.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, filter.Stage)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close() //nolint:errcheck

	var events []model.ProgressEvent
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

func (s *SQLiteStore) RecordSubEntity(ctx context.Context, rec model.SubEntityRecord) error {
	table, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	if err := validateSubEntity(rec); err != nil {
		return err
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (identity_id, sub_key, code, description, amount, outcome, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.IdentityID, rec.Key, rec.Code, rec.Description, rec.Amount, string(rec.Outcome), formatTS(rec.RecordedAt),
	)
	return eris.Wrapf(err, "sqlite: insert %s %s/%s", rec.Kind, rec.IdentityID, rec.Key)
}

func (s *SQLiteStore) IsSubEntityDone(ctx context.Context, kind model.SubEntityKind, identityID, key string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE identity_id = ? AND sub_key = ? AND outcome = 'success'`,
		identityID, key,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check %s %s/%s", kind, identityID, key)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListSubEntities(ctx context.Context, kind model.SubEntityKind, identityID string) ([]model.SubEntityRecord, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, identity_id, sub_key, code, description, amount, outcome, recorded_at FROM ` + table
	var args []any
	if identityID != "" {
		query += ` WHERE identity_id = ?`
		args = append(args, identityID)
	}
	query += ` ORDER BY recorded_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", kind)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SubEntityRecord
	for rows.Next() {
		var (
			rec        model.SubEntityRecord
			outcome    string
			recordedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &rec.Key, &rec.Code, &rec.Description, &rec.Amount, &outcome, &recordedAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", kind)
		}
		rec.Kind = kind
		rec.Outcome = model.Outcome(outcome)
		ts, err := parseTS(recordedAt)
		if err != nil {
			return nil, err
		}
		rec.RecordedAt = ts
		out = append(out, rec)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", kind)
}

// PurgeGroup deletes every sub-entity row of the identity and every event
// that is not terminal, atomically.
func (s *SQLiteStore) PurgeGroup(ctx context.Context, identityID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin purge")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, kind := range model.SubEntityKinds {
		table := subEntityTables[kind]
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE identity_id = ?`, identityID); err != nil {
			return eris.Wrapf(err, "sqlite: purge %s %s", kind, identityID)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM progress_events WHERE identity_id = ? AND NOT ((stage = ? AND outcome = 'success') OR outcome = 'skipped')`,
		identityID, model.StageGroupComplete,
	); err != nil {
		return eris.Wrapf(err, "sqlite: purge events %s", identityID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit purge")
}

// PurgeAll empties every ledger table, including the pointer.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin purge all")
	}
	defer tx.Rollback() //nolint:errcheck

	tables := []string{"progress_events", "checkpoint_pointer"}
	for _, kind := range model.SubEntityKinds {
		tables = append(tables, subEntityTables[kind])
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return eris.Wrapf(err, "sqlite: purge %s", table)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit purge all")
}

func (s *SQLiteStore) SetCheckpointOrdinal(ctx context.Context, ordinal int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoint_pointer (id, last_ordinal, recorded_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET last_ordinal = excluded.last_ordinal, recorded_at = excluded.recorded_at`,
		ordinal, formatTS(s.now()),
	)
	return eris.Wrapf(err, "sqlite: set checkpoint ordinal %d", ordinal)
}

func (s *SQLiteStore) GetCheckpointOrdinal(ctx context.Context) (int, bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT last_ordinal FROM checkpoint_pointer WHERE id = 1`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: get checkpoint ordinal")
	}
	return n, true, nil
}

func (s *SQLiteStore) ClearCheckpointOrdinal(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoint_pointer`)
	return eris.Wrap(err, "sqlite: clear checkpoint ordinal")
}

const sqliteSummaryQuery = `
WITH latest AS (
	SELECT identity_id, display_name, stage, outcome, notes, recorded_at,
		ROW_NUMBER() OVER (PARTITION BY identity_id ORDER BY recorded_at DESC, id DESC) AS rn
	FROM progress_events
)
SELECT l.identity_id, l.display_name, l.stage, l.outcome, l.notes, l.recorded_at,
	(SELECT COUNT(*) FROM dependents_processed d WHERE d.identity_id = l.identity_id),
	(SELECT COUNT(*) FROM dependents_processed d WHERE d.identity_id = l.identity_id AND d.outcome = 'success'),
	(SELECT COUNT(*) FROM plans_processed p WHERE p.identity_id = l.identity_id),
	(SELECT COUNT(*) FROM plans_processed p WHERE p.identity_id = l.identity_id AND p.outcome = 'success'),
	(SELECT COUNT(*) FROM dependent_values_processed v WHERE v.identity_id = l.identity_id),
	(SELECT COUNT(*) FROM dependent_values_processed v WHERE v.identity_id = l.identity_id AND v.outcome = 'success')
FROM latest l
WHERE l.rn = 1
ORDER BY l.recorded_at, l.identity_id
`

func (s *SQLiteStore) GroupSummaries(ctx context.Context) ([]model.GroupSummary, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSummaryQuery)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: group summaries")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.GroupSummary
	for rows.Next() {
		var (
			g         model.GroupSummary
			outcome   string
			updatedAt string
		)
		if err := rows.Scan(&g.IdentityID, &g.DisplayName, &g.Stage, &outcome, &g.Notes, &updatedAt,
			&g.Dependents, &g.DependentsOK, &g.Plans, &g.PlansOK, &g.DependentValues, &g.DependentValueOK); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan group summary")
		}
		g.Outcome = model.Outcome(outcome)
		ts, err := parseTS(updatedAt)
		if err != nil {
			return nil, err
		}
		g.UpdatedAt = ts
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate group summaries")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.LedgerStats, error) {
	st := &model.LedgerStats{ByOutcome: map[model.Outcome]int{}}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM progress_events`, &st.Events},
		{`SELECT COUNT(DISTINCT identity_id) FROM progress_events`, &st.Identities},
		{`SELECT COUNT(*) FROM dependents_processed`, &st.Dependents},
		{`SELECT COUNT(*) FROM plans_processed`, &st.Plans},
		{`SELECT COUNT(*) FROM dependent_values_processed`, &st.DependentValues},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats count")
		}
	}

	summaries, err := s.GroupSummaries(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range summaries {
		st.ByOutcome[g.Outcome]++
	}

	ordinal, ok, err := s.GetCheckpointOrdinal(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		st.Ordinal = &ordinal
	}
	return st, nil
}
