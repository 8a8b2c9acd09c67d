package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/efdreinf/reinf-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock pools satisfy
// it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool, for teams that keep the
// ledger in a shared database.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	now     Clock
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// WithClock overrides the timestamp source.
func (s *PostgresStore) WithClock(c Clock) *PostgresStore {
	s.now = c
	return s
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

const postgresSubEntityTable = `
CREATE TABLE IF NOT EXISTS %s (
	id          BIGSERIAL PRIMARY KEY,
	identity_id TEXT NOT NULL,
	sub_key     TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	amount      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_%s_identity ON %s(identity_id, sub_key);
`

var postgresMigration = `
CREATE TABLE IF NOT EXISTS progress_events (
	id           BIGSERIAL PRIMARY KEY,
	identity_id  TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	notes        TEXT NOT NULL DEFAULT '',
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_progress_identity ON progress_events(identity_id, recorded_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS checkpoint_pointer (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	last_ordinal INTEGER NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
` + subEntityDDL()

func subEntityDDL() string {
	var b strings.Builder
	for _, kind := range model.SubEntityKinds {
		t := subEntityTables[kind]
		fmt.Fprintf(&b, postgresSubEntityTable, t, t, t)
	}
	return b.String()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev model.ProgressEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = s.clock()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO progress_events (identity_id, display_name, stage, outcome, notes, recorded_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.IdentityID, ev.DisplayName, ev.Stage, string(ev.Outcome), ev.Notes, ev.RecordedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert event %s/%s", ev.IdentityID, ev.Stage)
}

const postgresEventCols = `id, identity_id, display_name, stage, outcome, notes, recorded_at`

func scanPostgresEvent(row pgx.Row) (model.ProgressEvent, error) {
	var (
		ev      model.ProgressEvent
		outcome string
	)
	err := row.Scan(&ev.ID, &ev.IdentityID, &ev.DisplayName, &ev.Stage, &outcome, &ev.Notes, &ev.RecordedAt)
	ev.Outcome = model.Outcome(outcome)
	return ev, err
}

func (s *PostgresStore) LatestEvent(ctx context.Context, identityID string) (*model.ProgressEvent, error) {
	ev, err := scanPostgresEvent(s.pool.QueryRow(ctx,
		`SELECT `+postgresEventCols+` FROM progress_events WHERE identity_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		identityID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest event %s", identityID)
	}
	return &ev, nil
}

func (s *PostgresStore) GroupIsComplete(ctx context.Context, identityID string) (bool, error) {
	return latestIs(ctx, s, identityID, model.ProgressEvent.IsGroupComplete)
}

func (s *PostgresStore) GroupWasSkipped(ctx context.Context, identityID string) (bool, error) {
	return latestIs(ctx, s, identityID, isSkipped)
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.ProgressEvent, error) {
	query := `SELECT ` + postgresEventCols + ` FROM progress_events`
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.IdentityID != "" {
		add("identity_id = $%d", filter.IdentityID)
	}
	if filter.Stage != "" {
		add("stage = $%d", filter.Stage)
	}
	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.ProgressEvent
	for rows.Next() {
		ev, err := scanPostgresEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: iterate events")
}

func (s *PostgresStore) RecordSubEntity(ctx context.Context, rec model.SubEntityRecord) error {
	table, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	if err := validateSubEntity(rec); err != nil {
		return err
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.clock()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+table+` (identity_id, sub_key, code, description, amount, outcome, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.IdentityID, rec.Key, rec.Code, rec.Description, rec.Amount, string(rec.Outcome), rec.RecordedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert %s %s/%s", rec.Kind, rec.IdentityID, rec.Key)
}

func (s *PostgresStore) IsSubEntityDone(ctx context.Context, kind model.SubEntityKind, identityID, key string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	var done bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE identity_id = $1 AND sub_key = $2 AND outcome = 'success')`,
		identityID, key,
	).Scan(&done)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check %s %s/%s", kind, identityID, key)
	}
	return done, nil
}

func (s *PostgresStore) ListSubEntities(ctx context.Context, kind model.SubEntityKind, identityID string) ([]model.SubEntityRecord, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, identity_id, sub_key, code, description, amount, outcome, recorded_at FROM ` + table
	var args []any
	if identityID != "" {
		query += ` WHERE identity_id = $1`
		args = append(args, identityID)
	}
	query += ` ORDER BY recorded_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", kind)
	}
	defer rows.Close()

	var out []model.SubEntityRecord
	for rows.Next() {
		var (
			rec     model.SubEntityRecord
			outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &rec.Key, &rec.Code, &rec.Description, &rec.Amount, &outcome, &rec.RecordedAt); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", kind)
		}
		rec.Kind = kind
		rec.Outcome = model.Outcome(outcome)
		out = append(out, rec)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", kind)
}

func (s *PostgresStore) PurgeGroup(ctx context.Context, identityID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin purge")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, kind := range model.SubEntityKinds {
		if _, err := tx.Exec(ctx, `DELETE FROM `+subEntityTables[kind]+` WHERE identity_id = $1`, identityID); err != nil {
			return eris.Wrapf(err, "postgres: purge %s %s", kind, identityID)
		}
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM progress_events WHERE identity_id = $1 AND NOT ((stage = $2 AND outcome = 'success') OR outcome = 'skipped')`,
		identityID, model.StageGroupComplete,
	); err != nil {
		return eris.Wrapf(err, "postgres: purge events %s", identityID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit purge")
}

func (s *PostgresStore) PurgeAll(ctx context.Context) error {
	tables := []string{"progress_events", "checkpoint_pointer"}
	for _, kind := range model.SubEntityKinds {
		tables = append(tables, subEntityTables[kind])
	}
	_, err := s.pool.Exec(ctx, `TRUNCATE `+strings.Join(tables, ", ")+` RESTART IDENTITY`)
	return eris.Wrap(err, "postgres: purge all")
}

func (s *PostgresStore) SetCheckpointOrdinal(ctx context.Context, ordinal int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoint_pointer (id, last_ordinal, recorded_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET last_ordinal = EXCLUDED.last_ordinal, recorded_at = EXCLUDED.recorded_at`,
		ordinal, s.clock(),
	)
	return eris.Wrapf(err, "postgres: set checkpoint ordinal %d", ordinal)
}

func (s *PostgresStore) GetCheckpointOrdinal(ctx context.Context) (int, bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT last_ordinal FROM checkpoint_pointer WHERE id = 1`).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: get checkpoint ordinal")
	}
	return n, true, nil
}

func (s *PostgresStore) ClearCheckpointOrdinal(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoint_pointer`)
	return eris.Wrap(err, "postgres: clear checkpoint ordinal")
}

const postgresSummaryQuery = `
SELECT l.identity_id, l.display_name, l.stage, l.outcome, l.notes, l.recorded_at,
	(SELECT COUNT(*) FROM dependents_processed d WHERE d.identity_id = l.identity_id),
	(SELECT COUNT(*) FROM dependents_processed d WHERE d.identity_id = l.identity_id AND d.outcome = 'success'),
	(SELECT COUNT(*) FROM plans_processed p WHERE p.identity_id = l.identity_id),
	(SELECT COUNT(*) FROM plans_processed p WHERE p.identity_id = l.identity_id AND p.outcome = 'success'),
	(SELECT COUNT(*) FROM dependent_values_processed v WHERE v.identity_id = l.identity_id),
	(SELECT COUNT(*) FROM dependent_values_processed v WHERE v.identity_id = l.identity_id AND v.outcome = 'success')
FROM (
	SELECT DISTINCT ON (identity_id) identity_id, display_name, stage, outcome, notes, recorded_at
	FROM progress_events
	ORDER BY identity_id, recorded_at DESC, id DESC
) l
ORDER BY l.recorded_at, l.identity_id
`

func (s *PostgresStore) GroupSummaries(ctx context.Context) ([]model.GroupSummary, error) {
	rows, err := s.pool.Query(ctx, postgresSummaryQuery)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: group summaries")
	}
	defer rows.Close()

	var out []model.GroupSummary
	for rows.Next() {
		var (
			g       model.GroupSummary
			outcome string
		)
		if err := rows.Scan(&g.IdentityID, &g.DisplayName, &g.Stage, &outcome, &g.Notes, &g.UpdatedAt,
			&g.Dependents, &g.DependentsOK, &g.Plans, &g.PlansOK, &g.DependentValues, &g.DependentValueOK); err != nil {
			return nil, eris.Wrap(err, "postgres: scan group summary")
		}
		g.Outcome = model.Outcome(outcome)
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate group summaries")
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.LedgerStats, error) {
	st := &model.LedgerStats{ByOutcome: map[model.Outcome]int{}}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM progress_events),
			(SELECT COUNT(DISTINCT identity_id) FROM progress_events),
			(SELECT COUNT(*) FROM dependents_processed),
			(SELECT COUNT(*) FROM plans_processed),
			(SELECT COUNT(*) FROM dependent_values_processed)`,
	).Scan(&st.Events, &st.Identities, &st.Dependents, &st.Plans, &st.DependentValues)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats count")
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
