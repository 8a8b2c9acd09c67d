package mockportal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/efdreinf/reinf-cli/internal/portal"
)

const migration = `
CREATE TABLE IF NOT EXISTS declarations (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	period             TEXT NOT NULL,
	establishment_cnpj TEXT NOT NULL,
	cpf                TEXT NOT NULL,
	dependents         TEXT NOT NULL DEFAULT '[]',
	plans              TEXT NOT NULL DEFAULT '[]',
	dependent_values   TEXT NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL DEFAULT 'pendente',
	sign_method        TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_declarations_period_cpf ON declarations(period, cpf);
`

// ErrNotFound is returned when a declaration id does not exist.
var ErrNotFound = eris.New("mockportal: declaration not found")

// DB stores declarations filed against the mock portal.
type DB struct {
	db *sql.DB
}

// OpenDB opens (and migrates) the SQLite database at path. Use ":memory:"
// for a throwaway portal.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "mockportal: open db")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "mockportal: exec %s", pragma)
		}
	}
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "mockportal: migrate")
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Insert stores a new pending declaration and returns its id.
func (d *DB) Insert(ctx context.Context, decl portal.Declaration) (int64, error) {
	deps, err := marshalList(decl.Dependents)
	if err != nil {
		return 0, err
	}
	plans, err := marshalList(decl.Plans)
	if err != nil {
		return 0, err
	}
	values, err := marshalList(decl.DependentValues)
	if err != nil {
		return 0, err
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO declarations (period, establishment_cnpj, cpf, dependents, plans, dependent_values, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		decl.Period, decl.EstablishmentCNPJ, decl.BeneficiaryCPF, deps, plans, values,
		portal.StatusPending, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, eris.Wrap(err, "mockportal: insert declaration")
	}
	return res.LastInsertId()
}

// Exists reports whether a declaration for the CPF and period was already
// filed.
func (d *DB) Exists(ctx context.Context, period, cpf string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM declarations WHERE period = ? AND cpf = ?`, period, cpf,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "mockportal: check duplicate")
	}
	return n > 0, nil
}

// Get loads one declaration.
func (d *DB) Get(ctx context.Context, id int64) (*portal.Declaration, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+declCols+` FROM declarations WHERE id = ?`, id)
	decl, err := scanDeclaration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mockportal: get declaration %d", id)
	}
	return decl, nil
}

// List returns every declaration, newest first.
func (d *DB) List(ctx context.Context) ([]portal.Declaration, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+declCols+` FROM declarations ORDER BY id DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "mockportal: list declarations")
	}
	defer rows.Close()

	var out []portal.Declaration
	for rows.Next() {
		decl, err := scanDeclaration(rows)
		if err != nil {
			return nil, eris.Wrap(err, "mockportal: scan declaration")
		}
		out = append(out, *decl)
	}
	return out, rows.Err()
}

// Sign marks a declaration as signed.
func (d *DB) Sign(ctx context.Context, id int64, method string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE declarations SET status = ?, sign_method = ? WHERE id = ?`,
		portal.StatusSigned, method, id,
	)
	if err != nil {
		return eris.Wrapf(err, "mockportal: sign declaration %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "mockportal: sign rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const declCols = `id, period, establishment_cnpj, cpf, dependents, plans, dependent_values, status, sign_method, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeclaration(s scanner) (*portal.Declaration, error) {
	var (
		decl                portal.Declaration
		deps, plans, values string
		createdAt           string
	)
	if err := s.Scan(&decl.ID, &decl.Period, &decl.EstablishmentCNPJ, &decl.BeneficiaryCPF,
		&deps, &plans, &values, &decl.Status, &decl.SignMethod, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deps), &decl.Dependents); err != nil {
		return nil, eris.Wrap(err, "mockportal: decode dependents")
	}
	if err := json.Unmarshal([]byte(plans), &decl.Plans); err != nil {
		return nil, eris.Wrap(err, "mockportal: decode plans")
	}
	if err := json.Unmarshal([]byte(values), &decl.DependentValues); err != nil {
		return nil, eris.Wrap(err, "mockportal: decode dependent values")
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "mockportal: malformed created_at %q", createdAt)
	}
	decl.CreatedAt = t
	return &decl, nil
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", eris.Wrap(err, "mockportal: encode list")
	}
	return string(b), nil
}
