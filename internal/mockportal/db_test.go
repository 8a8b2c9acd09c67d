package mockportal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efdreinf/reinf-cli/internal/portal"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	return db
}

func sampleDeclaration(cpf string) portal.Declaration {
	return portal.Declaration{
		Period:            "03/2025",
		EstablishmentCNPJ: "19310796000107",
		BeneficiaryCPF:    cpf,
		Dependents:        []portal.DeclaredDependent{{CPF: "22222222222", Relation: "3"}},
		Plans:             []portal.DeclaredPlan{{OperatorCNPJ: "44649812000138", Amount: "150,00"}},
		DependentValues:   []portal.DeclaredDependentValue{{CPF: "22222222222", Amount: "50,00"}},
	}
}

func TestDB_InsertGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.Insert(ctx, sampleDeclaration("11111111111"))
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "11111111111", got.BeneficiaryCPF)
	assert.Equal(t, portal.StatusPending, got.Status)
	assert.Len(t, got.Dependents, 1)
	assert.Equal(t, "3", got.Dependents[0].Relation)
	assert.Equal(t, "150,00", got.Plans[0].Amount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestDB_GetNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDB_Exists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Insert(ctx, sampleDeclaration("11111111111"))
	require.NoError(t, err)

	ok, err := db.Exists(ctx, "03/2025", "11111111111")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.Exists(ctx, "04/2025", "11111111111")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDB_EmptyListsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.Insert(ctx, portal.Declaration{Period: "03/2025", EstablishmentCNPJ: "19310796000107", BeneficiaryCPF: "11111111111"})
	require.NoError(t, err)

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Dependents)
	assert.Empty(t, got.Plans)
	assert.Empty(t, got.DependentValues)
}

func TestDB_ListNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.Insert(ctx, sampleDeclaration("11111111111"))
	require.NoError(t, err)
	second, err := db.Insert(ctx, sampleDeclaration("33333333333"))
	require.NoError(t, err)

	list, err := db.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestDB_Sign(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.Insert(ctx, sampleDeclaration("11111111111"))
	require.NoError(t, err)
	require.NoError(t, db.Sign(ctx, id, "keyboard"))

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, portal.StatusSigned, got.Status)
	assert.Equal(t, "keyboard", got.SignMethod)

	assert.ErrorIs(t, db.Sign(ctx, id+100, "click"), ErrNotFound)
}

func TestDB_MalformedCreatedAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.Insert(ctx, sampleDeclaration("11111111111"))
	require.NoError(t, err)
	_, err = db.db.ExecContext(ctx, `UPDATE declarations SET created_at = 'ontem' WHERE id = ?`, id)
	require.NoError(t, err)

	_, err = db.Get(ctx, id)
	assert.ErrorContains(t, err, "malformed created_at")
}
