package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/efdreinf/reinf-cli/internal/config"
	"github.com/efdreinf/reinf-cli/internal/model"
	"github.com/efdreinf/reinf-cli/internal/portal"
	"github.com/efdreinf/reinf-cli/internal/store"
)

// --- Page Automation Mock ---

type mockPage struct {
	mock.Mock
}

func (m *mockPage) FillInitialFields(ctx context.Context, f portal.InitialFields) (portal.Result, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) AdvanceToDetail(ctx context.Context) (portal.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) AddDependent(ctx context.Context, d portal.DependentEntry) (portal.Result, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) AddPlan(ctx context.Context, p portal.PlanEntry) (portal.Result, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) AddDependentValue(ctx context.Context, v portal.DependentValueEntry) (portal.Result, error) {
	args := m.Called(ctx, v)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) Submit(ctx context.Context) (portal.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) Sign(ctx context.Context, method portal.SignMethod) (portal.Result, error) {
	args := m.Called(ctx, method)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) AwaitConfirmation(ctx context.Context, timeout time.Duration) (portal.Result, error) {
	args := m.Called(ctx, timeout)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) AdvanceToNext(ctx context.Context) (portal.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(portal.Result), args.Error(1)
}

func (m *mockPage) Close() error {
	return m.Called().Error(0)
}

// --- Failing Store ---

// failingStore fails RecordEvent once it has been called failAfter times.
type failingStore struct {
	store.Store
	calls     int
	failAfter int
}

func (f *failingStore) RecordEvent(ctx context.Context, ev model.ProgressEvent) error {
	f.calls++
	if f.calls > f.failAfter {
		return errDiskFull
	}
	return f.Store.RecordEvent(ctx, ev)
}

// --- Helpers ---

func stepClock() store.Clock {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st.WithClock(stepClock())
}

func testOptions() PlannerOptions {
	return PlannerOptions{
		Period:              "03/2025",
		EstablishmentID:     "19.310.796/0001-07",
		SignMethod:          portal.SignKeyboard,
		ConfirmationTimeout: time.Second,
		ConfirmationPolicy:  "lenient",
	}
}

const (
	headA = "111.111.111-11"
	depB  = "222.222.222-22"
	depC  = "333.333.333-33"
	opA   = "44.649.812/0001-38"
)

// scenarioGroup is head A with dependents B (50,00) and C (zero).
func scenarioGroup() model.TaxpayerGroup {
	return model.TaxpayerGroup{
		GroupID: "g-0",
		Ordinal: 0,
		Head: model.Head{
			IdentityID:  headA,
			DisplayName: "ANA SOUZA",
			Amount:      15000,
			OperatorID:  opA,
		},
		Dependents: []model.Dependent{
			{IdentityID: depB, DisplayName: "BRUNO SOUZA", RelationshipLabel: "FILHO", Amount: 5000},
			{IdentityID: depC, DisplayName: "CARLA SOUZA", RelationshipLabel: "ESPOSA", Amount: 0},
		},
	}
}

func entryB() portal.DependentEntry {
	return portal.DependentEntry{IdentityID: depB, DisplayName: "BRUNO SOUZA", Code: "3"}
}

func valueB() portal.DependentValueEntry {
	return portal.DependentValueEntry{DependentIdentityID: depB, Amount: "50,00"}
}

func planA() portal.PlanEntry {
	return portal.PlanEntry{OperatorID: opA, HeadAmount: "150,00"}
}

// expectUntilDetail sets up the initial fields and the detail step.
func expectUntilDetail(m *mockPage) {
	m.On("FillInitialFields", mock.Anything, portal.InitialFields{
		Period:          "03/2025",
		EstablishmentID: "19.310.796/0001-07",
		HeadIdentityID:  headA,
	}).Return(portal.Done(), nil).Once()
	m.On("AdvanceToDetail", mock.Anything).Return(portal.Done(), nil).Once()
}

// expectEntries sets up the dependent, plan and value steps for scenarioGroup.
func expectEntries(m *mockPage) {
	m.On("AddDependent", mock.Anything, entryB()).Return(portal.Done(), nil).Once()
	m.On("AddPlan", mock.Anything, planA()).Return(portal.Done(), nil).Once()
	m.On("AddDependentValue", mock.Anything, valueB()).Return(portal.Done(), nil).Once()
}

// expectHappyPath sets up every step of scenarioGroup to succeed.
func expectHappyPath(m *mockPage) {
	expectUntilDetail(m)
	expectEntries(m)
	m.On("Submit", mock.Anything).Return(portal.Done(), nil).Once()
	m.On("Sign", mock.Anything, portal.SignKeyboard).Return(portal.Done(), nil).Once()
	m.On("AwaitConfirmation", mock.Anything, time.Second).Return(portal.Done(), nil).Once()
	m.On("AdvanceToNext", mock.Anything).Return(portal.Done(), nil).Once()
}

func duplicateResult() portal.Result {
	return portal.Result{OK: true, ScrapedErrors: []string{
		"Inclusão não permitida. Existe um evento ativo para o CPF do beneficiário no mesmo período de apuração.",
	}}
}

func validConfig() *config.Config {
	return &config.Config{
		Filing: config.FilingConfig{Period: "03/2025", EstablishmentCNPJ: "19.310.796/0001-07"},
		Portal: config.PortalConfig{SignMethod: "click", ConfirmationTimeout: time.Second},
		Batch:  config.BatchConfig{ConfirmationPolicy: config.ConfirmationStrict},
	}
}
