package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/efdreinf/reinf-cli/internal/model"
	"github.com/efdreinf/reinf-cli/internal/portal"
)

// fakeProcessor returns a fixed outcome per identity and records the order
// groups were seen in.
type fakeProcessor struct {
	outcomes map[string]model.GroupOutcome
	panics   map[string]bool
	errs     map[string]error
	hook     func(g model.TaxpayerGroup)
	seen     []string
}

func (f *fakeProcessor) Process(_ context.Context, g model.TaxpayerGroup) (model.GroupOutcome, error) {
	f.seen = append(f.seen, g.IdentityID())
	if f.hook != nil {
		f.hook(g)
	}
	if f.panics[g.IdentityID()] {
		panic("index out of range")
	}
	if err := f.errs[g.IdentityID()]; err != nil {
		return model.GroupFailed, err
	}
	if o, ok := f.outcomes[g.IdentityID()]; ok {
		return o, nil
	}
	return model.GroupSuccess, nil
}

func makeGroups(n int) []model.TaxpayerGroup {
	out := make([]model.TaxpayerGroup, n)
	for i := range out {
		out[i] = model.TaxpayerGroup{
			Ordinal: i,
			Head:    model.Head{IdentityID: fmt.Sprintf("%011d", i+1), DisplayName: fmt.Sprintf("TITULAR %d", i)},
		}
	}
	return out
}

func ordinal(t *testing.T, d *Driver) (int, bool) {
	t.Helper()
	n, ok, err := d.store.GetCheckpointOrdinal(context.Background())
	require.NoError(t, err)
	return n, ok
}

func intPtr(n int) *int { return &n }

func TestDriver_CheckpointMonotonicity(t *testing.T) {
	st := newTestStore(t)
	groups := makeGroups(4)
	proc := &fakeProcessor{outcomes: map[string]model.GroupOutcome{
		groups[1].IdentityID(): model.GroupFailed,
		groups[2].IdentityID(): model.GroupSkipped,
	}}
	var ordinals []int
	proc.hook = func(g model.TaxpayerGroup) {
		if n, ok, _ := st.GetCheckpointOrdinal(context.Background()); ok {
			ordinals = append(ordinals, n)
		}
	}
	d := NewDriver(st, proc, DriverOptions{})

	summary, err := d.Run(context.Background(), groups)
	require.NoError(t, err)

	n, ok := ordinal(t, d)
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{0, 1, 2}, ordinals)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
}

func TestDriver_ResumesAfterPointer(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetCheckpointOrdinal(context.Background(), 1))
	groups := makeGroups(4)
	proc := &fakeProcessor{}

	summary, err := NewDriver(st, proc, DriverOptions{}).Run(context.Background(), groups)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.StartOrdinal)
	assert.Equal(t, []string{groups[2].IdentityID(), groups[3].IdentityID()}, proc.seen)
}

func TestDriver_NothingToDo(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetCheckpointOrdinal(context.Background(), 2))
	proc := &fakeProcessor{}

	summary, err := NewDriver(st, proc, DriverOptions{}).Run(context.Background(), makeGroups(3))
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, proc.seen)
}

func TestDriver_FromAndLimit(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SetCheckpointOrdinal(context.Background(), 3))
	groups := makeGroups(5)
	proc := &fakeProcessor{}

	summary, err := NewDriver(st, proc, DriverOptions{From: intPtr(1), Limit: 2}).Run(context.Background(), groups)
	require.NoError(t, err)
	assert.Equal(t, []string{groups[1].IdentityID(), groups[2].IdentityID()}, proc.seen)
	assert.Equal(t, 2, summary.Processed)

	n, ok, err := st.GetCheckpointOrdinal(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestDriver_NegativeFromIsRejected(t *testing.T) {
	st := newTestStore(t)
	proc := &fakeProcessor{}

	summary, err := NewDriver(st, proc, DriverOptions{From: intPtr(-1)}).Run(context.Background(), makeGroups(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start ordinal")
	assert.False(t, IsStorageError(err))
	assert.Empty(t, proc.seen)
	assert.Zero(t, summary.Processed)

	_, ok, err := st.GetCheckpointOrdinal(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriver_RecoversPanics(t *testing.T) {
	st := newTestStore(t)
	groups := makeGroups(3)
	proc := &fakeProcessor{panics: map[string]bool{groups[1].IdentityID(): true}}

	summary, err := NewDriver(st, proc, DriverOptions{}).Run(context.Background(), groups)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, proc.seen, 3)

	latest, err := st.LatestEvent(context.Background(), groups[1].IdentityID())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestDriver_StorageErrorAborts(t *testing.T) {
	st := newTestStore(t)
	groups := makeGroups(3)
	proc := &fakeProcessor{errs: map[string]error{
		groups[1].IdentityID(): &StorageError{Op: "record event", Err: errDiskFull},
	}}

	summary, err := NewDriver(st, proc, DriverOptions{}).Run(context.Background(), groups)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.Equal(t, 1, summary.Processed)
	assert.Len(t, proc.seen, 2)

	n, ok, err := st.GetCheckpointOrdinal(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestDriver_InterruptLeavesGroupForNextRun(t *testing.T) {
	st := newTestStore(t)
	groups := makeGroups(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &fakeProcessor{outcomes: map[string]model.GroupOutcome{groups[1].IdentityID(): model.GroupFailed}}
	proc.hook = func(g model.TaxpayerGroup) {
		if g.Ordinal == 1 {
			cancel()
		}
	}

	summary, err := NewDriver(st, proc, DriverOptions{}).Run(ctx, groups)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Processed)

	n, ok, err := st.GetCheckpointOrdinal(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestDriver_ManualReviewAndNavigationLists(t *testing.T) {
	st := newTestStore(t)
	groups := makeGroups(3)
	proc := &fakeProcessor{outcomes: map[string]model.GroupOutcome{
		groups[0].IdentityID(): model.GroupFailedNoRetry,
		groups[2].IdentityID(): model.GroupSuccessNavFailed,
	}}

	summary, err := NewDriver(st, proc, DriverOptions{}).Run(context.Background(), groups)
	require.NoError(t, err)
	assert.Equal(t, []string{groups[0].IdentityID()}, summary.ManualReview)
	assert.Equal(t, []string{groups[2].IdentityID()}, summary.NavigationFix)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}

func TestDriver_SubmitFailureStillAdvancesCheckpoint(t *testing.T) {
	st := newTestStore(t)
	page := &mockPage{}
	expectUntilDetail(page)
	expectEntries(page)
	page.On("Submit", mock.Anything).Return(portal.Result{OK: false}, nil).Once()

	planner := NewPlanner(st, page, nil, testOptions())
	summary, err := NewDriver(st, planner, DriverOptions{}).Run(context.Background(), []model.TaxpayerGroup{scenarioGroup()})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	n, ok, err := st.GetCheckpointOrdinal(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, n)
	assertPurged(t, st, headA)
}
