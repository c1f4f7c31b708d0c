package draft

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splithappens/internal/core"
)

func receipt(id int64, names ...string) core.Receipt {
	r := core.Receipt{ID: id, Vendor: "Corner Shop", Currency: "EUR", Category: core.CategorySupermarket}
	for i, n := range names {
		r.Items = append(r.Items, core.LineItem{
			Name:       n,
			Quantity:   decimal.NewNullDecimal(decimal.NewFromInt(int64(i + 1))),
			TotalPrice: decimal.NewNullDecimal(decimal.NewFromFloat(1.5)),
		})
	}
	return r
}

func TestMutationsWithoutDraftAreNoOps(t *testing.T) {
	s := New()

	_, ok := s.SetItemAssignment(0, core.AssignMemberA)
	assert.False(t, ok)
	_, ok = s.SetCategory(core.CategoryBills)
	assert.False(t, ok)
	assert.False(t, s.CompleteSave(Ticket{}))
	assert.False(t, s.FailSave(Ticket{}))
	assert.False(t, s.Forget(1))
	s.Discard()

	_, err := s.BuildSaveRequest()
	assert.ErrorIs(t, err, ErrNoDraft)
	_, _, err = s.BeginSave()
	assert.ErrorIs(t, err, ErrNoDraft)
	assert.Equal(t, PhaseEmpty, s.Phase())
}

func TestSetItemAssignmentTouchesOnlyThatIndex(t *testing.T) {
	s := New()
	s.Load(receipt(1, "milk", "bread", "eggs"))
	before, _ := s.Current()

	after, ok := s.SetItemAssignment(1, core.AssignMemberB)
	require.True(t, ok)

	for i := range before.Items {
		if i == 1 {
			assert.Equal(t, core.AssignMemberB, after.Items[i].AssignedTo)
			continue
		}
		assert.Equal(t, before.Items[i], after.Items[i], "item %d changed", i)
	}
	assert.Equal(t, before.Items[1].Name, after.Items[1].Name)
	assert.Equal(t, before.Items[1].Quantity, after.Items[1].Quantity)
}

func TestSetItemAssignmentOutOfRange(t *testing.T) {
	s := New()
	s.Load(receipt(1, "milk"))

	for _, idx := range []int{-1, 1, 42} {
		_, ok := s.SetItemAssignment(idx, core.AssignMemberA)
		assert.False(t, ok, "index %d", idx)
	}
	cur, _ := s.Current()
	assert.Equal(t, core.Assignment(""), cur.Items[0].AssignedTo)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := New()
	src := receipt(1, "milk", "bread")
	snap, _ := s.Load(src)

	src.Items[0].Name = "changed by caller"
	snap.Items[1].AssignedTo = core.AssignMemberA

	cur, _ := s.Current()
	assert.Equal(t, "milk", cur.Items[0].Name)
	assert.Equal(t, core.Assignment(""), cur.Items[1].AssignedTo)

	edited, _ := s.SetItemAssignment(0, core.AssignMemberB)
	assert.Equal(t, core.Assignment(""), snap.Items[0].AssignedTo)
	assert.Equal(t, core.AssignMemberB, edited.Items[0].AssignedTo)
}

func TestSetCategoryLeavesItems(t *testing.T) {
	s := New()
	s.Load(receipt(1, "milk"))
	s.SetItemAssignment(0, core.AssignMemberA)

	got, ok := s.SetCategory(core.CategoryBills)
	require.True(t, ok)
	assert.Equal(t, core.CategoryBills, got.Category)
	assert.Equal(t, core.AssignMemberA, got.Items[0].AssignedTo)
}

func TestBuildSaveRequestDefaultsToShared(t *testing.T) {
	s := New()
	s.Load(receipt(4, "a", "b", "c"))
	s.SetItemAssignment(2, core.AssignMemberA)

	req, err := s.BuildSaveRequest()
	require.NoError(t, err)
	assert.Equal(t, int64(4), req.ReceiptID)
	assert.Equal(t, core.CategorySupermarket, req.Category)
	assert.Equal(t, []core.ItemAssignment{
		{Index: 0, AssignedTo: core.AssignShared},
		{Index: 1, AssignedTo: core.AssignShared},
		{Index: 2, AssignedTo: core.AssignMemberA},
	}, req.Assignments)
}

func TestBuildSaveRequestEmptyCategoryBecomesOther(t *testing.T) {
	s := New()
	r := receipt(2)
	r.Category = ""
	s.Load(r)

	req, err := s.BuildSaveRequest()
	require.NoError(t, err)
	assert.Equal(t, core.CategoryOther, req.Category)
	assert.Empty(t, req.Assignments)
}

func TestLoadDiscardsUnsavedEdits(t *testing.T) {
	s := New()
	s.Load(receipt(1, "milk", "bread"))
	s.SetItemAssignment(0, core.AssignMemberA)
	s.SetCategory(core.CategoryTaxes)

	_, replaced := s.Load(receipt(2, "soap", "tea"))
	assert.True(t, replaced)

	cur, _ := s.Current()
	assert.Equal(t, int64(2), cur.ID)
	assert.Equal(t, core.CategorySupermarket, cur.Category)
	for _, item := range cur.Items {
		assert.Equal(t, core.Assignment(""), item.AssignedTo)
	}
}

func TestSuccessfulSaveClearsDraft(t *testing.T) {
	s := New()
	s.Load(receipt(5, "a", "b", "c"))
	s.SetItemAssignment(2, core.AssignMemberA)

	ticket, req, err := s.BeginSave()
	require.NoError(t, err)
	assert.Equal(t, PhaseSaving, s.Phase())
	assert.Len(t, req.Assignments, 3)
	assert.Equal(t, core.AssignMemberA, req.Assignments[2].AssignedTo)

	assert.True(t, s.CompleteSave(ticket))
	assert.False(t, s.HasDraft())
	assert.Equal(t, PhaseEmpty, s.Phase())
}

func TestSecondSaveIsRejectedWhileSaving(t *testing.T) {
	s := New()
	s.Load(receipt(5, "a"))

	_, _, err := s.BeginSave()
	require.NoError(t, err)
	_, _, err = s.BeginSave()
	assert.ErrorIs(t, err, ErrSaveInFlight)

	_, ok := s.SetItemAssignment(0, core.AssignMemberB)
	assert.False(t, ok, "edits are frozen while saving")
}

func TestFailedSaveKeepsDraft(t *testing.T) {
	s := New()
	s.Load(receipt(5, "a", "b"))
	s.SetItemAssignment(1, core.AssignMemberB)
	before, _ := s.Current()

	ticket, _, err := s.BeginSave()
	require.NoError(t, err)
	assert.True(t, s.FailSave(ticket))

	after, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, PhaseEditing, s.Phase())

	_, _, err = s.BeginSave()
	assert.NoError(t, err, "retry must be possible")
}

func TestStaleSaveDoesNotTouchNewDraft(t *testing.T) {
	s := New()
	s.Load(receipt(5, "a"))
	stale, _, err := s.BeginSave()
	require.NoError(t, err)

	s.Load(receipt(9, "x", "y"))
	s.SetItemAssignment(0, core.AssignMemberA)

	assert.False(t, s.CompleteSave(stale))
	assert.False(t, s.FailSave(stale))

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, int64(9), cur.ID)
	assert.Equal(t, core.AssignMemberA, cur.Items[0].AssignedTo)
	assert.Equal(t, PhaseEditing, s.Phase())
}

func TestStaleSaveForReloadedSameReceipt(t *testing.T) {
	s := New()
	s.Load(receipt(5, "a"))
	stale, _, _ := s.BeginSave()

	s.Load(receipt(5, "a"))
	assert.False(t, s.CompleteSave(stale))
	assert.True(t, s.HasDraft())
}

func TestHoldsTracksReloads(t *testing.T) {
	s := New()
	assert.False(t, s.Holds(0, s.Generation()))

	s.Load(receipt(1, "Milk"))
	gen := s.Generation()
	assert.True(t, s.Holds(1, gen))
	assert.False(t, s.Holds(2, gen))

	s.SetItemAssignment(0, core.AssignMemberB)
	assert.True(t, s.Holds(1, gen), "edits keep the identity")

	s.Load(receipt(1, "Milk"))
	assert.False(t, s.Holds(1, gen), "reloading the same receipt is a new draft")
	assert.True(t, s.Holds(1, s.Generation()))

	s.Discard()
	assert.False(t, s.Holds(1, s.Generation()))
}

func TestForget(t *testing.T) {
	s := New()
	s.Load(receipt(3, "a"))
	assert.False(t, s.Forget(4))
	assert.True(t, s.HasDraft())
	assert.True(t, s.Forget(3))
	assert.False(t, s.HasDraft())
}

func TestConcurrentEdits(t *testing.T) {
	s := New()
	s.Load(receipt(1, "a", "b", "c", "d"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetItemAssignment(i, core.AssignMemberB)
				s.Current()
			}
		}(i)
	}
	wg.Wait()

	cur, _ := s.Current()
	for _, item := range cur.Items {
		assert.Equal(t, core.AssignMemberB, item.AssignedTo)
	}
}
