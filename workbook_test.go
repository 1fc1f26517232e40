package gridcalc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicDependencyChain(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 5))
	require.NoError(t, wb.SetCell("A2", 10))
	require.NoError(t, wb.SetCell("A3", "=A1+A2"))
	wb.Recalculate(context.Background())

	got, err := wb.GetCell("A3")
	require.NoError(t, err)
	assert.Equal(t, 15.0, got)

	// updating a precedent dirties the dependent; recalculation refreshes it
	require.NoError(t, wb.SetCell("A1", 7))
	slot, err := wb.GetCellSlot("A3")
	require.NoError(t, err)
	assert.True(t, slot.Dirty)

	wb.Recalculate(context.Background())
	got, err = wb.GetCell("A3")
	require.NoError(t, err)
	assert.Equal(t, 17.0, got)
}

func TestLazyEvaluationWithoutRecalculate(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 2))
	require.NoError(t, wb.SetCell("B1", "=A1*3"))

	got, err := wb.GetCell("B1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)

	slot, err := wb.GetCellSlot("B1")
	require.NoError(t, err)
	assert.False(t, slot.Dirty)
	assert.Equal(t, 6.0, slot.Cached)
}

func TestTransitiveDirtyPropagation(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 1))
	require.NoError(t, wb.SetCell("B1", "=A1+1"))
	require.NoError(t, wb.SetCell("C1", "=B1+1"))
	require.NoError(t, wb.SetCell("D1", "=C1+1"))
	wb.Recalculate(context.Background())

	require.NoError(t, wb.SetCell("A1", 10))
	wb.Recalculate(context.Background())

	got, err := wb.GetCell("D1")
	require.NoError(t, err)
	assert.Equal(t, 13.0, got)
}

func TestCircularReferenceSettles(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", "=B1"))
	require.NoError(t, wb.SetCell("B1", "=A1"))
	wb.Recalculate(context.Background())

	for _, ref := range []string{"A1", "B1"} {
		got, err := wb.GetCell(ref)
		require.NoError(t, err)
		assertCellError(t, got, ErrorCodeCirc)
	}
}

func TestSelfReference(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", "=A1+1"))
	got, err := wb.GetCell("A1")
	require.NoError(t, err)
	assertCellError(t, got, ErrorCodeCirc)
}

func TestBreakingACycleRecovers(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", "=B1"))
	require.NoError(t, wb.SetCell("B1", "=A1"))
	wb.Recalculate(context.Background())

	require.NoError(t, wb.SetCell("B1", 4))
	wb.Recalculate(context.Background())

	got, err := wb.GetCell("A1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)
}

func TestSumOverMixedRange(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 1))
	require.NoError(t, wb.SetCell("A2", "x"))
	require.NoError(t, wb.SetCell("A3", 3))
	require.NoError(t, wb.SetCell("B1", "=SUM(A1:A3)"))

	got, err := wb.GetCell("B1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)
}

func TestRangeOverFormulaCells(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 2))
	require.NoError(t, wb.SetCell("A2", "=A1*2"))
	require.NoError(t, wb.SetCell("A3", "=A2*2"))
	require.NoError(t, wb.SetCell("B1", "=SUM(A1:A3)"))

	got, err := wb.GetCell("B1")
	require.NoError(t, err)
	assert.Equal(t, 14.0, got)
}

func TestOutOfBoundsReference(t *testing.T) {
	wb := NewWorkbook(RecalcIncremental)
	_, err := wb.AddSheet("Main", 2, 2)
	require.NoError(t, err)
	require.NoError(t, wb.SetCell("A1", "=Z99*2"))

	got, err := wb.GetCell("A1")
	require.NoError(t, err)
	assertCellError(t, got, ErrorCodeRef)
}

func TestCrossSheetDependency(t *testing.T) {
	wb := NewWorkbook(RecalcIncremental)
	_, err := wb.AddSheet("Data", 5, 5)
	require.NoError(t, err)
	_, err = wb.AddSheet("Summary", 5, 5)
	require.NoError(t, err)

	require.NoError(t, wb.SetCell("Data!A1", 5))
	require.NoError(t, wb.SetCell("Summary!A1", "=Data!A1*2"))
	wb.Recalculate(context.Background())

	got, err := wb.GetCell("Summary!A1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)

	// an edit on one sheet dirties its dependents on the other
	require.NoError(t, wb.SetCell("Data!A1", 7))
	slot, err := wb.GetCellSlot("Summary!A1")
	require.NoError(t, err)
	assert.True(t, slot.Dirty)

	wb.Recalculate(context.Background())
	got, err = wb.GetCell("Summary!A1")
	require.NoError(t, err)
	assert.Equal(t, 14.0, got)
}

func TestRemoveSheetLeavesRefErrors(t *testing.T) {
	wb := NewWorkbook(RecalcIncremental)
	_, err := wb.AddSheet("Data", 5, 5)
	require.NoError(t, err)
	_, err = wb.AddSheet("Summary", 5, 5)
	require.NoError(t, err)
	require.NoError(t, wb.SetCell("Data!A1", 5))
	require.NoError(t, wb.SetCell("Summary!A1", "=Data!A1+1"))
	wb.Recalculate(context.Background())

	require.NoError(t, wb.RemoveSheet("Data"))
	wb.Recalculate(context.Background())

	got, err := wb.GetCell("Summary!A1")
	require.NoError(t, err)
	assertCellError(t, got, ErrorCodeRef)
}

func TestAddingSheetResolvesDanglingReferences(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", "=Data!A1+1"))
	got, err := wb.GetCell("A1")
	require.NoError(t, err)
	assertCellError(t, got, ErrorCodeRef)

	_, err = wb.AddSheet("Data", 5, 5)
	require.NoError(t, err)
	require.NoError(t, wb.SetCell("Data!A1", 4))
	wb.Recalculate(context.Background())

	got, err = wb.GetCell("A1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)
}

func TestRenameSheet(t *testing.T) {
	wb := NewWorkbook(RecalcIncremental)
	_, err := wb.AddSheet("Data", 5, 5)
	require.NoError(t, err)
	require.NoError(t, wb.SetCell("Data!A1", 1))

	require.NoError(t, wb.RenameSheet("Data", "Facts"))
	assert.Equal(t, []string{"Facts"}, wb.SheetNames())

	got, err := wb.GetCell("Facts!A1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	err = wb.RenameSheet("Nope", "X")
	require.Error(t, err)
	appErr, ok := err.(*AppError)
	require.True(t, ok)
	assert.Equal(t, NotFound, appErr.Code)
}

func TestDuplicateSheetRejected(t *testing.T) {
	wb := newTestWorkbook(t)
	_, err := wb.AddSheet("MAIN", 2, 2)
	require.Error(t, err)
	appErr, ok := err.(*AppError)
	require.True(t, ok)
	assert.Equal(t, AlreadyExists, appErr.Code)
}

func TestGridGrowsOnWrite(t *testing.T) {
	wb := NewWorkbook(RecalcIncremental)
	_, err := wb.AddSheet("Main", 1, 1)
	require.NoError(t, err)
	require.NoError(t, wb.SetCell("C5", 9))

	sheet := wb.ActiveSheet()
	assert.Equal(t, uint32(5), sheet.Rows())
	assert.Equal(t, uint32(3), sheet.Cols())
}

func TestRowDeleteShiftsWithoutRewritingFormulas(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("C5", 10))
	require.NoError(t, wb.SetCell("A1", "=C5*2"))
	wb.Recalculate(context.Background())
	got, err := wb.GetCell("A1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)

	// formula text keeps naming C5 after the shift; the value now lives
	// at C4, so the old reference resolves to an empty cell
	sheet := wb.ActiveSheet()
	require.NoError(t, sheet.DeleteRow(2))
	wb.Recalculate(context.Background())

	got, err = wb.GetCell("C4")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
	got, err = wb.GetCell("A1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestColumnDeleteLeavesRefError(t *testing.T) {
	wb := NewWorkbook(RecalcIncremental)
	_, err := wb.AddSheet("Main", 2, 3)
	require.NoError(t, err)
	require.NoError(t, wb.SetCell("C1", 10))
	require.NoError(t, wb.SetCell("A1", "=C1*2"))
	wb.Recalculate(context.Background())

	sheet := wb.ActiveSheet()
	require.NoError(t, sheet.DeleteColumn(1))
	wb.Recalculate(context.Background())

	// C1 is now beyond the grid
	got, err := wb.GetCell("A1")
	require.NoError(t, err)
	assertCellError(t, got, ErrorCodeRef)
}

func TestApplyUpdatesIndependentRecords(t *testing.T) {
	wb := newTestWorkbook(t)
	errs := wb.ApplyUpdates([]CellUpdate{
		{Cell: "A1", Value: 1},
		{Cell: "not a ref", Value: 2},
		{Cell: "A2", Value: "=A1+1"},
	})
	require.Len(t, errs, 1)

	got, err := wb.GetCell("A2")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestFullAndIncrementalModesAgree(t *testing.T) {
	type step struct {
		cell  string
		value Value
	}
	script := []step{
		{"A1", 1}, {"A2", 2}, {"A3", "=A1+A2"},
		{"B1", "=A3*2"}, {"A1", 10},
		{"B2", "=SUM(A1:A3)"}, {"A2", 5},
	}
	probes := []string{"A1", "A2", "A3", "B1", "B2"}

	full := NewWorkbook(RecalcFull)
	incr := NewWorkbook(RecalcIncremental)
	for _, wb := range []*Workbook{full, incr} {
		_, err := wb.AddSheet("Main", 10, 10)
		require.NoError(t, err)
	}

	for _, s := range script {
		require.NoError(t, full.SetCell(s.cell, s.value))
		require.NoError(t, incr.SetCell(s.cell, s.value))
		full.Recalculate(context.Background())
		incr.Recalculate(context.Background())

		for _, ref := range probes {
			wantVal, err := full.GetCell(ref)
			require.NoError(t, err)
			gotVal, err := incr.GetCell(ref)
			require.NoError(t, err)
			assert.Equal(t, wantVal, gotVal, "cell %s after writing %s", ref, s.cell)
		}
	}
}

func TestOverwritingFormulaWithLiteralDropsRegistration(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 1))
	require.NoError(t, wb.SetCell("B1", "=A1+1"))
	wb.Recalculate(context.Background())

	require.NoError(t, wb.SetCell("B1", 99))
	require.NoError(t, wb.SetCell("A1", 50))
	wb.Recalculate(context.Background())

	got, err := wb.GetCell("B1")
	require.NoError(t, err)
	assert.Equal(t, 99.0, got)
}

func TestIntegerLiteralsReadBackAsFloat64(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 7))
	require.NoError(t, wb.SetCell("A2", int64(8)))
	require.NoError(t, wb.SetCell("A3", float32(2.5)))

	got, err := wb.GetCell("A1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)
	got, err = wb.GetCell("A2")
	require.NoError(t, err)
	assert.Equal(t, 8.0, got)
	got, err = wb.GetCell("A3")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	// strings and booleans pass through untouched
	require.NoError(t, wb.SetCell("B1", "plain"))
	require.NoError(t, wb.SetCell("B2", true))
	got, err = wb.GetCell("B1")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
	got, err = wb.GetCell("B2")
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestLargeRangeFormulaTracksEdits(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 3))
	require.NoError(t, wb.SetCell("B2", 4))
	require.NoError(t, wb.SetCell("J1", "=SUM(A1:H5000)"))
	wb.Recalculate(context.Background())

	got, err := wb.GetCell("J1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)

	// registration stays interval-backed: no per-cell edge blowup
	assert.Empty(t, wb.graph.Precedents("MAIN!J1"))
	require.Len(t, wb.graph.Spans("MAIN!J1"), 1)

	// an edit inside the range still dirties and refreshes the formula
	require.NoError(t, wb.SetCell("C3", 10))
	slot, err := wb.GetCellSlot("J1")
	require.NoError(t, err)
	assert.True(t, slot.Dirty)
	wb.Recalculate(context.Background())
	got, err = wb.GetCell("J1")
	require.NoError(t, err)
	assert.Equal(t, 17.0, got)
}

func TestClearCell(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 3))
	require.NoError(t, wb.SetCell("B1", "=A1+1"))
	wb.Recalculate(context.Background())

	require.NoError(t, wb.ClearCell("A1"))
	wb.Recalculate(context.Background())

	got, err := wb.GetCell("B1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestSheetRecordRoundTrip(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", 5))
	require.NoError(t, wb.SetCell("A2", "hello"))
	require.NoError(t, wb.SetCell("A3", "=A1*2"))
	wb.Recalculate(context.Background())

	rec := wb.ActiveSheet().ToRecord()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded SheetRecord
	require.NoError(t, json.Unmarshal(raw, &decoded))

	other := NewWorkbook(RecalcIncremental)
	_, err = other.AddSheetFromRecord(decoded)
	require.NoError(t, err)
	other.Recalculate(context.Background())

	got, err := other.GetCell("Main!A3")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)
	got, err = other.GetCell("Main!A2")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestFormulaDisplayOfErrors(t *testing.T) {
	wb := newTestWorkbook(t)
	require.NoError(t, wb.SetCell("A1", "=1/0"))
	wb.Recalculate(context.Background())

	slot, err := wb.GetCellSlot("A1")
	require.NoError(t, err)
	assertCellError(t, slot.Display(), ErrorCodeDiv0)
	assert.Equal(t, "#DIV/0!", toText(slot.Display()))
}

func TestActiveSheetManagement(t *testing.T) {
	wb := NewWorkbook(RecalcIncremental)
	assert.Nil(t, wb.ActiveSheet())

	_, err := wb.AddSheet("First", 2, 2)
	require.NoError(t, err)
	_, err = wb.AddSheet("Second", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "First", wb.ActiveSheet().Name())

	require.NoError(t, wb.SetActiveSheet("second"))
	assert.Equal(t, "Second", wb.ActiveSheet().Name())

	require.NoError(t, wb.RemoveSheet("Second"))
	assert.Equal(t, "First", wb.ActiveSheet().Name())
}
