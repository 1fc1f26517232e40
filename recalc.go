package gridcalc

import (
	"context"
	"sort"

	"go.alis.build/alog"
)

// RecalcMode selects the recalculation strategy a workbook was built with
type RecalcMode uint8

const (
	// RecalcFull re-evaluates every formula cell on each recalculation
	RecalcFull RecalcMode = iota
	// RecalcIncremental re-evaluates only cells marked dirty since the
	// last recalculation
	RecalcIncremental
)

func (m RecalcMode) String() string {
	if m == RecalcIncremental {
		return "incremental"
	}
	return "full"
}

// Recalculate brings every stale cell up to date. in full mode all
// formula cells are in scope; in incremental mode only the dirty set is.
// cells evaluate in topological order over the dependency subgraph, with
// ties broken by sorted id so the order is deterministic. cells left over
// after the topological pass sit on a cycle; they are evaluated anyway
// and settle on the circular-reference sentinel.
func (w *Workbook) Recalculate(ctx context.Context) {
	if w.mode == RecalcFull {
		w.markAllFormulasDirty()
	}
	if len(w.dirty) == 0 {
		return
	}

	scope := make(map[string]struct{}, len(w.dirty))
	for id := range w.dirty {
		scope[id] = struct{}{}
	}

	// edges are probed pairwise over the scope so span-registered ranges
	// count the same as direct precedents
	indegree := make(map[string]int, len(scope))
	for id := range scope {
		indegree[id] = 0
		for p := range scope {
			if w.graph.HasPrecedent(id, p) {
				indegree[id]++
			}
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		w.evalDirtyCell(id)

		var released []string
		for dep := range scope {
			if dep == id || indegree[dep] <= 0 {
				continue
			}
			if !w.graph.HasPrecedent(dep, id) {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		if len(released) > 0 {
			queue = append(queue, released...)
			sort.Strings(queue)
		}
	}

	if processed < len(scope) {
		var leftovers []string
		for id := range scope {
			if indegree[id] > 0 {
				leftovers = append(leftovers, id)
			}
		}
		sort.Strings(leftovers)
		alog.Warnf(ctx, "recalculation found %d cell(s) on a reference cycle: %v", len(leftovers), leftovers)
		for _, id := range leftovers {
			w.evalDirtyCell(id)
		}
	}

	w.dirty = make(map[string]struct{})
}

// markAllFormulasDirty flags every formula cell in every sheet
func (w *Workbook) markAllFormulasDirty() {
	for _, sheet := range w.sheets {
		for row := uint32(0); row < sheet.Rows(); row++ {
			for col := uint32(0); col < sheet.Cols(); col++ {
				slot := sheet.slot(col, row)
				if slot != nil && slot.Kind == SlotFormula {
					slot.Dirty = true
					w.dirty[QualifiedID(sheet.name, col, row)] = struct{}{}
				}
			}
		}
	}
}

// evalDirtyCell evaluates one cell by qualified id if it still exists and
// still holds a dirty formula. ids pointing at removed sheets or
// overwritten slots are skipped.
func (w *Workbook) evalDirtyCell(id string) {
	sheetName, col, row, err := SplitQualifiedID(id)
	if err != nil {
		delete(w.dirty, id)
		return
	}
	sheet, ok := w.SheetByName(sheetName)
	if !ok {
		delete(w.dirty, id)
		return
	}
	slot := sheet.slot(col, row)
	if slot == nil || slot.Kind != SlotFormula || !slot.Dirty {
		delete(w.dirty, id)
		return
	}
	w.resolveCellValue(sheet, col, row, make(map[string]struct{}))
}
