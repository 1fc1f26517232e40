package gridcalc

import (
	"strings"
)

// Workbook owns a set of named sheets, the dependency graph spanning
// them, and the function table formulas evaluate against. sheet lookup
// is case-insensitive; sheetOrder preserves insertion order under the
// original casing.
type Workbook struct {
	sheetOrder []string
	sheets     map[string]*Sheet
	active     string
	graph      *DepGraph
	funcs      *FuncTable
	mode       RecalcMode
	dirty      map[string]struct{}
}

// NewWorkbook builds an empty workbook with the given recalculation mode
func NewWorkbook(mode RecalcMode) *Workbook {
	return &Workbook{
		sheets: make(map[string]*Sheet),
		graph:  NewDepGraph(),
		funcs:  NewFuncTable(),
		mode:   mode,
		dirty:  make(map[string]struct{}),
	}
}

// Mode returns the recalculation mode the workbook was built with
func (w *Workbook) Mode() RecalcMode {
	return w.mode
}

// Funcs exposes the function table for registering custom functions
func (w *Workbook) Funcs() *FuncTable {
	return w.funcs
}

// AddSheet creates and attaches a sheet. the first sheet added becomes
// active. formulas elsewhere that already reference the new name by text
// go dirty, since their references now resolve.
func (w *Workbook) AddSheet(name string, rows, cols uint32) (*Sheet, error) {
	if strings.TrimSpace(name) == "" {
		return nil, NewAppError(InvalidArgument, "sheet name must not be empty")
	}
	key := strings.ToUpper(name)
	if _, exists := w.sheets[key]; exists {
		return nil, NewAppError(AlreadyExists, "sheet already exists: "+name)
	}
	sheet := NewSheet(name, rows, cols)
	sheet.workbook = w
	w.sheets[key] = sheet
	w.sheetOrder = append(w.sheetOrder, name)
	if w.active == "" {
		w.active = key
	}
	w.markDirtySet(w.graph.DependentsOfSheet(name))
	return sheet, nil
}

// AddSheetFromRecord attaches a sheet rebuilt from its serialized form
// and registers its formulas
func (w *Workbook) AddSheetFromRecord(rec SheetRecord) (*Sheet, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return nil, NewAppError(InvalidArgument, "sheet name must not be empty")
	}
	key := strings.ToUpper(rec.Name)
	if _, exists := w.sheets[key]; exists {
		return nil, NewAppError(AlreadyExists, "sheet already exists: "+rec.Name)
	}
	sheet := SheetFromRecord(rec)
	sheet.workbook = w
	w.sheets[key] = sheet
	w.sheetOrder = append(w.sheetOrder, rec.Name)
	if w.active == "" {
		w.active = key
	}
	w.reregisterSheet(sheet)
	w.markDirtySet(w.graph.DependentsOfSheet(rec.Name))
	return sheet, nil
}

// RemoveSheet detaches a sheet. formulas on other sheets that referenced
// it stay registered and go dirty; they settle on reference errors at the
// next recalculation.
func (w *Workbook) RemoveSheet(name string) error {
	key := strings.ToUpper(name)
	sheet, ok := w.sheets[key]
	if !ok {
		return NewAppError(NotFound, "no such sheet: "+name)
	}
	dependents := w.graph.DependentsOfSheet(name)
	w.graph.PurgeSheet(name)
	sheet.workbook = nil
	delete(w.sheets, key)
	for i, n := range w.sheetOrder {
		if strings.EqualFold(n, name) {
			w.sheetOrder = append(w.sheetOrder[:i], w.sheetOrder[i+1:]...)
			break
		}
	}
	for id := range w.dirty {
		if sheetOfID(id) == key {
			delete(w.dirty, id)
		}
	}
	if w.active == key {
		w.active = ""
		if len(w.sheetOrder) > 0 {
			w.active = strings.ToUpper(w.sheetOrder[0])
		}
	}
	w.markDirtySet(dependents)
	return nil
}

// RenameSheet changes a sheet's name. formula text is not rewritten, so
// formulas referencing the old name by text resolve to reference errors
// afterwards, exactly as if the old sheet had been removed.
func (w *Workbook) RenameSheet(oldName, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return NewAppError(InvalidArgument, "sheet name must not be empty")
	}
	oldKey := strings.ToUpper(oldName)
	newKey := strings.ToUpper(newName)
	sheet, ok := w.sheets[oldKey]
	if !ok {
		return NewAppError(NotFound, "no such sheet: "+oldName)
	}
	if _, exists := w.sheets[newKey]; exists && newKey != oldKey {
		return NewAppError(AlreadyExists, "sheet already exists: "+newName)
	}
	dependents := w.graph.DependentsOfSheet(oldName)
	w.graph.PurgeSheet(oldName)
	delete(w.sheets, oldKey)
	sheet.name = newName
	w.sheets[newKey] = sheet
	for i, n := range w.sheetOrder {
		if strings.EqualFold(n, oldName) {
			w.sheetOrder[i] = newName
			break
		}
	}
	if w.active == oldKey {
		w.active = newKey
	}
	w.reregisterSheet(sheet)
	w.markDirtySet(dependents)
	w.markDirtySet(w.graph.DependentsOfSheet(newName))
	return nil
}

// SheetByName looks a sheet up case-insensitively
func (w *Workbook) SheetByName(name string) (*Sheet, bool) {
	sheet, ok := w.sheets[strings.ToUpper(name)]
	return sheet, ok
}

// SheetNames returns sheet names in insertion order
func (w *Workbook) SheetNames() []string {
	out := make([]string, len(w.sheetOrder))
	copy(out, w.sheetOrder)
	return out
}

// ActiveSheet returns the active sheet, or nil if the workbook is empty
func (w *Workbook) ActiveSheet() *Sheet {
	if w.active == "" {
		return nil
	}
	return w.sheets[w.active]
}

// SetActiveSheet switches the active sheet
func (w *Workbook) SetActiveSheet(name string) error {
	key := strings.ToUpper(name)
	if _, ok := w.sheets[key]; !ok {
		return NewAppError(NotFound, "no such sheet: "+name)
	}
	w.active = key
	return nil
}

// resolveTarget picks the sheet a possibly qualified reference addresses,
// defaulting to the active sheet
func (w *Workbook) resolveTarget(ref string) (*Sheet, string, error) {
	qualifier, rest := SplitSheetQualifier(ref)
	if qualifier == "" {
		sheet := w.ActiveSheet()
		if sheet == nil {
			return nil, "", NewAppError(NotFound, "workbook has no sheets")
		}
		return sheet, rest, nil
	}
	sheet, ok := w.SheetByName(qualifier)
	if !ok {
		return nil, "", NewAppError(NotFound, "no such sheet: "+qualifier)
	}
	return sheet, rest, nil
}

// SetCell writes a value into a cell, growing the grid as needed. a
// string starting with "=" installs a formula; anything else installs a
// literal, normalized onto the engine's primitive types so integer input
// reads back as float64. in both cases the cell's dependents go dirty; a
// formula cell also re-registers its precedents.
func (w *Workbook) SetCell(ref string, value Value) error {
	sheet, rest, err := w.resolveTarget(ref)
	if err != nil {
		return err
	}
	col, row, perr := ParseCell(rest)
	if perr != nil {
		return perr
	}
	sheet.EnsureCapacity(row, col)
	id := QualifiedID(sheet.name, col, row)
	value = normalizeRecordValue(value)

	if text, ok := value.(string); ok && strings.HasPrefix(text, "=") {
		sheet.setSlot(col, row, CellSlot{Kind: SlotFormula, Formula: text, Dirty: true})
		cells, spans := ExtractPrecedents(text, sheet.name)
		w.graph.Register(id, cells, spans)
		w.markDirtySet(w.graph.MarkDirty(id))
		return nil
	}

	w.graph.Unregister(id)
	if value == nil {
		sheet.setSlot(col, row, CellSlot{Kind: SlotEmpty})
	} else {
		sheet.setSlot(col, row, CellSlot{Kind: SlotLiteral, Literal: value})
	}
	reached := w.graph.MarkDirty(id)
	delete(reached, id)
	w.markDirtySet(reached)
	delete(w.dirty, id)
	return nil
}

// ClearCell resets a cell back to empty
func (w *Workbook) ClearCell(ref string) error {
	return w.SetCell(ref, nil)
}

// GetCell returns a cell's current value, evaluating the cell on demand
// if it holds a stale formula. out-of-bounds references yield the
// reference-error sentinel, not a Go error.
func (w *Workbook) GetCell(ref string) (Value, error) {
	sheet, rest, err := w.resolveTarget(ref)
	if err != nil {
		return nil, err
	}
	col, row, perr := ParseCell(rest)
	if perr != nil {
		return nil, perr
	}
	return w.resolveCellValue(sheet, col, row, make(map[string]struct{})), nil
}

// GetCellSlot returns the raw slot for inspection: kind, formula text,
// cached value, dirty flag
func (w *Workbook) GetCellSlot(ref string) (CellSlot, error) {
	sheet, rest, err := w.resolveTarget(ref)
	if err != nil {
		return CellSlot{}, err
	}
	return sheet.Get(rest)
}

// GetRange returns the slots of a rectangular range in row-major order
func (w *Workbook) GetRange(ref string) ([][]CellSlot, error) {
	sheet, rest, err := w.resolveTarget(ref)
	if err != nil {
		return nil, err
	}
	return sheet.GetRange(rest)
}

// CellUpdate is one record of a batch write
type CellUpdate struct {
	Cell  string `json:"cell"`
	Value Value  `json:"value"`
}

// ApplyUpdates applies a batch of cell writes. records apply
// independently; a failing record is reported and does not stop the rest.
func (w *Workbook) ApplyUpdates(updates []CellUpdate) []error {
	var errs []error
	for _, u := range updates {
		if err := w.SetCell(u.Cell, u.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// markDirtySet flags every formula slot named in the set and records it
// for the next recalculation
func (w *Workbook) markDirtySet(ids map[string]struct{}) {
	for id := range ids {
		sheetName, col, row, err := SplitQualifiedID(id)
		if err != nil {
			continue
		}
		sheet, ok := w.SheetByName(sheetName)
		if !ok {
			continue
		}
		slot := sheet.slot(col, row)
		if slot == nil || slot.Kind != SlotFormula {
			continue
		}
		slot.Dirty = true
		w.dirty[id] = struct{}{}
	}
}

// reregisterSheet rebuilds graph registrations for every formula cell of
// a sheet and marks them and their dependents dirty. called after
// structural edits shift cell positions and after record import. stale
// registrations from the old positions are purged first.
func (w *Workbook) reregisterSheet(sheet *Sheet) {
	w.markDirtySet(w.graph.DependentsOfSheet(sheet.name))
	w.graph.PurgeSheet(sheet.name)
	for row := uint32(0); row < sheet.Rows(); row++ {
		for col := uint32(0); col < sheet.Cols(); col++ {
			slot := sheet.slot(col, row)
			if slot == nil || slot.Kind != SlotFormula {
				continue
			}
			id := QualifiedID(sheet.name, col, row)
			cells, spans := ExtractPrecedents(slot.Formula, sheet.name)
			w.graph.Register(id, cells, spans)
			w.markDirtySet(w.graph.MarkDirty(id))
		}
	}
}
