package gridcalc

import (
	"fmt"
	"strings"
)

// Sheet owns a dense 2-D grid of cell slots plus a list of column headers.
// rows and columns are zero-indexed internally; the public API speaks
// 1-indexed rows and A-style columns. the grid grows on demand and never
// shrinks implicitly. a Sheet holds a non-owning back-reference to its
// Workbook for cross-sheet resolution and dependency re-registration.
type Sheet struct {
	name     string
	workbook *Workbook // non-owning; nil for detached sheets
	headers  []string
	cells    [][]CellSlot // rows x cols
}

// NewSheet creates a detached sheet with the given initial dimensions and
// synthesized headers
func NewSheet(name string, rows, cols uint32) *Sheet {
	s := &Sheet{name: name}
	if rows > 0 && cols > 0 {
		s.EnsureCapacity(rows-1, cols-1)
	}
	return s
}

// Name returns the sheet's display name
func (s *Sheet) Name() string {
	return s.name
}

// Rows returns the current number of rows
func (s *Sheet) Rows() uint32 {
	return uint32(len(s.cells))
}

// Cols returns the current number of columns
func (s *Sheet) Cols() uint32 {
	return uint32(len(s.headers))
}

// Headers returns the column headers
func (s *Sheet) Headers() []string {
	return s.headers
}

// SetHeaders replaces the column headers, growing the grid if more headers
// are supplied than columns exist
func (s *Sheet) SetHeaders(headers []string) {
	for uint32(len(s.headers)) < uint32(len(headers)) {
		s.headers = append(s.headers, "")
	}
	for i := range s.cells {
		for len(s.cells[i]) < len(s.headers) {
			s.cells[i] = append(s.cells[i], CellSlot{})
		}
	}
	copy(s.headers, headers)
}

// EnsureCapacity grows the grid so that (row, col) is addressable, padding
// new cells as empty and appending synthesized letter headers for new
// columns. existing data is never truncated.
func (s *Sheet) EnsureCapacity(row, col uint32) {
	for uint32(len(s.headers)) <= col {
		s.headers = append(s.headers, ColumnLabel(uint32(len(s.headers))))
	}
	for uint32(len(s.cells)) <= row {
		s.cells = append(s.cells, make([]CellSlot, len(s.headers)))
	}
	for i := range s.cells {
		for uint32(len(s.cells[i])) < uint32(len(s.headers)) {
			s.cells[i] = append(s.cells[i], CellSlot{})
		}
	}
}

// slot returns a pointer to the slot at (col, row), or nil when out of
// bounds. internal callers mutate slots through this.
func (s *Sheet) slot(col, row uint32) *CellSlot {
	if row >= uint32(len(s.cells)) || col >= uint32(len(s.cells[row])) {
		return nil
	}
	return &s.cells[row][col]
}

// setSlot writes the slot at (col, row), growing the grid as needed. the
// workbook layer is responsible for dependency registration.
func (s *Sheet) setSlot(col, row uint32, slot CellSlot) {
	s.EnsureCapacity(row, col)
	s.cells[row][col] = slot
}

// Get returns the slot at an A1-style reference. out-of-bounds reads
// return a #REF!-equivalent literal slot rather than failing, so callers
// can treat them as recoverable.
func (s *Sheet) Get(ref string) (CellSlot, error) {
	col, row, err := ParseCell(ref)
	if err != nil {
		return CellSlot{}, err
	}
	p := s.slot(col, row)
	if p == nil {
		return CellSlot{Kind: SlotLiteral, Literal: NewCellError(ErrorCodeRef, "reference out of bounds")}, nil
	}
	return *p, nil
}

// GetRange returns the matrix of slots covered by an "A1:C10" reference.
// cells beyond the current grid are padded as empty.
func (s *Sheet) GetRange(ref string) ([][]CellSlot, error) {
	startCol, startRow, endCol, endRow, err := ParseRange(ref)
	if err != nil {
		return nil, err
	}
	matrix := make([][]CellSlot, 0, endRow-startRow+1)
	for row := startRow; row <= endRow; row++ {
		line := make([]CellSlot, 0, endCol-startCol+1)
		for col := startCol; col <= endCol; col++ {
			if p := s.slot(col, row); p != nil {
				line = append(line, *p)
			} else {
				line = append(line, CellSlot{})
			}
		}
		matrix = append(matrix, line)
	}
	return matrix, nil
}

// AddRow appends an empty row
func (s *Sheet) AddRow() {
	s.cells = append(s.cells, make([]CellSlot, len(s.headers)))
}

// InsertRow inserts an empty row before the zero-based index, shifting
// subsequent rows down
func (s *Sheet) InsertRow(at uint32) error {
	if at > uint32(len(s.cells)) {
		return NewAppError(OutOfRange, fmt.Sprintf("row %d out of range", at))
	}
	s.cells = append(s.cells, nil)
	copy(s.cells[at+1:], s.cells[at:])
	s.cells[at] = make([]CellSlot, len(s.headers))
	s.notifyShift()
	return nil
}

// DeleteRow removes the row at the zero-based index, shifting subsequent
// rows up. formula text is not rewritten, so formulas referencing shifted
// cells re-resolve against the new layout.
func (s *Sheet) DeleteRow(at uint32) error {
	if at >= uint32(len(s.cells)) {
		return NewAppError(OutOfRange, fmt.Sprintf("row %d out of range", at))
	}
	s.cells = append(s.cells[:at], s.cells[at+1:]...)
	s.notifyShift()
	return nil
}

// AddColumn appends an empty column with a synthesized header
func (s *Sheet) AddColumn() {
	s.headers = append(s.headers, ColumnLabel(uint32(len(s.headers))))
	for i := range s.cells {
		s.cells[i] = append(s.cells[i], CellSlot{})
	}
}

// InsertColumn inserts an empty column before the zero-based index,
// shifting subsequent columns right
func (s *Sheet) InsertColumn(at uint32) error {
	if at > uint32(len(s.headers)) {
		return NewAppError(OutOfRange, fmt.Sprintf("column %d out of range", at))
	}
	s.headers = append(s.headers, "")
	copy(s.headers[at+1:], s.headers[at:])
	s.headers[at] = ColumnLabel(at)
	for i := range s.cells {
		s.cells[i] = append(s.cells[i], CellSlot{})
		copy(s.cells[i][at+1:], s.cells[i][at:])
		s.cells[i][at] = CellSlot{}
	}
	s.notifyShift()
	return nil
}

// DeleteColumn removes the column at the zero-based index, shifting
// subsequent columns left and dropping its header
func (s *Sheet) DeleteColumn(at uint32) error {
	if at >= uint32(len(s.headers)) {
		return NewAppError(OutOfRange, fmt.Sprintf("column %d out of range", at))
	}
	s.headers = append(s.headers[:at], s.headers[at+1:]...)
	for i := range s.cells {
		s.cells[i] = append(s.cells[i][:at], s.cells[i][at+1:]...)
	}
	s.notifyShift()
	return nil
}

// notifyShift tells the owning workbook that cell addresses shifted, so
// every formula cell of this sheet gets re-registered against the graph
func (s *Sheet) notifyShift() {
	if s.workbook != nil {
		s.workbook.reregisterSheet(s)
	}
}

// SheetRecord is the plain serialization format consumed by the external
// persistence and API layers. formula cells are represented as their raw
// text beginning with '='; error results serialize as display strings.
type SheetRecord struct {
	Name    string   `json:"name"`
	Rows    uint32   `json:"rows"`
	Cols    uint32   `json:"cols"`
	Headers []string `json:"headers"`
	Cells   [][]any  `json:"cells"`
}

// ToRecord serializes the sheet
func (s *Sheet) ToRecord() SheetRecord {
	rec := SheetRecord{
		Name:    s.name,
		Rows:    s.Rows(),
		Cols:    s.Cols(),
		Headers: append([]string(nil), s.headers...),
		Cells:   make([][]any, len(s.cells)),
	}
	for i, row := range s.cells {
		line := make([]any, len(row))
		for j, slot := range row {
			switch slot.Kind {
			case SlotFormula:
				line[j] = slot.Formula
			case SlotLiteral:
				if err := asCellError(slot.Literal); err != nil {
					line[j] = err.String()
				} else {
					line[j] = slot.Literal
				}
			default:
				line[j] = nil
			}
		}
		rec.Cells[i] = line
	}
	return rec
}

// SheetFromRecord rebuilds a detached sheet from its record form. strings
// beginning with '=' become formula slots, marked dirty; the workbook
// registers them when the sheet is attached.
func SheetFromRecord(rec SheetRecord) *Sheet {
	s := NewSheet(rec.Name, rec.Rows, rec.Cols)
	if len(rec.Headers) > 0 {
		s.SetHeaders(rec.Headers)
	}
	for i, row := range rec.Cells {
		for j, v := range row {
			if v == nil {
				continue
			}
			slot := CellSlot{Kind: SlotLiteral, Literal: normalizeRecordValue(v)}
			if str, ok := v.(string); ok && strings.HasPrefix(str, "=") {
				slot = CellSlot{Kind: SlotFormula, Formula: str, Dirty: true}
			}
			s.setSlot(uint32(j), uint32(i), slot)
		}
	}
	return s
}

// normalizeRecordValue maps decoded record values onto the engine's
// primitive types. JSON numbers arrive as float64 already; integer types
// appear when records are built in process.
func normalizeRecordValue(v any) Value {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
