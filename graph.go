package gridcalc

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/exp/maps"
)

// DepGraph tracks, per workbook, which cells each formula cell reads
// (precedents) and the inverse index of which formula cells read a given
// cell (dependents). keys are qualified ids ("SHEET!A1"). the reverse
// index is always the exact transpose of the forward index; registration
// and unregistration update both together.
type DepGraph struct {
	precedents map[string]map[string]struct{} // formula cell -> cells it reads
	dependents map[string]map[string]struct{} // cell -> formula cells that read it
	spans      map[string][]cellSpan          // formula cell -> large ranges it observes
}

// cellSpan is a rectangular range of cells on one sheet, kept as an
// interval instead of being expanded to member ids. large ranges register
// as spans so a formula over millions of cells costs a few words, not a
// map entry per cell.
type cellSpan struct {
	sheet              string // upper-cased
	startCol, startRow uint32
	endCol, endRow     uint32
}

func (s cellSpan) covers(sheet string, col, row uint32) bool {
	return sheet == s.sheet &&
		col >= s.startCol && col <= s.endCol &&
		row >= s.startRow && row <= s.endRow
}

// NewDepGraph creates an empty dependency graph
func NewDepGraph() *DepGraph {
	return &DepGraph{
		precedents: make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
		spans:      make(map[string][]cellSpan),
	}
}

// Register replaces the precedent set and observed spans for a formula
// cell, removing stale back-edges from the reverse index and adding the
// new ones. registering the same set twice is a no-op.
func (g *DepGraph) Register(id string, precedents map[string]struct{}, spans []cellSpan) {
	g.Unregister(id)

	set := make(map[string]struct{}, len(precedents))
	for p := range precedents {
		set[p] = struct{}{}
		if g.dependents[p] == nil {
			g.dependents[p] = make(map[string]struct{})
		}
		g.dependents[p][id] = struct{}{}
	}
	g.precedents[id] = set
	if len(spans) > 0 {
		g.spans[id] = append([]cellSpan(nil), spans...)
	}
}

// Unregister removes a cell entirely from the forward index and scrubs its
// back-edges from the reverse index. used when a formula cell becomes a
// literal or is deleted.
func (g *DepGraph) Unregister(id string) {
	for p := range g.precedents[id] {
		delete(g.dependents[p], id)
		if len(g.dependents[p]) == 0 {
			delete(g.dependents, p)
		}
	}
	delete(g.precedents, id)
	delete(g.spans, id)
}

// Precedents returns the registered precedent set for a formula cell
func (g *DepGraph) Precedents(id string) map[string]struct{} {
	return g.precedents[id]
}

// Dependents returns the formula cells that directly read the given cell
func (g *DepGraph) Dependents(id string) map[string]struct{} {
	return g.dependents[id]
}

// Spans returns the observed ranges registered for a formula cell
func (g *DepGraph) Spans(id string) []cellSpan {
	return g.spans[id]
}

// HasPrecedent reports whether the formula cell reads the given cell,
// either through a direct edge or through an observed span
func (g *DepGraph) HasPrecedent(id, p string) bool {
	if _, ok := g.precedents[id][p]; ok {
		return true
	}
	spans := g.spans[id]
	if len(spans) == 0 {
		return false
	}
	sheet, col, row, err := SplitQualifiedID(p)
	if err != nil {
		return false
	}
	upper := strings.ToUpper(sheet)
	for _, sp := range spans {
		if sp.covers(upper, col, row) {
			return true
		}
	}
	return false
}

// IsRegistered reports whether the cell owns a precedent set
func (g *DepGraph) IsRegistered(id string) bool {
	_, ok := g.precedents[id]
	return ok
}

// RegisteredIDs returns all formula cell ids in the forward index, sorted
// for deterministic iteration
func (g *DepGraph) RegisteredIDs() []string {
	ids := maps.Keys(g.precedents)
	sort.Strings(ids)
	return ids
}

// MarkDirty walks the dependents index breadth-first from the given cell
// and returns every reachable cell, including the start. formulas
// observing a span that covers the current cell count as dependents too.
// visited tracking keeps the traversal linear even on diamond-shaped
// graphs.
func (g *DepGraph) MarkDirty(id string) map[string]struct{} {
	reached := map[string]struct{}{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for dep := range g.dependents[current] {
			if _, seen := reached[dep]; seen {
				continue
			}
			reached[dep] = struct{}{}
			queue = append(queue, dep)
		}
		sheet, col, row, err := SplitQualifiedID(current)
		if err != nil {
			continue
		}
		for dep, spans := range g.spans {
			if _, seen := reached[dep]; seen {
				continue
			}
			for _, sp := range spans {
				if sp.covers(sheet, col, row) {
					reached[dep] = struct{}{}
					queue = append(queue, dep)
					break
				}
			}
		}
	}
	return reached
}

// DependentsOfSheet collects every registered formula cell that depends
// on any cell of the named sheet, excluding formulas on that sheet itself
func (g *DepGraph) DependentsOfSheet(sheet string) map[string]struct{} {
	upper := strings.ToUpper(sheet)
	out := make(map[string]struct{})
	for precedent, deps := range g.dependents {
		if sheetOfID(precedent) != upper {
			continue
		}
		for dep := range deps {
			if sheetOfID(dep) != upper {
				out[dep] = struct{}{}
			}
		}
	}
	for dep, spans := range g.spans {
		if sheetOfID(dep) == upper {
			continue
		}
		for _, sp := range spans {
			if sp.sheet == upper {
				out[dep] = struct{}{}
				break
			}
		}
	}
	return out
}

// PurgeSheet unregisters every formula cell belonging to the named sheet
// and returns the removed ids. references other sheets hold into the
// purged sheet stay registered; their formula text still names it.
func (g *DepGraph) PurgeSheet(sheet string) []string {
	upper := strings.ToUpper(sheet)
	var removed []string
	for id := range g.precedents {
		if sheetOfID(id) == upper {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		g.Unregister(id)
	}
	sort.Strings(removed)
	return removed
}

// reference scanning patterns. precedent extraction scans formula text
// rather than fully parsing it: over-approximation (a reference-shaped
// substring that is not an operand) is acceptable, under-approximation is
// not, because a missed dependency causes stale cached results.
var (
	reSheetRef = regexp.MustCompile(`(?:'([^']+)'|([A-Za-z_][A-Za-z0-9_]*))!([A-Za-z]{1,3}[0-9]{1,7})(:[A-Za-z]{1,3}[0-9]{1,7})?`)
	reRangeRef = regexp.MustCompile(`\b([A-Za-z]{1,3}[0-9]{1,7}):([A-Za-z]{1,3}[0-9]{1,7})\b`)
	reCellRef  = regexp.MustCompile(`\b[A-Za-z]{1,3}[0-9]{1,7}\b`)
)

// rangeExpandLimit caps how many member cells a range expands into at
// registration. ranges at or under the limit become direct edges; larger
// ones register as a single cellSpan interval instead.
const rangeExpandLimit = 1024

// ExtractPrecedents scans formula text for cell, range, and cross-sheet
// reference patterns and returns the qualified ids the formula reads plus
// the spans covering any ranges too large to expand. small ranges expand
// to their member cells over the full requested extent, so edits inside a
// range dirty the formula even when the grid later grows into it.
// homeSheet qualifies bare references.
func ExtractPrecedents(formula string, homeSheet string) (map[string]struct{}, []cellSpan) {
	out := make(map[string]struct{})
	var spans []cellSpan
	text := strings.TrimPrefix(formula, "=")

	// sheet-qualified references first; matched spans are masked out so the
	// bare-reference passes don't see their cell parts again
	masked := []byte(text)
	for _, m := range reSheetRef.FindAllStringSubmatchIndex(text, -1) {
		sheet := submatch(text, m, 1)
		if sheet == "" {
			sheet = submatch(text, m, 2)
		}
		cellPart := submatch(text, m, 3)
		rangePart := submatch(text, m, 4)
		if rangePart != "" {
			spans = addRangeIDs(out, spans, sheet, cellPart+rangePart)
		} else {
			addCellID(out, sheet, cellPart)
		}
		for i := m[0]; i < m[1]; i++ {
			masked[i] = ' '
		}
	}
	text = string(masked)

	// bare ranges next, masking again so member endpoints are not also
	// collected as scalar references
	masked = []byte(text)
	for _, m := range reRangeRef.FindAllStringSubmatchIndex(text, -1) {
		spans = addRangeIDs(out, spans, homeSheet, text[m[0]:m[1]])
		for i := m[0]; i < m[1]; i++ {
			masked[i] = ' '
		}
	}
	text = string(masked)

	for _, ref := range reCellRef.FindAllString(text, -1) {
		addCellID(out, homeSheet, ref)
	}
	return out, spans
}

func submatch(text string, m []int, i int) string {
	if 2*i+1 >= len(m) || m[2*i] < 0 {
		return ""
	}
	return text[m[2*i]:m[2*i+1]]
}

func addCellID(out map[string]struct{}, sheet, ref string) {
	col, row, err := ParseCell(ref)
	if err != nil {
		return
	}
	out[QualifiedID(sheet, col, row)] = struct{}{}
}

func addRangeIDs(out map[string]struct{}, spans []cellSpan, sheet, ref string) []cellSpan {
	startCol, startRow, endCol, endRow, err := ParseRange(ref)
	if err != nil {
		return spans
	}
	area := uint64(endCol-startCol+1) * uint64(endRow-startRow+1)
	if area > rangeExpandLimit {
		return append(spans, cellSpan{
			sheet:    strings.ToUpper(sheet),
			startCol: startCol,
			startRow: startRow,
			endCol:   endCol,
			endRow:   endRow,
		})
	}
	for row := startRow; row <= endRow; row++ {
		for col := startCol; col <= endCol; col++ {
			out[QualifiedID(sheet, col, row)] = struct{}{}
		}
	}
	return spans
}
