package gridcalc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AppErrorCode represents gRPC-style error codes for application-level
// errors. note that we are skipping error codes that don't make sense for
// our use-case, like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// InvalidArgument indicates the caller specified an invalid argument,
	// such as malformed A1 reference text.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (e.g., a sheet) was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// OutOfRange means an operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Internal errors. means some invariant expected by the underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

// AppError represents errors at the application level (not spreadsheet
// formula errors). structural errors are raised synchronously to the
// caller, unlike *CellError sentinels which are stored as data.
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// reference limits. columns are validated through ZZZ and rows through the
// conventional spreadsheet maximum; both are well above the engine's
// guaranteed floor (ZZ / 10,000).
const (
	maxColumns uint32 = 18278   // A through ZZZ
	maxRows    uint32 = 1048576 // 1-based row numbers
)

var cellPattern = regexp.MustCompile(`^([A-Za-z]+)([0-9]+)$`)

// ColumnIndex converts a column label to its zero-based index. base-26
// with digits 1-26 and no digit 0: A=0, Z=25, AA=26.
func ColumnIndex(label string) (uint32, error) {
	if label == "" {
		return 0, NewAppError(InvalidArgument, "empty column label")
	}
	var idx uint64
	for _, ch := range label {
		switch {
		case ch >= 'A' && ch <= 'Z':
			idx = idx*26 + uint64(ch-'A') + 1
		case ch >= 'a' && ch <= 'z':
			idx = idx*26 + uint64(ch-'a') + 1
		default:
			return 0, NewAppError(InvalidArgument, fmt.Sprintf("invalid column label: %s", label))
		}
		if idx > uint64(maxColumns) {
			return 0, NewAppError(InvalidArgument, fmt.Sprintf("column label out of range: %s", label))
		}
	}
	return uint32(idx - 1), nil
}

// ColumnLabel converts a zero-based column index to its letter form
func ColumnLabel(index uint32) string {
	n := index + 1
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// ParseCell parses an A1-style reference into zero-based column and row
// indices. parsing is case-insensitive.
func ParseCell(ref string) (col uint32, row uint32, err error) {
	m := cellPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return 0, 0, NewAppError(InvalidArgument, fmt.Sprintf("invalid cell reference: %s", ref))
	}
	col, err = ColumnIndex(m[1])
	if err != nil {
		return 0, 0, err
	}
	r, convErr := strconv.ParseUint(m[2], 10, 32)
	if convErr != nil || r == 0 || uint32(r) > maxRows {
		return 0, 0, NewAppError(InvalidArgument, fmt.Sprintf("invalid row in reference: %s", ref))
	}
	return col, uint32(r) - 1, nil
}

// FormatCell formats zero-based column and row indices as a canonical
// (upper-cased) A1-style reference
func FormatCell(col uint32, row uint32) string {
	return ColumnLabel(col) + strconv.FormatUint(uint64(row)+1, 10)
}

// ParseRange parses an "A1:C10" range into zero-based bounds, normalized
// so start <= end in both dimensions regardless of input order.
func ParseRange(ref string) (startCol, startRow, endCol, endRow uint32, err error) {
	parts := strings.Split(strings.TrimSpace(ref), ":")
	if len(parts) != 2 {
		return 0, 0, 0, 0, NewAppError(InvalidArgument, fmt.Sprintf("invalid range reference: %s", ref))
	}
	startCol, startRow, err = ParseCell(parts[0])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	endCol, endRow, err = ParseCell(parts[1])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if startCol > endCol {
		startCol, endCol = endCol, startCol
	}
	if startRow > endRow {
		startRow, endRow = endRow, startRow
	}
	return startCol, startRow, endCol, endRow, nil
}

// FormatRange formats normalized zero-based bounds as an "A1:C10" range
func FormatRange(startCol, startRow, endCol, endRow uint32) string {
	return FormatCell(startCol, startRow) + ":" + FormatCell(endCol, endRow)
}

// SplitSheetQualifier splits "Sheet2!A1" into its sheet name and the
// remaining reference text. absence of '!' returns an empty sheet name and
// the full text. a single-quoted sheet name has its quotes stripped.
func SplitSheetQualifier(ref string) (sheet string, rest string) {
	idx := strings.Index(ref, "!")
	if idx < 0 {
		return "", ref
	}
	sheet = ref[:idx]
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = sheet[1 : len(sheet)-1]
	}
	return sheet, ref[idx+1:]
}

// QualifiedID produces the canonical graph key for a cell: upper-cased
// sheet name, '!', upper-cased A1 reference with 1-based row.
func QualifiedID(sheet string, col uint32, row uint32) string {
	return strings.ToUpper(sheet) + "!" + FormatCell(col, row)
}

// SplitQualifiedID is the inverse of QualifiedID
func SplitQualifiedID(id string) (sheet string, col uint32, row uint32, err error) {
	idx := strings.Index(id, "!")
	if idx <= 0 {
		return "", 0, 0, NewAppError(InvalidArgument, fmt.Sprintf("invalid qualified id: %s", id))
	}
	sheet = id[:idx]
	col, row, err = ParseCell(id[idx+1:])
	return sheet, col, row, err
}

// sheetOfID returns the sheet component of a qualified id without
// validating the cell part
func sheetOfID(id string) string {
	idx := strings.Index(id, "!")
	if idx < 0 {
		return ""
	}
	return id[:idx]
}
