package gridcalc

import (
	"fmt"
	"strconv"
)

// Value represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty/null cells
//   - *CellError: error values (#DIV/0!, #VALUE!, etc.)
type Value any

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions, plus #CIRC! for circular references
type ErrorCode uint8

const (
	ErrorCodeDiv0  ErrorCode = 1 // #DIV/0! - division by zero
	ErrorCodeValue ErrorCode = 2 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef   ErrorCode = 3 // #REF! - invalid or out-of-bounds cell reference
	ErrorCodeName  ErrorCode = 4 // #NAME? - unrecognized function name
	ErrorCodeCirc  ErrorCode = 5 // #CIRC! - circular reference
	ErrorCodeNum   ErrorCode = 6 // #NUM! - number outside the representable domain
	ErrorCodeNA    ErrorCode = 7 // #N/A - wrong number of arguments for function
)

// ErrorMapper maps error code numbers to their display representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeDiv0:  "#DIV/0!",
	ErrorCodeValue: "#VALUE!",
	ErrorCodeRef:   "#REF!",
	ErrorCodeName:  "#NAME?",
	ErrorCodeCirc:  "#CIRC!",
	ErrorCodeNum:   "#NUM!",
	ErrorCodeNA:    "#N/A",
}

// CellError preserves error code for display in cells. it is stored and
// propagated as a value, never returned as a Go error.
type CellError struct {
	Code    ErrorCode
	Message string
}

func (e *CellError) Error() string {
	return ErrorMapper[e.Code]
}

func (e *CellError) String() string {
	return ErrorMapper[e.Code]
}

func NewCellError(code ErrorCode, message string) *CellError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &CellError{
		Code:    code,
		Message: message,
	}
}

// asCellError returns the error if value is a *CellError, nil otherwise
func asCellError(value Value) *CellError {
	if err, ok := value.(*CellError); ok {
		return err
	}
	return nil
}

// SlotKind discriminates the tagged CellSlot variant
type SlotKind uint8

const (
	SlotEmpty   SlotKind = 0
	SlotLiteral SlotKind = 1
	SlotFormula SlotKind = 2
)

// CellSlot holds exactly one of: nothing, a literal value, or a formula
// with its cached result. a slot is never simultaneously literal and
// formula; setting it fully replaces prior content.
type CellSlot struct {
	Kind    SlotKind
	Literal Value  // literal value when Kind == SlotLiteral
	Formula string // raw "=..." text when Kind == SlotFormula
	Cached  Value  // last evaluated result; trustworthy only when !Dirty
	Dirty   bool
}

// Display returns the user-visible value of the slot: the literal, the
// cached formula result, or nil for empty slots. callers wanting a fresh
// formula result go through the workbook, which recalculates dirty slots.
func (s CellSlot) Display() Value {
	switch s.Kind {
	case SlotLiteral:
		return s.Literal
	case SlotFormula:
		return s.Cached
	default:
		return nil
	}
}

// toNumber converts value to number, returning ok=false if conversion fails.
// empty cells coerce to 0 per the Excel convention.
func toNumber(value Value) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		num, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

// toText converts value to its textual form
func toText(value Value) string {
	switch v := value.(type) {
	case nil:
		return ""
	case *CellError:
		return v.String()
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// isTruthy checks if value is truthy
func isTruthy(value Value) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}
