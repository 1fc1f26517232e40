package gridcalc

import (
	"math"
	"sort"
	"strings"
)

// BuiltinFunc is the signature shared by every spreadsheet function. args
// arrive fully resolved, with ranges already flattened to scalars.
type BuiltinFunc func(args []Value) Value

// FuncTable maps upper-cased function names to implementations
type FuncTable struct {
	funcs map[string]BuiltinFunc
}

// NewFuncTable builds a table preloaded with the standard functions
func NewFuncTable() *FuncTable {
	t := &FuncTable{funcs: make(map[string]BuiltinFunc)}
	t.Register("SUM", fnSum)
	t.Register("AVERAGE", fnAverage)
	t.Register("COUNT", fnCount)
	t.Register("COUNTA", fnCountA)
	t.Register("MAX", fnMax)
	t.Register("MIN", fnMin)
	t.Register("MEDIAN", fnMedian)
	t.Register("IF", fnIf)
	t.Register("AND", fnAnd)
	t.Register("OR", fnOr)
	t.Register("NOT", fnNot)
	t.Register("CONCATENATE", fnConcatenate)
	t.Register("LEN", fnLen)
	t.Register("UPPER", fnUpper)
	t.Register("LOWER", fnLower)
	t.Register("TRIM", fnTrim)
	t.Register("ABS", fnAbs)
	t.Register("ROUND", fnRound)
	t.Register("FLOOR", fnFloor)
	t.Register("CEILING", fnCeiling)
	t.Register("SQRT", fnSqrt)
	t.Register("POWER", fnPower)
	t.Register("MOD", fnMod)
	return t
}

// Register adds or replaces a function under an upper-cased name
func (t *FuncTable) Register(name string, fn BuiltinFunc) {
	t.funcs[strings.ToUpper(name)] = fn
}

// Has reports whether a function is registered
func (t *FuncTable) Has(name string) bool {
	_, ok := t.funcs[strings.ToUpper(name)]
	return ok
}

// Call dispatches to a registered function; an unknown name is the
// #NAME? sentinel, not a Go error
func (t *FuncTable) Call(name string, args []Value) Value {
	fn, ok := t.funcs[strings.ToUpper(name)]
	if !ok {
		return NewCellError(ErrorCodeName, "unknown function: "+strings.ToUpper(name))
	}
	return fn(args)
}

// firstError returns the first error sentinel among the arguments, if any
func firstError(args []Value) *CellError {
	for _, a := range args {
		if err := asCellError(a); err != nil {
			return err
		}
	}
	return nil
}

// numericArgs filters the arguments down to their numeric members.
// non-numeric values are skipped, matching how aggregate functions treat
// text and blanks inside a range.
func numericArgs(args []Value) []float64 {
	var out []float64
	for _, a := range args {
		if a == nil {
			continue
		}
		if n, ok := toNumber(a); ok {
			out = append(out, n)
		}
	}
	return out
}

func wrongArity(name string) Value {
	return NewCellError(ErrorCodeNA, "wrong number of arguments for "+name)
}

func fnSum(args []Value) Value {
	if err := firstError(args); err != nil {
		return err
	}
	total := 0.0
	for _, n := range numericArgs(args) {
		total += n
	}
	return total
}

func fnAverage(args []Value) Value {
	if err := firstError(args); err != nil {
		return err
	}
	nums := numericArgs(args)
	if len(nums) == 0 {
		return NewCellError(ErrorCodeDiv0, "AVERAGE over no numeric values")
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return total / float64(len(nums))
}

func fnCount(args []Value) Value {
	if err := firstError(args); err != nil {
		return err
	}
	return float64(len(numericArgs(args)))
}

func fnCountA(args []Value) Value {
	if err := firstError(args); err != nil {
		return err
	}
	count := 0
	for _, a := range args {
		if a != nil {
			count++
		}
	}
	return float64(count)
}

func fnMax(args []Value) Value {
	if err := firstError(args); err != nil {
		return err
	}
	nums := numericArgs(args)
	if len(nums) == 0 {
		return 0.0
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if n > best {
			best = n
		}
	}
	return best
}

func fnMin(args []Value) Value {
	if err := firstError(args); err != nil {
		return err
	}
	nums := numericArgs(args)
	if len(nums) == 0 {
		return 0.0
	}
	best := nums[0]
	for _, n := range nums[1:] {
		if n < best {
			best = n
		}
	}
	return best
}

func fnMedian(args []Value) Value {
	if err := firstError(args); err != nil {
		return err
	}
	nums := numericArgs(args)
	if len(nums) == 0 {
		return NewCellError(ErrorCodeNum, "MEDIAN over no numeric values")
	}
	sort.Float64s(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return nums[mid]
	}
	return (nums[mid-1] + nums[mid]) / 2
}

func fnIf(args []Value) Value {
	if len(args) < 2 || len(args) > 3 {
		return wrongArity("IF")
	}
	if err := asCellError(args[0]); err != nil {
		return err
	}
	if isTruthy(args[0]) {
		return args[1]
	}
	if len(args) == 3 {
		return args[2]
	}
	return false
}

func fnAnd(args []Value) Value {
	if len(args) == 0 {
		return wrongArity("AND")
	}
	if err := firstError(args); err != nil {
		return err
	}
	for _, a := range args {
		if !isTruthy(a) {
			return false
		}
	}
	return true
}

func fnOr(args []Value) Value {
	if len(args) == 0 {
		return wrongArity("OR")
	}
	if err := firstError(args); err != nil {
		return err
	}
	for _, a := range args {
		if isTruthy(a) {
			return true
		}
	}
	return false
}

func fnNot(args []Value) Value {
	if len(args) != 1 {
		return wrongArity("NOT")
	}
	if err := asCellError(args[0]); err != nil {
		return err
	}
	return !isTruthy(args[0])
}

func fnConcatenate(args []Value) Value {
	if err := firstError(args); err != nil {
		return err
	}
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(toText(a))
	}
	return sb.String()
}

func fnLen(args []Value) Value {
	if len(args) != 1 {
		return wrongArity("LEN")
	}
	if err := asCellError(args[0]); err != nil {
		return err
	}
	return float64(len([]rune(toText(args[0]))))
}

func fnUpper(args []Value) Value {
	if len(args) != 1 {
		return wrongArity("UPPER")
	}
	if err := asCellError(args[0]); err != nil {
		return err
	}
	return strings.ToUpper(toText(args[0]))
}

func fnLower(args []Value) Value {
	if len(args) != 1 {
		return wrongArity("LOWER")
	}
	if err := asCellError(args[0]); err != nil {
		return err
	}
	return strings.ToLower(toText(args[0]))
}

func fnTrim(args []Value) Value {
	if len(args) != 1 {
		return wrongArity("TRIM")
	}
	if err := asCellError(args[0]); err != nil {
		return err
	}
	return strings.TrimSpace(toText(args[0]))
}

// oneNumber validates a single numeric argument
func oneNumber(name string, args []Value) (float64, Value) {
	if len(args) != 1 {
		return 0, wrongArity(name)
	}
	if err := asCellError(args[0]); err != nil {
		return 0, err
	}
	n, ok := toNumber(args[0])
	if !ok {
		return 0, NewCellError(ErrorCodeValue, name+" requires a numeric argument")
	}
	return n, nil
}

func twoNumbers(name string, args []Value) (float64, float64, Value) {
	if len(args) != 2 {
		return 0, 0, wrongArity(name)
	}
	if err := firstError(args); err != nil {
		return 0, 0, err
	}
	x, okX := toNumber(args[0])
	y, okY := toNumber(args[1])
	if !okX || !okY {
		return 0, 0, NewCellError(ErrorCodeValue, name+" requires numeric arguments")
	}
	return x, y, nil
}

func fnAbs(args []Value) Value {
	n, errv := oneNumber("ABS", args)
	if errv != nil {
		return errv
	}
	return math.Abs(n)
}

func fnRound(args []Value) Value {
	if len(args) == 1 {
		args = append(args, 0.0)
	}
	x, digits, errv := twoNumbers("ROUND", args)
	if errv != nil {
		return errv
	}
	scale := math.Pow(10, math.Trunc(digits))
	return math.Round(x*scale) / scale
}

func fnFloor(args []Value) Value {
	n, errv := oneNumber("FLOOR", args)
	if errv != nil {
		return errv
	}
	return math.Floor(n)
}

func fnCeiling(args []Value) Value {
	n, errv := oneNumber("CEILING", args)
	if errv != nil {
		return errv
	}
	return math.Ceil(n)
}

func fnSqrt(args []Value) Value {
	n, errv := oneNumber("SQRT", args)
	if errv != nil {
		return errv
	}
	if n < 0 {
		return NewCellError(ErrorCodeNum, "SQRT of a negative number")
	}
	return math.Sqrt(n)
}

func fnPower(args []Value) Value {
	x, y, errv := twoNumbers("POWER", args)
	if errv != nil {
		return errv
	}
	return math.Pow(x, y)
}

func fnMod(args []Value) Value {
	x, y, errv := twoNumbers("MOD", args)
	if errv != nil {
		return errv
	}
	if y == 0 {
		return NewCellError(ErrorCodeDiv0, "MOD by zero")
	}
	result := math.Mod(x, y)
	if result != 0 && (result < 0) != (y < 0) {
		result += y
	}
	return result
}
