package gridcalc

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// exprTokenKind classifies tokens in a formula body
type exprTokenKind uint8

const (
	tokNumber exprTokenKind = iota
	tokString
	tokBool
	tokCell
	tokRange
	tokCall // a whole nested function call, resolved recursively
	tokOp
	tokLParen
	tokRParen
)

type exprToken struct {
	kind  exprTokenKind
	text  string // number text, string content, operator, reference, or call text
	sheet string // sheet qualifier for cell/range tokens
	unary bool   // operator is a unary prefix
}

// operand is a resolved value on the evaluation stack. fromRef marks
// values substituted for cell references: empty or non-numeric references
// coerce to 0 in numeric contexts per the Excel convention, while
// non-numeric literals are a #VALUE! error there.
type operand struct {
	val     Value
	fromRef bool
}

// operator precedence: ^ above multiplicative above additive above
// comparisons above concatenation. equal precedence evaluates left to
// right; unary prefix binds tightest.
var opPrecedence = map[string]int{
	"^": 4,
	"*": 3, "/": 3,
	"+": 2, "-": 2,
	"=": 1, "<>": 1, "<": 1, "<=": 1, ">": 1, ">=": 1,
	"&": 0,
}

const unaryPrecedence = 5

var (
	reFuncHead  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	reRangeOnly = regexp.MustCompile(`^[A-Za-z]{1,3}[0-9]{1,7}:[A-Za-z]{1,3}[0-9]{1,7}$`)
)

// evaluateFormula evaluates a formula string against a sheet. visited
// carries the qualified ids already on the evaluation stack; it is the
// correctness backbone for circular-reference safety and is threaded
// explicitly through every level of nested and cross-sheet recursion.
func (w *Workbook) evaluateFormula(formula string, sheet *Sheet, visited map[string]struct{}) Value {
	body := strings.TrimSpace(formula)
	body = strings.TrimPrefix(body, "=")
	return w.evaluateBody(body, sheet, visited)
}

// evaluateBody evaluates a formula body: either a whole function call or
// an operator expression
func (w *Workbook) evaluateBody(body string, sheet *Sheet, visited map[string]struct{}) Value {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if name, args, ok := splitFunctionCall(body); ok {
		return w.callFunction(name, args, sheet, visited)
	}
	tokens, tokErr := tokenizeExpr(body)
	if tokErr != nil {
		return tokErr
	}
	return w.evalTokens(tokens, sheet, visited)
}

// callFunction resolves the raw argument texts and dispatches to the
// function table. a range argument contributes its flattened values; any
// other argument resolves recursively (bare refs, literals, nested calls,
// expressions).
func (w *Workbook) callFunction(name string, rawArgs []string, sheet *Sheet, visited map[string]struct{}) Value {
	var args []Value
	for _, raw := range rawArgs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		qualifier, rest := SplitSheetQualifier(raw)
		if reRangeOnly.MatchString(strings.TrimSpace(rest)) && (qualifier != "" || raw == rest) {
			target := sheet
			if qualifier != "" {
				ws, ok := w.SheetByName(qualifier)
				if !ok {
					args = append(args, NewCellError(ErrorCodeRef, "unknown sheet: "+qualifier))
					continue
				}
				target = ws
			}
			args = append(args, w.flattenRange(target, strings.TrimSpace(rest), visited)...)
			continue
		}
		args = append(args, w.evaluateBody(raw, sheet, visited))
	}
	return w.funcs.Call(name, args)
}

// flattenRange resolves every cell of a range, in row-major order, into a
// flat value list. cells beyond the current grid contribute nothing.
func (w *Workbook) flattenRange(sheet *Sheet, rangeText string, visited map[string]struct{}) []Value {
	startCol, startRow, endCol, endRow, err := ParseRange(rangeText)
	if err != nil {
		return []Value{NewCellError(ErrorCodeRef, "invalid range: "+rangeText)}
	}
	if sheet.Rows() == 0 || sheet.Cols() == 0 {
		return nil
	}
	if endRow >= sheet.Rows() {
		endRow = sheet.Rows() - 1
	}
	if endCol >= sheet.Cols() {
		endCol = sheet.Cols() - 1
	}
	var out []Value
	for row := startRow; row <= endRow; row++ {
		for col := startCol; col <= endCol; col++ {
			out = append(out, w.resolveCellValue(sheet, col, row, visited))
		}
	}
	return out
}

// resolveCellValue resolves one cell to its current value. the visited
// check comes before any other resolution logic; a dirty formula slot is
// evaluated on demand, its cache refreshed and its dirty flag cleared.
func (w *Workbook) resolveCellValue(sheet *Sheet, col, row uint32, visited map[string]struct{}) Value {
	id := QualifiedID(sheet.name, col, row)
	if _, onStack := visited[id]; onStack {
		return NewCellError(ErrorCodeCirc, "circular reference at "+id)
	}
	slot := sheet.slot(col, row)
	if slot == nil {
		return NewCellError(ErrorCodeRef, "reference out of bounds: "+id)
	}
	switch slot.Kind {
	case SlotLiteral:
		return slot.Literal
	case SlotFormula:
		if !slot.Dirty {
			return slot.Cached
		}
		visited[id] = struct{}{}
		result := w.evaluateFormula(slot.Formula, sheet, visited)
		delete(visited, id)
		slot.Cached = result
		slot.Dirty = false
		delete(w.dirty, id)
		return result
	default:
		return nil
	}
}

// resolveRef resolves a possibly sheet-qualified scalar reference token
func (w *Workbook) resolveRef(qualifier, refText string, home *Sheet, visited map[string]struct{}) Value {
	target := home
	if qualifier != "" {
		ws, ok := w.SheetByName(qualifier)
		if !ok {
			return NewCellError(ErrorCodeRef, "unknown sheet: "+qualifier)
		}
		target = ws
	}
	col, row, err := ParseCell(refText)
	if err != nil {
		return NewCellError(ErrorCodeRef, "invalid reference: "+refText)
	}
	return w.resolveCellValue(target, col, row, visited)
}

// evalTokens runs the shunting-yard algorithm over the token stream,
// resolving operands as they are emitted, and evaluates the resulting
// postfix sequence to a single scalar
func (w *Workbook) evalTokens(tokens []exprToken, sheet *Sheet, visited map[string]struct{}) Value {
	var output []any // operand or exprToken (operators)
	var ops []exprToken

	popGreater := func(t exprToken) {
		for len(ops) > 0 {
			top := ops[len(ops)-1]
			if top.kind == tokLParen {
				break
			}
			topPrec := opPrecedence[top.text]
			if top.unary {
				topPrec = unaryPrecedence
			}
			curPrec := opPrecedence[t.text]
			if t.unary {
				// unary binds tightest and associates right; never pop for it
				break
			}
			if topPrec < curPrec {
				break
			}
			output = append(output, top)
			ops = ops[:len(ops)-1]
		}
	}

	for _, t := range tokens {
		switch t.kind {
		case tokNumber:
			n, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return NewCellError(ErrorCodeValue, "invalid number: "+t.text)
			}
			output = append(output, operand{val: n})
		case tokString:
			output = append(output, operand{val: t.text})
		case tokBool:
			output = append(output, operand{val: t.text == "TRUE"})
		case tokCell:
			output = append(output, operand{val: w.resolveRef(t.sheet, t.text, sheet, visited), fromRef: true})
		case tokRange:
			output = append(output, operand{val: NewCellError(ErrorCodeValue, "range in scalar context")})
		case tokCall:
			output = append(output, operand{val: w.evaluateBody(t.text, sheet, visited)})
		case tokLParen:
			ops = append(ops, t)
		case tokRParen:
			matched := false
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				ops = ops[:len(ops)-1]
				if top.kind == tokLParen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return NewCellError(ErrorCodeValue, "unbalanced parentheses")
			}
		case tokOp:
			popGreater(t)
			ops = append(ops, t)
		}
	}
	for len(ops) > 0 {
		top := ops[len(ops)-1]
		ops = ops[:len(ops)-1]
		if top.kind == tokLParen {
			return NewCellError(ErrorCodeValue, "unbalanced parentheses")
		}
		output = append(output, top)
	}

	return evalPostfix(output)
}

// evalPostfix reduces the postfix sequence to a single value
func evalPostfix(items []any) Value {
	var stack []operand
	for _, item := range items {
		switch it := item.(type) {
		case operand:
			stack = append(stack, it)
		case exprToken:
			if it.unary {
				if len(stack) < 1 {
					return NewCellError(ErrorCodeValue, "malformed expression")
				}
				a := stack[len(stack)-1]
				stack[len(stack)-1] = applyUnary(it.text, a)
				continue
			}
			if len(stack) < 2 {
				return NewCellError(ErrorCodeValue, "malformed expression")
			}
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-1]
			stack[len(stack)-1] = applyBinary(it.text, a, b)
		}
	}
	if len(stack) != 1 {
		return NewCellError(ErrorCodeValue, "malformed expression")
	}
	return stack[0].val
}

// numericOperand coerces an operand for arithmetic. empty and non-numeric
// cell references count as 0; non-numeric literals do not coerce.
func numericOperand(o operand) (float64, bool) {
	if n, ok := toNumber(o.val); ok {
		return n, true
	}
	if o.fromRef {
		return 0, true
	}
	return 0, false
}

func applyUnary(op string, a operand) operand {
	if err := asCellError(a.val); err != nil {
		return operand{val: err}
	}
	n, ok := numericOperand(a)
	if !ok {
		return operand{val: NewCellError(ErrorCodeValue, "non-numeric operand")}
	}
	if op == "-" {
		n = -n
	}
	return operand{val: n}
}

// applyBinary applies one binary operator with error-wins propagation:
// any operator applied to an error value yields that error
func applyBinary(op string, a, b operand) operand {
	if err := asCellError(a.val); err != nil {
		return operand{val: err}
	}
	if err := asCellError(b.val); err != nil {
		return operand{val: err}
	}

	switch op {
	case "&":
		return operand{val: toText(a.val) + toText(b.val)}
	case "=", "<>", "<", "<=", ">", ">=":
		return operand{val: compareValues(op, a, b)}
	}

	x, okA := numericOperand(a)
	y, okB := numericOperand(b)
	if !okA || !okB {
		return operand{val: NewCellError(ErrorCodeValue, "non-numeric operand")}
	}
	switch op {
	case "+":
		return operand{val: x + y}
	case "-":
		return operand{val: x - y}
	case "*":
		return operand{val: x * y}
	case "/":
		if y == 0 {
			return operand{val: NewCellError(ErrorCodeDiv0, "division by zero")}
		}
		return operand{val: x / y}
	case "^":
		return operand{val: math.Pow(x, y)}
	}
	return operand{val: NewCellError(ErrorCodeValue, "unknown operator: "+op)}
}

// compareValues implements the comparison operators. two strings compare
// textually and case-insensitively; everything else compares numerically.
func compareValues(op string, a, b operand) Value {
	as, aIsStr := a.val.(string)
	bs, bIsStr := b.val.(string)
	if aIsStr && bIsStr {
		cmp := strings.Compare(strings.ToUpper(as), strings.ToUpper(bs))
		return compareResult(op, cmp)
	}
	x, okA := numericOperand(a)
	y, okB := numericOperand(b)
	if !okA || !okB {
		return NewCellError(ErrorCodeValue, "incomparable operands")
	}
	switch {
	case x < y:
		return compareResult(op, -1)
	case x > y:
		return compareResult(op, 1)
	default:
		return compareResult(op, 0)
	}
}

func compareResult(op string, cmp int) bool {
	switch op {
	case "=":
		return cmp == 0
	case "<>":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default:
		return cmp >= 0
	}
}

// splitFunctionCall recognizes a body that is a single whole function
// call, NAME(args), and splits the top-level comma-separated argument
// list, respecting nested parentheses and string literals
func splitFunctionCall(body string) (name string, args []string, ok bool) {
	m := reFuncHead.FindStringSubmatch(body)
	if m == nil {
		return "", nil, false
	}
	open := strings.Index(body, "(")
	depth := 0
	inString := false
	closeIdx := -1
	for i := open; i < len(body); i++ {
		ch := body[i]
		if inString {
			if ch == '"' {
				if i+1 < len(body) && body[i+1] == '"' {
					i++ // escaped quote
					continue
				}
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				closeIdx = i
			}
		}
		if closeIdx >= 0 {
			break
		}
	}
	if closeIdx < 0 || strings.TrimSpace(body[closeIdx+1:]) != "" {
		return "", nil, false
	}

	name = strings.ToUpper(m[1])
	inner := body[open+1 : closeIdx]
	if strings.TrimSpace(inner) == "" {
		return name, nil, true
	}

	depth = 0
	inString = false
	start := 0
	for i := 0; i < len(inner); i++ {
		ch := inner[i]
		if inString {
			if ch == '"' {
				if i+1 < len(inner) && inner[i+1] == '"' {
					i++
					continue
				}
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, inner[start:i])
				start = i + 1
			}
		}
	}
	args = append(args, inner[start:])
	return name, args, true
}

// tokenizeExpr scans a formula body into expression tokens. scanning
// errors come back as sentinel values so they land in the cell instead of
// aborting recalculation.
func tokenizeExpr(body string) ([]exprToken, *CellError) {
	runes := []rune(body)
	var tokens []exprToken
	pos := 0

	unaryContext := func() bool {
		if len(tokens) == 0 {
			return true
		}
		last := tokens[len(tokens)-1]
		return last.kind == tokOp || last.kind == tokLParen
	}

	isDigit := func(ch rune) bool { return ch >= '0' && ch <= '9' }
	isAlpha := func(ch rune) bool {
		return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
	}
	isIdent := func(ch rune) bool { return isAlpha(ch) || isDigit(ch) || ch == '_' }

	for pos < len(runes) {
		ch := runes[pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			pos++

		case ch == '"':
			pos++
			var sb strings.Builder
			closed := false
			for pos < len(runes) {
				if runes[pos] == '"' {
					if pos+1 < len(runes) && runes[pos+1] == '"' {
						sb.WriteRune('"')
						pos += 2
						continue
					}
					pos++
					closed = true
					break
				}
				sb.WriteRune(runes[pos])
				pos++
			}
			if !closed {
				return nil, NewCellError(ErrorCodeValue, "unclosed string literal")
			}
			tokens = append(tokens, exprToken{kind: tokString, text: sb.String()})

		case ch == '\'':
			// quoted sheet reference: 'Name'!A1 or 'Name'!A1:B2
			end := pos + 1
			for end < len(runes) && runes[end] != '\'' {
				end++
			}
			if end >= len(runes) || end+1 >= len(runes) || runes[end+1] != '!' {
				return nil, NewCellError(ErrorCodeRef, "malformed sheet reference")
			}
			sheetName := string(runes[pos+1 : end])
			pos = end + 2
			tok, err := scanReference(runes, &pos, sheetName)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)

		case isDigit(ch) || (ch == '.' && pos+1 < len(runes) && isDigit(runes[pos+1])):
			start := pos
			for pos < len(runes) && (isDigit(runes[pos]) || runes[pos] == '.') {
				pos++
			}
			if pos < len(runes) && (runes[pos] == 'e' || runes[pos] == 'E') {
				save := pos
				pos++
				if pos < len(runes) && (runes[pos] == '+' || runes[pos] == '-') {
					pos++
				}
				if pos < len(runes) && isDigit(runes[pos]) {
					for pos < len(runes) && isDigit(runes[pos]) {
						pos++
					}
				} else {
					pos = save
				}
			}
			tokens = append(tokens, exprToken{kind: tokNumber, text: string(runes[start:pos])})

		case ch == '(':
			tokens = append(tokens, exprToken{kind: tokLParen, text: "("})
			pos++
		case ch == ')':
			tokens = append(tokens, exprToken{kind: tokRParen, text: ")"})
			pos++

		case ch == '+' || ch == '-':
			tokens = append(tokens, exprToken{kind: tokOp, text: string(ch), unary: unaryContext()})
			pos++
		case ch == '*' || ch == '/' || ch == '^' || ch == '&' || ch == '=':
			tokens = append(tokens, exprToken{kind: tokOp, text: string(ch)})
			pos++
		case ch == '<':
			if pos+1 < len(runes) && runes[pos+1] == '=' {
				tokens = append(tokens, exprToken{kind: tokOp, text: "<="})
				pos += 2
			} else if pos+1 < len(runes) && runes[pos+1] == '>' {
				tokens = append(tokens, exprToken{kind: tokOp, text: "<>"})
				pos += 2
			} else {
				tokens = append(tokens, exprToken{kind: tokOp, text: "<"})
				pos++
			}
		case ch == '>':
			if pos+1 < len(runes) && runes[pos+1] == '=' {
				tokens = append(tokens, exprToken{kind: tokOp, text: ">="})
				pos += 2
			} else {
				tokens = append(tokens, exprToken{kind: tokOp, text: ">"})
				pos++
			}

		case isAlpha(ch) || ch == '_':
			start := pos
			for pos < len(runes) && isIdent(runes[pos]) {
				pos++
			}
			ident := string(runes[start:pos])
			upper := strings.ToUpper(ident)

			if pos < len(runes) && runes[pos] == '!' {
				pos++
				tok, err := scanReference(runes, &pos, ident)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, tok)
				continue
			}
			if upper == "TRUE" || upper == "FALSE" {
				tokens = append(tokens, exprToken{kind: tokBool, text: upper})
				continue
			}
			if pos < len(runes) && runes[pos] == '(' {
				callText, err := captureCall(runes, start, &pos)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, exprToken{kind: tokCall, text: callText})
				continue
			}
			if isCellText(ident) {
				if pos < len(runes) && runes[pos] == ':' {
					save := pos
					pos++
					second := scanIdentAt(runes, &pos)
					if isCellText(second) {
						tokens = append(tokens, exprToken{kind: tokRange, text: ident + ":" + second})
						continue
					}
					pos = save
				}
				tokens = append(tokens, exprToken{kind: tokCell, text: ident})
				continue
			}
			return nil, NewCellError(ErrorCodeName, "unknown identifier: "+ident)

		default:
			return nil, NewCellError(ErrorCodeValue, "unexpected character: "+string(ch))
		}
	}
	return tokens, nil
}

// scanReference scans the cell or range part following a sheet qualifier
func scanReference(runes []rune, pos *int, sheet string) (exprToken, *CellError) {
	first := scanIdentAt(runes, pos)
	if !isCellText(first) {
		return exprToken{}, NewCellError(ErrorCodeRef, "invalid reference after sheet name")
	}
	if *pos < len(runes) && runes[*pos] == ':' {
		save := *pos
		*pos++
		second := scanIdentAt(runes, pos)
		if isCellText(second) {
			return exprToken{kind: tokRange, text: first + ":" + second, sheet: sheet}, nil
		}
		*pos = save
	}
	return exprToken{kind: tokCell, text: first, sheet: sheet}, nil
}

// scanIdentAt consumes and returns an alphanumeric run
func scanIdentAt(runes []rune, pos *int) string {
	start := *pos
	for *pos < len(runes) {
		ch := runes[*pos]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			*pos++
			continue
		}
		break
	}
	return string(runes[start:*pos])
}

// captureCall consumes a whole nested call, NAME(...), from the position
// of the open paren, returning the full call text including the name
func captureCall(runes []rune, nameStart int, pos *int) (string, *CellError) {
	depth := 0
	inString := false
	for *pos < len(runes) {
		ch := runes[*pos]
		if inString {
			if ch == '"' {
				if *pos+1 < len(runes) && runes[*pos+1] == '"' {
					*pos += 2
					continue
				}
				inString = false
			}
			*pos++
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				*pos++
				return string(runes[nameStart:*pos]), nil
			}
		}
		*pos++
	}
	return "", NewCellError(ErrorCodeValue, "unbalanced parentheses in function call")
}

// isCellText checks if a string is a valid cell reference (e.g., A1, B12):
// letters then digits, nothing else
func isCellText(s string) bool {
	letterEnd := 0
	for i, ch := range s {
		if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') {
			letterEnd = i + 1
		} else {
			break
		}
	}
	if letterEnd == 0 || letterEnd == len(s) {
		return false
	}
	for i := letterEnd; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
