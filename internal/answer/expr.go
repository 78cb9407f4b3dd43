package answer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrEmptyExpression   = errors.New("empty expression")
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrDivisionByZero    = errors.New("division by zero")
	ErrNotFinite         = errors.New("result is not a finite number")
)

// SyntaxError reports where tokenizing or parsing stopped.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokPipe
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// superscripts are rewritten to an explicit power before tokenizing.
var exprReplacer = strings.NewReplacer(
	"**", "^",
	"×", "*",
	"·", "*",
	"÷", "/",
	"−", "-",
	"²", "^2",
	"³", "^3",
	"π", "pi",
)

func tokenize(src string) ([]token, error) {
	src = exprReplacer.Replace(src)
	runes := []rune(src)
	var out []token
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			seenDot := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || (runes[i] == '.' && !seenDot)) {
				if runes[i] == '.' {
					seenDot = true
				}
				i++
			}
			// scientific notation: 1e3, 2.5E-2
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					for j < len(runes) && unicode.IsDigit(runes[j]) {
						j++
					}
					i = j
				}
			}
			text := string(runes[start:i])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &SyntaxError{Pos: start, Msg: "bad number " + strconv.Quote(text)}
			}
			out = append(out, token{kind: tokNumber, text: text, num: v, pos: start})
		case unicode.IsLetter(r):
			start := i
			for i < len(runes) && unicode.IsLetter(runes[i]) {
				i++
			}
			out = append(out, token{kind: tokIdent, text: string(runes[start:i]), pos: start})
		case r == '√':
			out = append(out, token{kind: tokIdent, text: "sqrt", pos: i})
			i++
		case strings.ContainsRune("+-*/^", r):
			out = append(out, token{kind: tokOp, text: string(r), pos: i})
			i++
		case r == '(' || r == '[':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')' || r == ']':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			out = append(out, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '|':
			out = append(out, token{kind: tokPipe, text: "|", pos: i})
			i++
		default:
			return nil, &SyntaxError{Pos: i, Msg: "unexpected character " + strconv.QuoteRune(r)}
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(runes)})
	return out, nil
}

var constants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

type function struct {
	minArgs, maxArgs int
	call             func(args []float64) (float64, error)
}

func unary(f func(float64) float64) function {
	return function{minArgs: 1, maxArgs: 1, call: func(a []float64) (float64, error) { return f(a[0]), nil }}
}

var functions = map[string]function{
	"sqrt": {minArgs: 1, maxArgs: 1, call: func(a []float64) (float64, error) {
		if a[0] < 0 {
			return 0, ErrNotFinite
		}
		return math.Sqrt(a[0]), nil
	}},
	"cbrt": unary(math.Cbrt),
	"abs":  unary(math.Abs),
	"exp":  unary(math.Exp),
	"ln":   unary(math.Log),
	"sin":  unary(math.Sin),
	"cos":  unary(math.Cos),
	"tan":  unary(math.Tan),
	"log": {minArgs: 1, maxArgs: 2, call: func(a []float64) (float64, error) {
		if len(a) == 2 {
			return math.Log(a[0]) / math.Log(a[1]), nil
		}
		return math.Log10(a[0]), nil
	}},
	"root": {minArgs: 2, maxArgs: 2, call: func(a []float64) (float64, error) {
		x, n := a[0], a[1]
		if n == 0 {
			return 0, ErrDivisionByZero
		}
		// odd integer roots of negatives stay real: root(-8,3) = -2
		if x < 0 && n == math.Trunc(n) && int64(n)%2 != 0 {
			return -math.Pow(-x, 1/n), nil
		}
		return math.Pow(x, 1/n), nil
	}},
}

// maxDepth bounds parser recursion; each parenthesis, bar, sign or
// function application costs one or two levels.
const maxDepth = 256

type parser struct {
	toks  []token
	pos   int
	depth int
}

// Eval evaluates an arithmetic expression. Identifiers are limited to the
// known constants and functions; anything else is ErrUnknownIdentifier.
func Eval(expr string) (float64, error) {
	if strings.TrimSpace(expr) == "" {
		return 0, ErrEmptyExpression
	}
	toks, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{toks: toks}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return 0, &SyntaxError{Pos: t.pos, Msg: "unexpected " + strconv.Quote(t.text)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		p.depth--
		return &SyntaxError{Pos: p.peek().pos, Msg: "expression nested too deeply"}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

// expr := term (('+'|'-') term)*
func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

// term := unary (('*'|'/') unary | implicit-factor)*
func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch {
		case p.isOp("*"):
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.isOp("/"):
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left /= right
		case p.startsImplicitFactor():
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		default:
			return left, nil
		}
	}
}

// startsImplicitFactor reports whether the next token can follow a factor
// without an operator: 2pi, 3(4), (1)(2), 2sqrt(9). Two bare numbers in a
// row are not multiplied.
func (p *parser) startsImplicitFactor() bool {
	t := p.peek()
	switch t.kind {
	case tokIdent, tokLParen:
		return true
	case tokNumber:
		prev := p.toks[p.pos-1]
		return prev.kind == tokRParen
	}
	return false
}

// unary := ('+'|'-') unary | power
func (p *parser) parseUnary() (float64, error) {
	if err := p.enter(); err != nil {
		return 0, err
	}
	defer p.leave()
	if p.isOp("-") {
		p.next()
		v, err := p.parseUnary()
		return -v, err
	}
	if p.isOp("+") {
		p.next()
		return p.parseUnary()
	}
	return p.parsePower()
}

// power := primary ('^' unary)?  (right associative, binds tighter than unary minus)
func (p *parser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (float64, error) {
	if err := p.enter(); err != nil {
		return 0, err
	}
	defer p.leave()
	t := p.next()
	switch t.kind {
	case tokNumber:
		return t.num, nil
	case tokLParen:
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if c := p.next(); c.kind != tokRParen {
			return 0, &SyntaxError{Pos: c.pos, Msg: "expected )"}
		}
		return v, nil
	case tokPipe:
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if c := p.next(); c.kind != tokPipe {
			return 0, &SyntaxError{Pos: c.pos, Msg: "expected |"}
		}
		return math.Abs(v), nil
	case tokIdent:
		return p.parseIdent(t)
	case tokEOF:
		return 0, &SyntaxError{Pos: t.pos, Msg: "unexpected end of input"}
	default:
		return 0, &SyntaxError{Pos: t.pos, Msg: "unexpected " + strconv.Quote(t.text)}
	}
}

func (p *parser) parseIdent(t token) (float64, error) {
	name := strings.ToLower(t.text)
	if fn, ok := functions[name]; ok {
		var args []float64
		if p.peek().kind == tokLParen {
			p.next()
			for {
				v, err := p.parseExpr()
				if err != nil {
					return 0, err
				}
				args = append(args, v)
				if p.peek().kind == tokComma {
					p.next()
					continue
				}
				break
			}
			if c := p.next(); c.kind != tokRParen {
				return 0, &SyntaxError{Pos: c.pos, Msg: "expected ) after arguments"}
			}
		} else {
			// sqrt 9, √9, √(9)
			v, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			args = []float64{v}
		}
		if len(args) < fn.minArgs || len(args) > fn.maxArgs {
			return 0, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("%s takes %d..%d arguments", name, fn.minArgs, fn.maxArgs)}
		}
		return fn.call(args)
	}
	if v, ok := constants[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownIdentifier, t.text)
}
