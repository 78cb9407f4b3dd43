package answer

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestEqual(t *testing.T) {
	cases := []struct {
		name     string
		user     string
		expected string
		want     bool
	}{
		{"identical", "42", "42", true},
		{"case and trim", "  X > 5 ", "x > 5", true},
		{"decimal comma", "0,5", "0.5", true},
		{"fraction vs decimal", "1/4", "0.25", true},
		{"half as fraction", "1/2", "0.5", true},
		{"equivalent fractions", "2/4", "1/2", true},
		{"sqrt", "sqrt(4)", "2", true},
		{"unicode root", "√9", "3", true},
		{"power", "2^10", "1024", true},
		{"implicit pi", "2pi", "6.2832", true},
		{"within tolerance", "1.0005", "1", true},
		{"outside tolerance", "1.002", "1", false},
		{"wrong value", "3", "4", false},
		{"empty user", "", "0", false},
		{"blank user", "   ", "", false},
		{"roots permuted", "-3; 2", "2; -3", true},
		{"roots space separated", "-3 2", "2; -3", true},
		{"roots wrong", "2; 3", "2; -3", false},
		{"roots count mismatch", "2", "2; -3", false},
		{"roots approx", "0.3333; 1", "1; 0.33333", true},
		{"inequality spacing differs", "x>5", "x > 5", false},
		{"inequality other direction", "x < 5", "x > 5", false},
		{"text answer", "yes", "yes", true},
		{"text answer mismatch", "no", "yes", false},
		{"garbage", "2 +* (", "2", false},
		// a spaced expected expression takes the multi-value path, so the
		// operands compare as an unordered set
		{"spaced expression read as values", "3 - 2", "2 - 3", true},
		{"spaced expression single user value", "1", "2 - 1", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equal(tc.user, tc.expected); got != tc.want {
				t.Fatalf("Equal(%q, %q) = %v, want %v", tc.user, tc.expected, got, tc.want)
			}
		})
	}
}

func TestEqualNeverPanics(t *testing.T) {
	inputs := []string{"", "(", ")", "|", "||", "1/0", "sqrt(-1)", "ln(0)", "root(8)", "log(,)", "9e999", "√", "2**", "¿?", "[1,2]", ";;;", "- - -"}
	for _, a := range inputs {
		for _, b := range inputs {
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("Equal(%q, %q) panicked: %v", a, b, r)
					}
				}()
				_ = Equal(a, b)
			}()
		}
	}
}

func nested(open, close string, n int, inner string) string {
	return strings.Repeat(open, n) + inner + strings.Repeat(close, n)
}

func TestEvalDepthLimit(t *testing.T) {
	if v, err := Eval(nested("(", ")", 100, "1")); err != nil || v != 1 {
		t.Fatalf("100 levels: %v %v", v, err)
	}
	deep := []string{
		nested("(", ")", 500, "1"),
		nested("|", "|", 500, "1"),
		strings.Repeat("-", 600) + "1",
		strings.Repeat("sqrt ", 600) + "4",
		strings.Repeat("2^", 600) + "1",
	}
	for _, expr := range deep {
		_, err := Eval(expr)
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Fatalf("Eval(%.12q...) = %v, want SyntaxError", expr, err)
		}
	}
}

func TestEqualBoundsInput(t *testing.T) {
	cases := []struct {
		user, expected string
		want           bool
	}{
		{nested("(", ")", 1_000_000, "1"), "1", false},
		{nested("(", ")", 400, "1"), "1", false},
		{nested("(", ")", 20, "1"), "1", true},
		{strings.Repeat("7", MaxInputLength+1), strings.Repeat("7", MaxInputLength+1), true},
		{strings.Repeat("0", MaxInputLength) + "7", "7", false},
	}
	for _, c := range cases {
		if got := Equal(c.user, c.expected); got != c.want {
			t.Errorf("Equal(%.12q..., %.12q...) = %v, want %v", c.user, c.expected, got, c.want)
		}
	}
}

func TestEval(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"1+2*3", 7},
		{"(1+2)*3", 9},
		{"-2^2", -4},
		{"2^3^2", 512},
		{"2**3", 8},
		{"10 ÷ 4", 2.5},
		{"3 × 4", 12},
		{"5 − 7", -2},
		{"3(1+1)", 6},
		{"(1+1)(2+2)", 8},
		{"2sqrt(9)", 6},
		{"|-3|", 3},
		{"abs(-3)", 3},
		{"root(-8, 3)", -2},
		{"cbrt(27)", 3},
		{"log(1000)", 3},
		{"log(8, 2)", 3},
		{"ln(e)", 1},
		{"5²", 25},
		{"π", math.Pi},
		{"1.5e2", 150},
		{".5", 0.5},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr)
		if err != nil {
			t.Fatalf("Eval(%q): %v", tc.expr, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	if _, err := Eval("1/0"); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("1/0: expected ErrDivisionByZero, got %v", err)
	}
	if _, err := Eval("x+1"); !errors.Is(err, ErrUnknownIdentifier) {
		t.Fatalf("x+1: expected ErrUnknownIdentifier, got %v", err)
	}
	if _, err := Eval("   "); !errors.Is(err, ErrEmptyExpression) {
		t.Fatalf("blank: expected ErrEmptyExpression, got %v", err)
	}
	if _, err := Eval("ln(0)"); !errors.Is(err, ErrNotFinite) {
		t.Fatalf("ln(0): expected ErrNotFinite, got %v", err)
	}
	var se *SyntaxError
	if _, err := Eval("2 3"); !errors.As(err, &se) {
		t.Fatalf("2 3: expected SyntaxError, got %v", err)
	}
	if _, err := Eval("x > 5"); err == nil {
		t.Fatalf("inequality should not evaluate")
	}
}

func TestExtractNumbers(t *testing.T) {
	got := ExtractNumbers("x1 = 2,5; x2 = -3")
	want := []float64{1, 2.5, 2, -3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
