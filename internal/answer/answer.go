// Package answer decides whether a free-form math answer matches the stored
// canonical answer of a problem.
package answer

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Tolerance is the absolute difference under which two numbers are equal.
const Tolerance = 0.001

// MaxInputLength caps what is evaluated; longer answers only match by
// exact normalized text.
const MaxInputLength = 1024

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Normalize lowercases and trims s and turns decimal commas into points.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, ",", ".")
}

// Equal reports whether user is equivalent to expected.
//
// Rules, in order:
//   - empty user input never matches
//   - identical normalized strings match without evaluation
//   - multi-value answers ("2; -3") compare sorted numbers pairwise
//   - single values are evaluated as expressions ("1/4" == "0.25")
//   - anything that does not evaluate falls back to string equality
//   - inputs longer than MaxInputLength are never evaluated
func Equal(user, expected string) (ok bool) {
	if strings.TrimSpace(user) == "" {
		return false
	}
	nu, ne := Normalize(user), Normalize(expected)
	if nu == ne {
		return true
	}
	if len(nu) > MaxInputLength || len(ne) > MaxInputLength {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			ok = nu == ne
		}
	}()

	if isMultiValue(ne) {
		if match, decided := compareMultiValue(nu, ne); decided {
			return match
		}
	}

	a, errA := Eval(nu)
	b, errB := Eval(ne)
	if errA != nil || errB != nil {
		return nu == ne
	}
	return math.Abs(a-b) < Tolerance
}

// isMultiValue is the multi-root heuristic: a semicolon or an internal space
// in the expected answer.
func isMultiValue(expected string) bool {
	return strings.Contains(expected, ";") || strings.Contains(expected, " ")
}

// compareMultiValue returns decided=false when the path does not apply: the
// expected answer carries fewer than two numbers (textual answers such as
// "x > 5") or the user supplied a different count of numbers.
func compareMultiValue(user, expected string) (match, decided bool) {
	want := extractNumbers(expected)
	if len(want) < 2 {
		return false, false
	}
	got := extractNumbers(user)
	if len(got) != len(want) {
		return false, false
	}
	sort.Float64s(want)
	sort.Float64s(got)
	for i := range want {
		if math.Abs(got[i]-want[i]) >= Tolerance {
			return false, true
		}
	}
	return true, true
}

// ExtractNumbers returns every signed decimal literal in s, in order of appearance.
func ExtractNumbers(s string) []float64 { return extractNumbers(Normalize(s)) }

func extractNumbers(s string) []float64 {
	raw := numberRe.FindAllString(s, -1)
	out := make([]float64, 0, len(raw))
	for _, r := range raw {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
