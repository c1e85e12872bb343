package canonical

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ErrUnrepresentable is the sentinel matched by every UnrepresentableError.
var ErrUnrepresentable = errors.New("unrepresentable value")

// UnrepresentableError reports a value that has no canonical form.
// Path locates the value inside the input (e.g. `config["weights"][2]`).
type UnrepresentableError struct {
	Path   string
	Reason string
}

func (e *UnrepresentableError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("unrepresentable value: %s", e.Reason)
	}
	return fmt.Sprintf("unrepresentable value at %s: %s", e.Path, e.Reason)
}

// Unwrap lets errors.Is(err, ErrUnrepresentable) match.
func (e *UnrepresentableError) Unwrap() error {
	return ErrUnrepresentable
}

// IsUnrepresentable returns true if err is (or wraps) an UnrepresentableError.
func IsUnrepresentable(err error) bool {
	return errors.Is(err, ErrUnrepresentable)
}

func unrepresentable(path, format string, args ...any) error {
	return &UnrepresentableError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// SortedKeys returns the keys of m in canonical order (UTF-16 code units).
// Go's native string ordering compares UTF-8 bytes, which disagrees with
// UTF-16 ordering for characters above U+FFFF.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// formatFloat renders f the way ECMAScript's Number.prototype.toString does,
// which is the number form RFC 8785 prescribes. The output never depends on
// the platform: strconv produces the shortest round-trip digits and the
// layout below is fixed.
func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	if f == 0 {
		return "0", nil // also folds -0
	}

	var sb strings.Builder
	if f < 0 {
		sb.WriteByte('-')
		f = -f
	}

	// 'e' with precision -1 yields "d.ddddde±XX" with the shortest digits.
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(sci, "e")
	digits := strings.Replace(mant, ".", "", 1)
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return "", fmt.Errorf("format %v: %w", f, err)
	}

	k := len(digits)
	n := exp + 1 // decimal point position relative to the digit string

	switch {
	case k <= n && n <= 21:
		sb.WriteString(digits)
		sb.WriteString(strings.Repeat("0", n-k))
	case 0 < n && n <= 21:
		sb.WriteString(digits[:n])
		sb.WriteByte('.')
		sb.WriteString(digits[n:])
	case -6 < n && n <= 0:
		sb.WriteString("0.")
		sb.WriteString(strings.Repeat("0", -n))
		sb.WriteString(digits)
	default:
		e := n - 1
		sb.WriteByte(digits[0])
		if k > 1 {
			sb.WriteByte('.')
			sb.WriteString(digits[1:])
		}
		sb.WriteByte('e')
		if e >= 0 {
			sb.WriteByte('+')
		}
		sb.WriteString(strconv.Itoa(e))
	}
	return sb.String(), nil
}

// formatNumberLiteral normalizes a JSON number literal. Integer literals that
// fit in int64 keep their exact value; everything else goes through float64.
func formatNumberLiteral(lit string) (string, error) {
	if !strings.ContainsAny(lit, ".eE") {
		if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return strconv.FormatInt(n, 10), nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %q", lit)
	}
	return formatFloat(f)
}
