// Package decimal provides fixed-precision decimal arithmetic for money and
// time quantities. Amounts are stored as big.Int in the smallest unit: a
// zatoshi-scaled (1e8) fixed point, matching Zcash's own precision so
// amounts read from chain RPC responses and amounts computed internally
// share one scale.
package decimal

import (
	"fmt"
	"math/big"
	"strings"
)

// Scale is the number of fractional digits carried by every Amount.
const Scale = 8

var pow10 = new(big.Int).Exp(big.NewInt(10), big.NewInt(Scale), nil)

// Amount is a fixed-point decimal value in units of 10^-Scale.
type Amount struct {
	v *big.Int
}

// Zero is the additive identity.
func Zero() Amount { return Amount{v: big.NewInt(0)} }

// FromInt builds an Amount representing a whole number.
func FromInt(n int64) Amount {
	return Amount{v: new(big.Int).Mul(big.NewInt(n), pow10)}
}

// Parse converts a decimal string (e.g. "1.50") into an Amount.
// Rules mirror the donor codebase's smallest-unit parser: negative amounts
// and multiple decimal points are rejected; the fractional part is
// padded/truncated to Scale digits.
func Parse(s string) (Amount, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero(), true
	}
	if strings.HasPrefix(s, "-") {
		return Amount{}, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Amount{}, false
	}
	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return Amount{}, false
		}
	}

	for len(frac) < Scale {
		frac += "0"
	}
	frac = frac[:Scale]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return Amount{}, false
	}
	return Amount{v: result}, true
}

// MustParse parses s and panics on failure. Intended for constants and tests.
func MustParse(s string) Amount {
	a, ok := Parse(s)
	if !ok {
		panic(fmt.Sprintf("decimal: invalid literal %q", s))
	}
	return a
}

// String renders the amount with exactly Scale fractional digits.
func (a Amount) String() string {
	if a.v == nil {
		return "0." + strings.Repeat("0", Scale)
	}
	neg := a.v.Sign() < 0
	abs := new(big.Int).Abs(a.v)
	s := abs.String()
	for len(s) < Scale+1 {
		s = "0" + s
	}
	cut := len(s) - Scale
	out := s[:cut] + "." + s[cut:]
	if neg {
		out = "-" + out
	}
	return out
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.big(), b.big())}
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{v: new(big.Int).Sub(a.big(), b.big())}
}

// Mul returns a*b, rescaled back down to Scale fractional digits.
func (a Amount) Mul(b Amount) Amount {
	prod := new(big.Int).Mul(a.big(), b.big())
	return Amount{v: prod.Div(prod, pow10)}
}

// Div returns a/b, rounded down, at Scale fractional digits. Division by
// zero returns Zero(); callers must guard rate_per_hour > 0 beforehand per
// invariant I5.
func (a Amount) Div(b Amount) Amount {
	if b.big().Sign() == 0 {
		return Zero()
	}
	num := new(big.Int).Mul(a.big(), pow10)
	return Amount{v: num.Div(num, b.big())}
}

// Cmp compares a to b: -1, 0, 1.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// Sign returns -1, 0, or 1.
func (a Amount) Sign() int {
	return a.big().Sign()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.big().Sign() == 0
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.big().Sign() > 0
}

// HoursFromSeconds converts an elapsed duration in seconds to an Amount
// expressing fractional hours, at full Scale precision (no intermediate
// float rounding).
func HoursFromSeconds(seconds int64) Amount {
	secs := new(big.Int).Mul(big.NewInt(seconds), pow10)
	return Amount{v: secs.Div(secs, big.NewInt(3600))}
}

// MarshalJSON renders the amount as a JSON string, matching the donor
// codebase's convention of carrying money as decimal strings over the wire.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, ok := Parse(s)
	if !ok {
		return fmt.Errorf("decimal: invalid amount %q", s)
	}
	*a = parsed
	return nil
}
