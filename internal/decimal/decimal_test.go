package decimal

import "testing"

func TestParseFormat(t *testing.T) {
	cases := []struct{ in, out string }{
		{"1.50", "1.50000000"},
		{"100", "100.00000000"},
		{"", "0.00000000"},
		{"0.00000001", "0.00000001"},
	}
	for _, c := range cases {
		a, ok := Parse(c.in)
		if !ok {
			t.Fatalf("Parse(%q) failed", c.in)
		}
		if got := a.String(); got != c.out {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.out)
		}
	}
}

func TestParseRejectsNegativeAndMultiDot(t *testing.T) {
	if _, ok := Parse("-1.0"); ok {
		t.Error("expected negative amount to be rejected")
	}
	if _, ok := Parse("1.0.0"); ok {
		t.Error("expected multiple decimal points to be rejected")
	}
	if _, ok := Parse("abc"); ok {
		t.Error("expected non-numeric input to be rejected")
	}
}

func TestArithmetic(t *testing.T) {
	rate := MustParse("10.00")
	hours := MustParse("0.10")
	debit := rate.Mul(hours)
	if debit.String() != "1.00000000" {
		t.Errorf("10.00 * 0.10 = %s, want 1.00000000", debit.String())
	}

	remaining := MustParse("100.00")
	after := remaining.Sub(debit)
	if after.String() != "99.00000000" {
		t.Errorf("100.00 - 1.00 = %s, want 99.00000000", after.String())
	}
}

func TestHoursFromSeconds(t *testing.T) {
	h := HoursFromSeconds(360) // 6 minutes
	if h.String() != "0.10000000" {
		t.Errorf("HoursFromSeconds(360) = %s, want 0.10000000", h.String())
	}

	h60 := HoursFromSeconds(60)
	rate := MustParse("10.00")
	debit := rate.Mul(h60)
	// 60/3600 truncates to 0.01666666 at 8 digits; 10 * 0.01666666 = 0.16666660
	if debit.String() != "0.16666660" {
		t.Errorf("debit for 60s at rate 10/hr = %s", debit.String())
	}
}

func TestMaxStreamingHours(t *testing.T) {
	approved := MustParse("100.00")
	rate := MustParse("10.00")
	maxHours := approved.Div(rate)
	if maxHours.String() != "10.00000000" {
		t.Errorf("100/10 = %s, want 10.00000000", maxHours.String())
	}
}

func TestCmpAndSign(t *testing.T) {
	a := MustParse("5.00")
	b := MustParse("5.00")
	if a.Cmp(b) != 0 {
		t.Error("expected equal amounts to compare equal")
	}
	if !Zero().IsZero() {
		t.Error("Zero() should be zero")
	}
	if MustParse("0.00000001").Sign() != 1 {
		t.Error("expected smallest unit to be positive")
	}
}
