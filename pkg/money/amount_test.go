package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewRoundsToScale(t *testing.T) {
	a := New(decimal.RequireFromString("1.00000000012345"))
	if got, want := a.String(), "1.000000000"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestNewFromString(t *testing.T) {
	a, err := NewFromString("12.5")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	if got, want := a.String(), "12.500000000"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	if _, err := NewFromString("not-a-number"); err == nil {
		t.Fatal("expected error for malformed amount string")
	}
}

func TestArithmetic(t *testing.T) {
	a := NewFromFloat(10)
	b := NewFromFloat(3)

	if got, want := a.Add(b).String(), "13.000000000"; got != want {
		t.Fatalf("Add = %q, want %q", got, want)
	}
	if got, want := a.Sub(b).String(), "7.000000000"; got != want {
		t.Fatalf("Sub = %q, want %q", got, want)
	}
	if got, want := a.Mul(b).String(), "30.000000000"; got != want {
		t.Fatalf("Mul = %q, want %q", got, want)
	}
	if got, want := a.Neg().String(), "-10.000000000"; got != want {
		t.Fatalf("Neg = %q, want %q", got, want)
	}
}

func TestMulFrac(t *testing.T) {
	a := NewFromFloat(100)
	feeRate := decimal.RequireFromString("0.025")
	if got, want := a.MulFrac(feeRate).String(), "2.500000000"; got != want {
		t.Fatalf("MulFrac = %q, want %q", got, want)
	}
}

func TestComparisons(t *testing.T) {
	a := NewFromFloat(1)
	b := NewFromFloat(2)

	if !a.LessThan(b) || !a.LessOrEqual(b) {
		t.Fatal("expected a < b")
	}
	if !b.GreaterThan(a) || !b.GreaterOrEqual(a) {
		t.Fatal("expected b > a")
	}
	if a.Cmp(a) != 0 {
		t.Fatal("expected a.Cmp(a) == 0")
	}
	if !Zero.IsZero() {
		t.Fatal("expected Zero.IsZero()")
	}
	if !a.IsPositive() {
		t.Fatal("expected a.IsPositive()")
	}
	if !a.Neg().IsNegative() {
		t.Fatal("expected a.Neg().IsNegative()")
	}
}

func TestMin(t *testing.T) {
	a := NewFromFloat(5)
	b := NewFromFloat(9)
	if got := Min(a, b); got.Cmp(a) != 0 {
		t.Fatalf("Min(5, 9) = %v, want 5", got)
	}
	if got := Min(b, a); got.Cmp(a) != 0 {
		t.Fatalf("Min(9, 5) = %v, want 5", got)
	}
}

func TestValueAndScan(t *testing.T) {
	a := NewFromFloat(42.5)
	v, err := a.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var scanned Amount
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan from Value(): %v", err)
	}
	if scanned.Cmp(a) != 0 {
		t.Fatalf("round-tripped %v, want %v", scanned, a)
	}

	if err := scanned.Scan([]byte("7.1")); err != nil {
		t.Fatalf("Scan from []byte: %v", err)
	}
	if got, want := scanned.String(), "7.100000000"; got != want {
		t.Fatalf("Scan from []byte = %q, want %q", got, want)
	}

	if err := scanned.Scan(nil); err != nil {
		t.Fatalf("Scan from nil: %v", err)
	}
	if !scanned.IsZero() {
		t.Fatal("expected Scan(nil) to zero the amount")
	}

	if err := scanned.Scan(3.5); err != nil {
		t.Fatalf("Scan from float64: %v", err)
	}
	if got, want := scanned.String(), "3.500000000"; got != want {
		t.Fatalf("Scan from float64 = %q, want %q", got, want)
	}

	if err := scanned.Scan(42); err == nil {
		t.Fatal("expected error scanning unsupported type")
	}
}
