package epoch

import (
	"testing"
	"time"

	"github.com/gridtokenx/apigateway-core/pkg/database"
)

func TestStartTruncatesToQuarterHour(t *testing.T) {
	in := time.Date(2026, 3, 5, 14, 37, 12, 0, time.UTC)
	want := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	if got := Start(in); !got.Equal(want) {
		t.Fatalf("Start(%v) = %v, want %v", in, got, want)
	}
}

func TestEndIsStartPlusDuration(t *testing.T) {
	in := time.Date(2026, 3, 5, 14, 37, 12, 0, time.UTC)
	want := Start(in).Add(Duration)
	if got := End(in); !got.Equal(want) {
		t.Fatalf("End(%v) = %v, want %v", in, got, want)
	}
}

func TestNumberIsDeterministicAndMonotonic(t *testing.T) {
	a := Start(time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC))
	b := Start(time.Date(2026, 3, 5, 14, 45, 0, 0, time.UTC))

	na, nb := Number(a), Number(b)
	if nb <= na {
		t.Fatalf("expected Number to increase across consecutive epochs, got %d then %d", na, nb)
	}
	if got := Number(a); got != na {
		t.Fatalf("Number is not deterministic: got %d, want %d", got, na)
	}
}

func TestMonotonicAdvance(t *testing.T) {
	cases := []struct {
		from, to database.EpochStatus
		want     bool
	}{
		{database.EpochPending, database.EpochActive, true},
		{database.EpochActive, database.EpochCleared, true},
		{database.EpochCleared, database.EpochSettled, true},
		{database.EpochActive, database.EpochPending, false},
		{database.EpochSettled, database.EpochActive, false},
		{database.EpochPending, database.EpochPending, false},
	}
	for _, tc := range cases {
		if got := monotonicAdvance(tc.from, tc.to); got != tc.want {
			t.Errorf("monotonicAdvance(%v, %v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusForNeverRegressesClearedOrSettled(t *testing.T) {
	e := &database.Epoch{Status: database.EpochCleared, End: time.Now().Add(time.Hour)}
	if got := statusFor(time.Now(), e); got != database.EpochCleared {
		t.Fatalf("statusFor(cleared) = %v, want cleared even though wall-clock is still within window", got)
	}

	e2 := &database.Epoch{Status: database.EpochPending, End: time.Now().Add(time.Hour)}
	if got := statusFor(time.Now(), e2); got != database.EpochActive {
		t.Fatalf("statusFor(pending, not yet ended) = %v, want active", got)
	}

	e3 := &database.Epoch{Status: database.EpochActive, End: time.Now().Add(-time.Hour)}
	if got := statusFor(time.Now(), e3); got != database.EpochActive {
		t.Fatalf("statusFor(active, past end) = %v, want active (close is explicit, not implied)", got)
	}
}
