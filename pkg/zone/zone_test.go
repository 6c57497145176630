package zone

import (
	"context"
	"testing"
	"time"
)

func TestResolveSameZoneIsDegenerateWithoutLookup(t *testing.T) {
	table := NewTable(nil)
	rate, loss, err := table.Resolve(context.Background(), "zone-a", "zone-a", time.Now())
	if err != nil {
		t.Fatalf("Resolve(same zone): %v", err)
	}
	if !rate.IsZero() || !loss.IsZero() {
		t.Fatalf("Resolve(same zone) = (%v, %v), want (0, 0)", rate, loss)
	}
}

func TestEnsureDegenerateRate(t *testing.T) {
	r := EnsureDegenerateRate("zone-a")
	if r.FromZone != "zone-a" || r.ToZone != "zone-a" {
		t.Fatalf("EnsureDegenerateRate corridor = %s -> %s, want zone-a -> zone-a", r.FromZone, r.ToZone)
	}
	if !r.WheelingRate.IsZero() || !r.LossFactor.IsZero() {
		t.Fatal("expected zero wheeling rate and loss factor")
	}
	if !r.IsActive {
		t.Fatal("expected degenerate rate to be active")
	}
}
