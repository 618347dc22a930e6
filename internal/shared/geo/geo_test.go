package geo

import "testing"

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
	if d := HaversineKm(37.9, -122.6, 37.9, -122.6); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestValidPoint(t *testing.T) {
	if !ValidPoint(-6.2, 106.816) {
		t.Fatalf("expected valid point")
	}
	if ValidPoint(91, 0) || ValidPoint(0, -181) {
		t.Fatalf("expected out of range points to be rejected")
	}
}
