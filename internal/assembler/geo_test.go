package assembler

import (
	"math"
	"testing"
)

func TestHaversineLagosLondon(t *testing.T) {
	// Lagos (6.45, 3.40) to London (51.50, -0.12) is just over 5000 km
	// along the great circle.
	got := haversineKM(6.45, 3.40, 51.50, -0.12)
	if math.Abs(got-5020) > 25 {
		t.Errorf("Lagos-London: got %.1f km, want ~5020 km", got)
	}
}

func TestHaversineZeroDistance(t *testing.T) {
	if d := haversineKM(40.0, -74.0, 40.0, -74.0); d != 0 {
		t.Errorf("same point: got %f, want 0", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	ab := haversineKM(6.45, 3.40, 51.50, -0.12)
	ba := haversineKM(51.50, -0.12, 6.45, 3.40)
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", ab, ba)
	}
}

func TestHaversineAntimeridian(t *testing.T) {
	// Points straddling the date line must measure the short way round.
	got := haversineKM(0, 179.5, 0, -179.5)
	if got > 200 {
		t.Errorf("antimeridian crossing: got %.1f km, want ~111 km", got)
	}
}
