package normalize

import "testing"

func TestMapFloorsToPrecision(t *testing.T) {
	raw := map[string]float64{
		"happiness": 0.87654,
		"surprise":  0.09999,
	}
	got := Map(raw, 10)
	if got["happiness"] != 0.8 {
		t.Fatalf("happiness = %v, want 0.8", got["happiness"])
	}
	if got["surprise"] != 0.0 {
		t.Fatalf("surprise = %v, want 0.0", got["surprise"])
	}
	if raw["happiness"] != 0.87654 {
		t.Fatalf("input mutated: %v", raw["happiness"])
	}
}

func TestMapActivityPrecision(t *testing.T) {
	got := Map(map[string]float64{"talking": 0.123456}, 1000)
	if got["talking"] != 0.123 {
		t.Fatalf("talking = %v, want 0.123", got["talking"])
	}
}

func TestMapDefaultsOnBadPrecision(t *testing.T) {
	got := Map(map[string]float64{"x": 0.46}, 0)
	if got["x"] != 0.4 {
		t.Fatalf("x = %v, want 0.4", got["x"])
	}
}

func TestDetectorSuppressesUnchanged(t *testing.T) {
	d := NewDetector(10)

	first, changed := d.Observe(map[string]float64{"joy": 0.51})
	if !changed {
		t.Fatalf("first observation must always emit")
	}
	if first["joy"] != 0.5 {
		t.Fatalf("joy = %v, want 0.5", first["joy"])
	}

	// Sub-precision jitter rounds to the same mapping and is suppressed.
	if _, changed := d.Observe(map[string]float64{"joy": 0.54}); changed {
		t.Fatalf("jitter within rounding must not emit")
	}

	// Crossing a rounding boundary emits again.
	if _, changed := d.Observe(map[string]float64{"joy": 0.61}); !changed {
		t.Fatalf("boundary crossing must emit")
	}
}

func TestDetectorFieldwiseNotSum(t *testing.T) {
	d := NewDetector(10)
	d.Observe(map[string]float64{"a": 0.2, "b": 0.4})

	// Same total, different distribution: must still count as a change.
	if _, changed := d.Observe(map[string]float64{"a": 0.4, "b": 0.2}); !changed {
		t.Fatalf("distinct vectors with equal sums must emit")
	}
}

func TestDetectorKeySetChanges(t *testing.T) {
	d := NewDetector(10)
	d.Observe(map[string]float64{"a": 0.2})
	if _, changed := d.Observe(map[string]float64{"a": 0.2, "b": 0.0}); !changed {
		t.Fatalf("added key must emit")
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(10)
	d.Observe(map[string]float64{"a": 0.2})
	d.Reset()
	if _, changed := d.Observe(map[string]float64{"a": 0.2}); !changed {
		t.Fatalf("observation after reset must emit")
	}
}

func TestEqual(t *testing.T) {
	if !Equal(map[string]float64{"a": 1}, map[string]float64{"a": 1}) {
		t.Fatalf("identical maps must be equal")
	}
	if Equal(map[string]float64{"a": 1}, map[string]float64{"a": 2}) {
		t.Fatalf("different values must not be equal")
	}
	if Equal(map[string]float64{"a": 1}, map[string]float64{"b": 1}) {
		t.Fatalf("different keys must not be equal")
	}
	if !Equal(nil, map[string]float64{}) {
		t.Fatalf("nil and empty must be equal")
	}
}
