package backoff

import "testing"

func TestLinearDefaultIncrement(t *testing.T) {
	b := New(2)
	if v := b.Linear(); v != 4 {
		t.Fatalf("expected 4, got %v", v)
	}
	if v := b.Linear(); v != 6 {
		t.Fatalf("expected 6, got %v", v)
	}
}

func TestLinearOverrideIncrement(t *testing.T) {
	b := New(10, WithIncrement(2))
	if v := b.Linear(); v != 12 {
		t.Fatalf("expected 12, got %v", v)
	}
	if v := b.Linear(4); v != 16 {
		t.Fatalf("expected 16, got %v", v)
	}
}

func TestExponentialDefaultFactor(t *testing.T) {
	b := New(1)
	if v := b.Exponential(); v != 2 {
		t.Fatalf("expected 2, got %v", v)
	}
	if v := b.Exponential(); v != 4 {
		t.Fatalf("expected 4, got %v", v)
	}
}

func TestExponentialOverrideFactor(t *testing.T) {
	b := New(1, WithFactor(3))
	if v := b.Exponential(); v != 3 {
		t.Fatalf("expected 3, got %v", v)
	}
	if v := b.Exponential(1.5); v != 4.5 {
		t.Fatalf("expected 4.5, got %v", v)
	}
}

func TestLinearSaturatesAtMax(t *testing.T) {
	b := New(1, WithMax(2))
	if v := b.Linear(); v != 2 {
		t.Fatalf("expected 2, got %v", v)
	}
	if v := b.Linear(); v != 2 {
		t.Fatalf("expected to stay saturated at 2, got %v", v)
	}
}

func TestExponentialSaturatesAtMax(t *testing.T) {
	b := New(2, WithMax(5))
	if v := b.Exponential(); v != 4 {
		t.Fatalf("expected 4, got %v", v)
	}
	if v := b.Exponential(); v != 5 {
		t.Fatalf("expected to saturate at 5, got %v", v)
	}
}

func TestExponentialMonotonicAndBounded(t *testing.T) {
	b := New(0.1, WithMax(2))
	prev := b.Value
	for i := 0; i < 50; i++ {
		v := b.Exponential(1.5)
		if v < prev {
			t.Fatalf("sequence decreased: %v -> %v", prev, v)
		}
		if v > 2 {
			t.Fatalf("sequence exceeded max: %v", v)
		}
		prev = v
	}
}
