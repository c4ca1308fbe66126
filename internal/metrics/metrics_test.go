package metrics

import (
	"testing"
	"time"
)

func TestEMAFirstObservationSeedsValue(t *testing.T) {
	e := NewEMA(0.1)
	e.Observe(100 * time.Millisecond)
	if e.Value() != 100*time.Millisecond {
		t.Fatalf("Value() = %v, want 100ms", e.Value())
	}
}

func TestEMASmoothsTowardNewSamples(t *testing.T) {
	e := NewEMA(0.1)
	e.Observe(100 * time.Millisecond)
	e.Observe(200 * time.Millisecond)
	// avg = 100*0.9 + 200*0.1 = 110ms
	got := e.Value()
	want := 110 * time.Millisecond
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Millisecond {
		t.Fatalf("Value() = %v, want ~%v", got, want)
	}
}

func TestMetricsRegistered(t *testing.T) {
	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected registered metric families")
	}
}
