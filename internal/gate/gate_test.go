package gate

import (
	"sync"
	"testing"
)

func TestTryAcquireAndRelease(t *testing.T) {
	g := New(2, true)

	a1, acq1 := g.TryAcquire()
	a2, acq2 := g.TryAcquire()
	if !a1 || !acq1 || !a2 || !acq2 {
		t.Fatal("expected both acquisitions to succeed")
	}
	if g.Available() != 0 {
		t.Fatalf("Available() = %d, want 0", g.Available())
	}

	// Pool exhausted: shed.
	if admitted, _ := g.TryAcquire(); admitted {
		t.Error("expected shed with no permits available")
	}
	if g.ShedCount() != 1 {
		t.Errorf("ShedCount() = %d, want 1", g.ShedCount())
	}
	if g.ProcessedCount() != 2 {
		t.Errorf("ProcessedCount() = %d, want 2", g.ProcessedCount())
	}

	g.Release()
	if g.Available() != 1 {
		t.Errorf("Available() after release = %d, want 1", g.Available())
	}
	if admitted, _ := g.TryAcquire(); !admitted {
		t.Error("expected admission after a release")
	}
}

func TestZeroPermitsShedsEverything(t *testing.T) {
	g := New(0, true)
	for i := 0; i < 5; i++ {
		if admitted, acquired := g.TryAcquire(); admitted || acquired {
			t.Fatal("zero-permit gate must shed every request")
		}
	}
	if g.ShedCount() != 5 {
		t.Errorf("ShedCount() = %d, want 5", g.ShedCount())
	}
}

func TestDisabledGateAdmitsWithoutPermits(t *testing.T) {
	g := New(1, false)
	for i := 0; i < 10; i++ {
		admitted, acquired := g.TryAcquire()
		if !admitted {
			t.Fatal("disabled gate must admit everything")
		}
		if acquired {
			t.Fatal("disabled gate must not hand out permits")
		}
	}
	g.Release() // no-op
	if g.Utilization() != 0 {
		t.Errorf("Utilization() = %f, want 0", g.Utilization())
	}
}

func TestPermitConservation(t *testing.T) {
	const max = 8
	g := New(max, true)
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, acquired := g.TryAcquire(); acquired {
					if a := g.Available(); a < 0 || a > max {
						t.Errorf("Available() = %d out of [0,%d]", a, max)
					}
					g.Release()
				}
			}
		}()
	}
	wg.Wait()

	if a := g.Available(); a != max {
		t.Errorf("Available() after all releases = %d, want %d", a, max)
	}
}

func TestUtilization(t *testing.T) {
	g := New(4, true)
	g.TryAcquire()
	g.TryAcquire()
	if u := g.Utilization(); u != 0.5 {
		t.Errorf("Utilization() = %f, want 0.5", u)
	}
}
