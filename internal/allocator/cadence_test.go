package allocator

import "testing"

func TestCadence_FirstObservationHasNoEstimate(t *testing.T) {
	var c Cadence
	c.Observe(1_700_000_000)
	if c.Estimate() != 0 {
		t.Errorf("Estimate after one block = %f, want 0", c.Estimate())
	}
	if c.Known() {
		t.Error("cadence should be unknown after one block")
	}
}

func TestCadence_SecondObservationIsHalfTheGap(t *testing.T) {
	var c Cadence
	c.Observe(1_700_000_000)
	c.Observe(1_700_000_012)
	if c.Estimate() != 6 {
		t.Errorf("Estimate = %f, want 6", c.Estimate())
	}
	if !c.Known() {
		t.Error("cadence should be known after two blocks")
	}
}

func TestCadence_MovingAverage(t *testing.T) {
	var c Cadence
	timestamps := []int64{100, 112, 124, 130}
	for _, ts := range timestamps {
		c.Observe(ts)
	}
	// 0 -> (0+12)/2=6 -> (6+12)/2=9 -> (9+6)/2=7.5
	if c.Estimate() != 7.5 {
		t.Errorf("Estimate = %f, want 7.5", c.Estimate())
	}
}

func TestCadence_SameTimestampDecays(t *testing.T) {
	var c Cadence
	c.Observe(100)
	c.Observe(110)
	c.Observe(110)
	if c.Estimate() != 2.5 {
		t.Errorf("Estimate = %f, want 2.5", c.Estimate())
	}
}
