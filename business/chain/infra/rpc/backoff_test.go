package rpc

import (
	"testing"
	"time"
)

func TestReconnectPolicy_DoublesUpToMax(t *testing.T) {
	p := newReconnectPolicy(100*time.Millisecond, time.Second)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := p.Next(); got != w {
			t.Errorf("delay[%d] = %s, want %s", i, got, w)
		}
	}
}

func TestReconnectPolicy_NonDecreasingAndBounded(t *testing.T) {
	const max = 10 * time.Second
	p := newReconnectPolicy(100*time.Millisecond, max)

	prev := time.Duration(0)
	for i := 0; i < 50; i++ {
		d := p.Next()
		if d < prev {
			t.Fatalf("delay[%d] = %s decreased from %s", i, d, prev)
		}
		if d > max {
			t.Fatalf("delay[%d] = %s exceeds max %s", i, d, max)
		}
		prev = d
	}
}

func TestReconnectPolicy_Reset(t *testing.T) {
	p := newReconnectPolicy(50*time.Millisecond, time.Second)
	p.Next()
	p.Next()
	p.Next()

	p.Reset()
	if got := p.Next(); got != 50*time.Millisecond {
		t.Errorf("delay after reset = %s, want 50ms", got)
	}
}
