package realtime

import (
	"math"
	"testing"
	"time"
)

func TestCalculateRMSEnergy(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{name: "empty", pcm: nil, want: 0},
		{name: "silence", pcm: make([]byte, 64), want: 0},
		{
			// Alternating full-scale samples give RMS close to 1.
			name: "full scale",
			pcm:  []byte{0xff, 0x7f, 0x01, 0x80, 0xff, 0x7f, 0x01, 0x80},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateRMSEnergy(tt.pcm)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("CalculateRMSEnergy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVolumeMeterPublishesAndStops(t *testing.T) {
	readings := make(chan float64, 64)
	m := NewVolumeMeter(func(v float64) { readings <- v })

	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		loud[i], loud[i+1] = 0xff, 0x7f
	}
	m.Push(loud)
	m.Start(5 * time.Millisecond)
	m.Start(5 * time.Millisecond) // restart is a no-op

	select {
	case v := <-readings:
		if v < 0.5 {
			t.Errorf("first reading = %v, want near full scale", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reading published")
	}

	m.Stop()
	m.Stop() // idempotent

	// Stop flushes a final zero so no residual volume lingers.
	deadline := time.After(time.Second)
	for {
		select {
		case v := <-readings:
			if v == 0 {
				return
			}
		case <-deadline:
			t.Fatal("zero flush not observed")
		}
	}
}

func TestVolumeMeterWindowDrainsPerTick(t *testing.T) {
	readings := make(chan float64, 64)
	m := NewVolumeMeter(func(v float64) { readings <- v })

	loud := []byte{0xff, 0x7f, 0xff, 0x7f}
	m.Push(loud)
	m.Start(5 * time.Millisecond)
	defer m.Stop()

	// First tick consumes the window; with no new pushes a later tick
	// reports silence.
	sawLoud, sawZero := false, false
	deadline := time.After(2 * time.Second)
	for !sawLoud || !sawZero {
		select {
		case v := <-readings:
			if v > 0.5 {
				sawLoud = true
			} else if sawLoud && v == 0 {
				sawZero = true
			}
		case <-deadline:
			t.Fatalf("sawLoud=%v sawZero=%v", sawLoud, sawZero)
		}
	}
}
