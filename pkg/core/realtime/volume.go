package realtime

import (
	"math"
	"sync"
	"time"
)

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// VolumeMeter estimates the loudness of the inbound assistant audio. Decoded
// PCM is pushed as it arrives; a fixed-interval timer publishes the RMS of
// the audio accumulated since the previous tick.
type VolumeMeter struct {
	mu     sync.Mutex
	window []byte
	ticker *time.Ticker
	done   chan struct{}

	publish func(float64)
}

// NewVolumeMeter creates a meter publishing through fn.
func NewVolumeMeter(fn func(float64)) *VolumeMeter {
	return &VolumeMeter{publish: fn}
}

// Push appends decoded PCM to the current sampling window.
func (m *VolumeMeter) Push(pcm []byte) {
	m.mu.Lock()
	m.window = append(m.window, pcm...)
	m.mu.Unlock()
}

// Write implements PCMWriter so the meter can tap the playback stream.
func (m *VolumeMeter) Write(pcm []byte) { m.Push(pcm) }

// Start begins periodic sampling. Restarting a running meter is a no-op.
func (m *VolumeMeter) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker != nil {
		return
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	m.ticker = time.NewTicker(interval)
	m.done = make(chan struct{})

	go func(ticker *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}(m.ticker, m.done)
}

func (m *VolumeMeter) sample() {
	m.mu.Lock()
	window := m.window
	m.window = nil
	m.mu.Unlock()

	if m.publish != nil {
		m.publish(CalculateRMSEnergy(window))
	}
}

// Stop cancels the sampling timer and publishes a final zero so torn-down
// sessions never report residual volume. Idempotent.
func (m *VolumeMeter) Stop() {
	m.mu.Lock()
	if m.ticker == nil {
		m.mu.Unlock()
		return
	}
	m.ticker.Stop()
	close(m.done)
	m.ticker = nil
	m.done = nil
	m.window = nil
	m.mu.Unlock()

	if m.publish != nil {
		m.publish(0)
	}
}
