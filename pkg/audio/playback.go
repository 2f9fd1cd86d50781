package audio

import (
	"sync"

	"github.com/ebitengine/oto/v3"

	core "github.com/voxa-go/voxa/pkg/core"
)

// Speaker plays PCM16 through the default output device. Write never blocks;
// oto pulls from the internal buffer via Read.
type Speaker struct {
	otoCtx *oto.Context
	player *oto.Player

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool
}

// NewSpeaker opens the default output device.
func NewSpeaker(sampleRate, channels int) (*Speaker, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}

	// 100ms buffer keeps latency low without glitching.
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   sampleRate * channels * 2 / 10,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, core.NewPermissionError("open speaker", err)
	}
	<-ready

	s := &Speaker{
		otoCtx: otoCtx,
		buf:    make([]byte, 0, sampleRate*4),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write queues decoded PCM for playback. The player starts lazily on the
// first write.
func (s *Speaker) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.buf = append(s.buf, data...)

	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}

	s.cond.Signal()
}

// Read implements io.Reader for the oto player, pulling queued PCM.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed && len(s.buf) == 0 {
		// Silence lets oto drain without underrun noise.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards all queued audio and stops the current player so the next
// write starts fresh. Used when the user interrupts the assistant.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]

	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.mu.Unlock()

		player.Pause()
		player.Reset()
		player.Close()
		return
	}
	s.mu.Unlock()
}

// Close wakes any blocked Read and releases the player. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}
