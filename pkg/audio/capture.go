// Package audio provides microphone capture, speaker playback and opus
// encoding for voice sessions.
package audio

import (
	"io"
	"sync"

	"github.com/gen2brain/malgo"

	core "github.com/voxa-go/voxa/pkg/core"
)

// Default PCM format for the socket transport: 24kHz mono s16le.
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
)

// Mic captures PCM16 from the default input device. It implements
// io.ReadCloser; Read blocks until samples arrive.
type Mic struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

// NewMic opens and starts the default capture device. A refused or missing
// device surfaces as a permission error.
func NewMic(sampleRate, channels int) (*Mic, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, core.NewPermissionError("initialize audio context", err)
	}

	m := &Mic{ctx: mctx, buf: make([]byte, 0, sampleRate*2)}
	m.cond = sync.NewCond(&m.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.mu.Lock()
			if !m.closed {
				m.buf = append(m.buf, pInputSamples...)
			}
			m.mu.Unlock()
			m.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		mctx.Uninit()
		return nil, core.NewPermissionError("open microphone", err)
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, core.NewPermissionError("start microphone", err)
	}

	return m, nil
}

// Read blocks until captured samples are available, then copies them into p.
// Returns io.EOF once the mic is closed and drained.
func (m *Mic) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.buf) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.buf) == 0 {
		return 0, io.EOF
	}

	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

// Close stops the device and wakes any blocked Read. Idempotent.
func (m *Mic) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	if m.device != nil {
		m.device.Stop()
		m.device.Uninit()
	}
	if m.ctx != nil {
		m.ctx.Uninit()
	}
	return nil
}
