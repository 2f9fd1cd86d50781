package audio

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	core "github.com/voxa-go/voxa/pkg/core"
)

// opusSampleRate is the clock rate opus granule positions count in,
// regardless of the input sample rate.
const opusSampleRate = 48000

// FFmpegOpusCapture encodes a PCM16 stream to opus through an ffmpeg child
// process and yields the encoded pages as uplink frames.
type FFmpegOpusCapture struct {
	src io.ReadCloser
	cmd *exec.Cmd
	ogg *oggreader.OggReader

	lastGranule uint64

	mu     sync.Mutex
	closed bool
}

// NewFFmpegOpusCapture starts ffmpeg encoding src (s16le at the given rate
// and channel count) to 20ms opus pages.
func NewFFmpegOpusCapture(src io.ReadCloser, sampleRate, channels int) (*FFmpegOpusCapture, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, core.NewConfigurationError("ffmpeg not found in PATH")
	}

	cmd := exec.Command(path,
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
		"-c:a", "libopus",
		"-b:a", "48k",
		"-application", "voip",
		"-frame_duration", "20",
		"-page_duration", "20000",
		"-f", "ogg",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, core.NewTransportError("open encoder stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.NewTransportError("open encoder stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, core.NewTransportError("start ffmpeg", err)
	}

	go func() {
		io.Copy(stdin, src)
		stdin.Close()
	}()

	ogg, _, err := oggreader.NewWith(stdout)
	if err != nil {
		cmd.Process.Kill()
		return nil, core.NewTransportError("read ogg stream header", err)
	}

	return &FFmpegOpusCapture{src: src, cmd: cmd, ogg: ogg}, nil
}

// ReadFrame returns the next encoded page and its duration, derived from the
// granule position delta. Header pages carry no samples and are skipped.
func (c *FFmpegOpusCapture) ReadFrame() ([]byte, time.Duration, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, 0, io.EOF
		}
		c.mu.Unlock()

		pageData, pageHeader, err := c.ogg.ParseNextPage()
		if err != nil {
			return nil, 0, fmt.Errorf("parse ogg page: %w", err)
		}

		samples := pageHeader.GranulePosition - c.lastGranule
		c.lastGranule = pageHeader.GranulePosition
		if samples == 0 {
			continue
		}

		frame := make([]byte, len(pageData))
		copy(frame, pageData)
		return frame, time.Duration(samples) * time.Second / opusSampleRate, nil
	}
}

// Close stops the encoder and the underlying source. Idempotent.
func (c *FFmpegOpusCapture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.src.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.cmd.Wait()
	return nil
}
