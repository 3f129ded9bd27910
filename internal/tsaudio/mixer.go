// Package tsaudio implements the TeamSpeak Audio Ingestor of §4.3: one
// connection per configured TeamSpeak mixin source, decoding each active
// talker's Opus frames, jitter-buffering them, and mixing all talkers on a
// 20ms tick into a single PCM stream an FFmpeg mixed-output unit reads from
// its stdin (see internal/supervisor).
//
// §9 leaves the wire sample format underspecified relative to
// original_source's f32be filter graph; this module follows spec.md's
// explicit "16-bit little-endian" choice (see DESIGN.md's Open Questions)
// and internal/supervisor's mixedOutputArgs reads stdin as s16le
// accordingly.
package tsaudio

import (
	"sync"

	"github.com/mrecords121/ephyr/internal/logging"
)

const componentName = "tsaudio"

var log = logging.ForComponent(componentName)

// SampleRate and Channels fix the PCM format every mixer tick emits,
// matching the -ar/-ac stdin input format that internal/supervisor's
// mixed-output command line declares.
const (
	SampleRate     = 48000
	Channels       = 2
	frameDuration  = 20 // ms
	samplesPerTick = SampleRate * frameDuration / 1000
)

// talkerBuffer holds one speaking client's jitter-buffered, decoded PCM
// samples awaiting the next mix tick.
type talkerBuffer struct {
	ring *ringBuffer
}

// Mixer accumulates decoded PCM from every active talker on a TeamSpeak
// channel and produces one interleaved stereo frame per 20ms tick.
type Mixer struct {
	mu      sync.Mutex
	talkers map[uint16]*talkerBuffer // clientID -> buffer
}

// NewMixer returns an empty Mixer.
func NewMixer() *Mixer {
	return &Mixer{talkers: make(map[uint16]*talkerBuffer)}
}

// Feed appends pcm (interleaved int16 samples, already decoded from Opus)
// for clientID's talker buffer, creating it if this is the first frame
// heard from that client.
func (m *Mixer) Feed(clientID uint16, pcm []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.talkers[clientID]
	if !ok {
		t = &talkerBuffer{ring: newRingBuffer(samplesPerTick * Channels * 8)}
		m.talkers[clientID] = t
	}
	t.ring.Write(pcm)
}

// DropTalker removes a client's buffer, e.g. when it leaves the channel.
func (m *Mixer) DropTalker(clientID uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.talkers, clientID)
}

// Tick produces one samplesPerTick*Channels-sample interleaved PCM frame,
// saturating-adding every talker's available samples and emitting silence
// for any talker that is currently behind (per §4.3's "talkers with no
// data for this tick contribute silence, never stall the mix").
func (m *Mixer) Tick() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int16, samplesPerTick*Channels)
	for _, t := range m.talkers {
		frame := t.ring.Read(len(out))
		for i, s := range frame {
			out[i] = saturatingAdd(out[i], s)
		}
	}
	return out
}

// saturatingAdd adds two int16 samples, clamping to the int16 range
// instead of wrapping, per §4.3.
func saturatingAdd(a, b int16) int16 {
	sum := int32(a) + int32(b)
	switch {
	case sum > 32767:
		return 32767
	case sum < -32768:
		return -32768
	default:
		return int16(sum)
	}
}

// ringBuffer is a small fixed-capacity PCM queue absorbing the jitter
// between TeamSpeak's UDP arrival and the mixer's fixed 20ms tick.
type ringBuffer struct {
	buf   []int16
	start int
	n     int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]int16, capacity)}
}

// Write appends samples, dropping the oldest data first if the buffer
// would overflow (bounded jitter absorption, never unbounded growth).
func (r *ringBuffer) Write(samples []int16) {
	for _, s := range samples {
		if r.n == len(r.buf) {
			r.start = (r.start + 1) % len(r.buf)
			r.n--
		}
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
	}
}

// Read removes and returns up to n samples, zero-padding with silence if
// fewer than n are available.
func (r *ringBuffer) Read(n int) []int16 {
	out := make([]int16, n)
	take := n
	if take > r.n {
		take = r.n
	}
	for i := 0; i < take; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	r.start = (r.start + take) % len(r.buf)
	r.n -= take
	return out
}
