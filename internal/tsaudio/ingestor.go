package tsaudio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/mrecords121/ephyr/internal/backoff"
)

// Frame is one still-encoded Opus packet from a single talker, as
// delivered on the channel a Transport's Connect returns; the Ingestor
// decodes it.
type Frame struct {
	ClientID uint16
	Opus     []byte
	// Last is set on the final, possibly short, frame of a talker's
	// utterance. After decoding it the Ingestor discards that talker's
	// decoder and mixer buffer, including any samples not yet mixed.
	Last bool
}

// Transport is the TeamSpeak voice connection an Ingestor drives. It is a
// seam, not a library wrapper: the TS3 UDP voice protocol itself (session
// negotiation, keepalives, codec capability exchange) is out of scope here
// (see DESIGN.md) and left to whatever concrete Transport the caller wires
// in; this package owns only decode, jitter-buffering and mixing.
type Transport interface {
	// Connect establishes the session against addr (a ts://host:port/channel
	// URL, per §3's Mixin.src grammar) and returns a channel of incoming
	// voice frames, closed when the session ends for any reason.
	Connect(ctx context.Context, addr *url.URL) (<-chan Frame, error)
	Close() error
}

// Ingestor owns one Transport connection plus the per-talker Opus decoders
// feeding a Mixer, and exposes the mixed output as an io.Reader consumed
// by internal/supervisor as an FFmpeg mixed-output unit's stdin.
type Ingestor struct {
	addr      *url.URL
	transport Transport
	mixer     *Mixer

	mu       sync.Mutex
	decoders map[uint16]*opus.Decoder

	tracker *backoff.Tracker

	pcmOut chan []int16
}

// New returns an Ingestor that will dial addr over transport once Run
// starts.
func New(addr *url.URL, transport Transport) *Ingestor {
	return &Ingestor{
		addr:      addr,
		transport: transport,
		mixer:     NewMixer(),
		decoders:  make(map[uint16]*opus.Decoder),
		tracker:   backoff.NewTracker(backoff.TeamSpeakPolicy),
		pcmOut:    make(chan []int16, 4),
	}
}

// Run drives the connect/decode/mix/reconnect loop until ctx is canceled,
// per §4.3's reconnect-with-backoff lifecycle.
func (ing *Ingestor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		frames, err := ing.transport.Connect(ctx, ing.addr)
		if err != nil {
			log.Warn("teamspeak connect failed", "addr", ing.addr.Redacted(), "err", err)
			ing.sleepBackoff(ctx)
			continue
		}

		ing.tracker.MarkRunning()
		connectedAt := time.Now()
		ing.consume(ctx, frames)
		ing.tracker.MarkStopped()

		if ctx.Err() != nil {
			return
		}
		log.Warn("teamspeak session ended", "addr", ing.addr.Redacted(), "uptime", time.Since(connectedAt))
		ing.sleepBackoff(ctx)
	}
}

func (ing *Ingestor) sleepBackoff(ctx context.Context) {
	select {
	case <-time.After(ing.tracker.NextDelay()):
	case <-ctx.Done():
	}
}

// consume decodes every incoming frame and feeds the Mixer, running its
// own 20ms ticker that publishes mixed PCM to pcmOut, until frames closes.
func (ing *Ingestor) consume(ctx context.Context, frames <-chan Frame) {
	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go ing.tick(tickCtx)

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			ing.decode(f)
		case <-ctx.Done():
			return
		}
	}
}

func (ing *Ingestor) decode(f Frame) {
	ing.mu.Lock()
	dec, ok := ing.decoders[f.ClientID]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(SampleRate, Channels)
		if err != nil {
			ing.mu.Unlock()
			log.Warn("opus decoder init failed", "client_id", f.ClientID, "err", err)
			return
		}
		ing.decoders[f.ClientID] = dec
	}
	ing.mu.Unlock()

	pcm := make([]int16, samplesPerTick*Channels)
	n, err := dec.Decode(f.Opus, pcm)
	if err != nil {
		log.Warn("opus decode failed", "client_id", f.ClientID, "err", err)
		return
	}
	ing.mixer.Feed(f.ClientID, pcm[:n*Channels])

	if f.Last {
		ing.mu.Lock()
		delete(ing.decoders, f.ClientID)
		ing.mu.Unlock()
		ing.mixer.DropTalker(f.ClientID)
	}
}

func (ing *Ingestor) tick(ctx context.Context) {
	ticker := time.NewTicker(frameDuration * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			frame := ing.mixer.Tick()
			select {
			case ing.pcmOut <- frame:
			default:
				// Consumer (the FFmpeg stdin copier) is behind; drop this
				// tick rather than block the mixer and build unbounded
				// latency.
			}
		case <-ctx.Done():
			return
		}
	}
}

// Read implements io.Reader over the mixed PCM stream, encoding each
// emitted frame as little-endian int16 samples, the wire format
// internal/supervisor's mixed-output command line declares on stdin.
func (ing *Ingestor) Read(p []byte) (int, error) {
	frame, ok := <-ing.pcmOut
	if !ok {
		return 0, io.EOF
	}
	need := len(frame) * 2
	if len(p) < need {
		return 0, fmt.Errorf("short read buffer: need %d bytes, have %d", need, len(p))
	}
	for i, s := range frame {
		p[2*i] = byte(uint16(s))
		p[2*i+1] = byte(uint16(s) >> 8)
	}
	return need, nil
}
