// Package zmqctl implements the ZeroMQ Filter-Graph Control Channel of
// §4.6: a short-lived REQ socket per tunable command, dialing the azmq
// sink an FFmpeg unit exposes on 127.0.0.1, sending a single
// "<filter>@<label> <param> <value>" line and expecting the literal
// reply "OK".
//
// There is no pack example wiring a ZeroMQ client: go-zeromq/zmq4 is
// pulled in as the one real, pure-Go (no cgo/libzmq) ZMQ4 implementation
// available in the ecosystem, so the control channel stays dependency-light
// the way the rest of this module does (see SPEC_FULL.md's DOMAIN STACK).
package zmqctl

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/mrecords121/ephyr/internal/backoff"
	"github.com/mrecords121/ephyr/internal/errors"
	"github.com/mrecords121/ephyr/internal/logging"
)

const componentName = "zmqctl"

var log = logging.ForComponent(componentName)

// Sender issues tuning commands against a single unit's azmq sink.
type Sender struct {
	addr string

	// sendOnceFn is overridden in tests to avoid binding real sockets;
	// production code always leaves it nil and uses (*Sender).sendOnce.
	sendOnceFn func(ctx context.Context, cmd string) error
}

// New returns a Sender addressing the azmq sink bound on port.
func New(port uint16) *Sender {
	return &Sender{addr: fmt.Sprintf("tcp://127.0.0.1:%d", port)}
}

// volumeCommand renders the `volume@<label> volume <ratio>` command, where
// ratio is a 0.0..10.0 fraction as the ffmpeg volume filter expects (§4.6).
func volumeCommand(label string, ratio float64) string {
	return fmt.Sprintf("volume@%s volume %.3f", label, ratio)
}

// delayCommand renders the `adelay@<label> delays <ms>|<ms>` command.
func delayCommand(label string, delayMs uint32) string {
	return fmt.Sprintf("adelay@%s delays %d|%d", label, delayMs, delayMs)
}

// SetVolume sends volumeCommand(label, ratio).
func (s *Sender) SetVolume(ctx context.Context, label string, ratio float64) error {
	return s.send(ctx, volumeCommand(label, ratio))
}

// SetDelay sends delayCommand(label, delayMs).
func (s *Sender) SetDelay(ctx context.Context, label string, delayMs uint32) error {
	return s.send(ctx, delayCommand(label, delayMs))
}

// send dials a fresh REQ socket, writes cmd and waits for the "OK" reply,
// retrying per backoff.ZMQPolicy (3 attempts, 200ms cap, no sustained-run
// reset needed since each call is one-shot). A failure here is logged as a
// warning and returned to the caller; per §4.6 it must never tear down the
// owning FFmpeg unit — that decision belongs to the caller.
func (s *Sender) send(ctx context.Context, cmd string) error {
	tracker := backoff.NewTracker(backoff.ZMQPolicy)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(tracker.NextDelay()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		sendOnce := s.sendOnceFn
		if sendOnce == nil {
			sendOnce = s.sendOnce
		}
		lastErr = sendOnce(ctx, cmd)
		if lastErr == nil {
			return nil
		}
		log.Warn("zmq command attempt failed", "addr", s.addr, "attempt", attempt+1, "err", lastErr)
	}

	return errors.New(lastErr).
		Category(errors.CategoryExternalUnavailable).
		Component(componentName).
		Context("addr", s.addr).
		Context("cmd", cmd).
		Build()
}

func (s *Sender) sendOnce(ctx context.Context, cmd string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	sock := zmq4.NewReq(dialCtx)
	defer sock.Close()

	if err := sock.Dial(s.addr); err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}

	if err := sock.Send(zmq4.NewMsgString(cmd)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	reply, err := sock.Recv()
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	if got := string(reply.Bytes()); got != "OK" {
		return fmt.Errorf("unexpected reply %q", got)
	}
	return nil
}
