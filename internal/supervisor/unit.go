package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/mrecords121/ephyr/internal/backoff"
	"github.com/mrecords121/ephyr/internal/errors"
	"github.com/mrecords121/ephyr/internal/logging"
	"github.com/mrecords121/ephyr/internal/metrics"
)

const componentName = "supervisor"

var log = logging.ForComponent(componentName)

// Phase is a supervised unit's position in the Stopped -> Spawning ->
// Running -> Cooldown state machine of §4.4.
type Phase string

const (
	PhaseStopped  Phase = "stopped"
	PhaseSpawning Phase = "spawning"
	PhaseRunning  Phase = "running"
	PhaseCooldown Phase = "cooldown"
)

// stderrTailCap bounds the stderr capture kept for diagnostics, mirroring
// the teacher's BoundedBuffer used for ffmpeg stderr in
// internal/myaudio/ffmpeg_input.go.
const stderrTailCap = 4096

// PCMSource supplies the stdin byte stream for a KindMixedOutput unit: the
// live-mixed TeamSpeak PCM feed from internal/tsaudio.
type PCMSource interface {
	io.Reader
}

// Unit supervises one running (or about-to-run, or cooling down) FFmpeg
// process for a single Spec. It is not safe for concurrent use from more
// than one goroutine besides the one driving Run.
type Unit struct {
	mu      sync.Mutex
	spec    Spec
	phase   Phase
	tracker *backoff.Tracker
	stderr  *boundedBuffer

	pcmSource PCMSource // only set for KindMixedOutput
	metrics   *metrics.SupervisorMetrics

	cancel context.CancelFunc
	done   chan struct{}
}

// NewUnit creates a Unit for spec. pcmSource is consulted only when
// spec.Kind == KindMixedOutput. m may be nil, in which case no metrics are
// recorded.
func NewUnit(spec Spec, pcmSource PCMSource, m *metrics.SupervisorMetrics) *Unit {
	u := &Unit{
		spec:      spec,
		phase:     PhaseStopped,
		tracker:   backoff.NewTracker(backoff.FFmpegPolicy),
		stderr:    newBoundedBuffer(stderrTailCap),
		pcmSource: pcmSource,
		metrics:   m,
	}
	if m != nil {
		m.UnitsByPhase.WithLabelValues(string(PhaseStopped)).Inc()
	}
	return u
}

// Spec returns the spec this unit currently runs.
func (u *Unit) Spec() Spec {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.spec
}

// Phase returns the unit's current lifecycle phase.
func (u *Unit) Phase() Phase {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase
}

func (u *Unit) setPhase(p Phase) {
	u.mu.Lock()
	prev := u.phase
	u.phase = p
	u.mu.Unlock()
	if u.metrics == nil || prev == p {
		return
	}
	u.metrics.UnitsByPhase.WithLabelValues(string(prev)).Dec()
	u.metrics.UnitsByPhase.WithLabelValues(string(p)).Inc()
}

// Run drives the unit's supervision loop until ctx is canceled or Stop is
// called. It never returns until the process has exited and backoff, if
// any, has been observed; callers typically run this in its own goroutine
// per supervised unit.
func (u *Unit) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.cancel = cancel
	u.done = make(chan struct{})
	u.mu.Unlock()
	defer close(u.done)

	for {
		if runCtx.Err() != nil {
			u.setPhase(PhaseStopped)
			return
		}

		u.setPhase(PhaseSpawning)
		runErr := u.spawnAndWait(runCtx)

		if runCtx.Err() != nil {
			u.setPhase(PhaseStopped)
			return
		}

		if runErr == nil {
			// Exited zero with no cancellation, still a crash for a
			// long-running unit: fall through to cooldown like any
			// other unexpected exit.
			runErr = fmt.Errorf("ffmpeg exited unexpectedly")
		}

		log.Warn("unit exited, entering cooldown",
			"unit_id", u.spec.UnitID, "kind", u.spec.Kind, "err", runErr,
			"stderr_tail", u.stderr.String())

		if u.metrics != nil {
			u.metrics.Crashes.Inc()
			u.metrics.CooldownTotal.WithLabelValues(string(u.spec.Kind)).Inc()
		}

		u.setPhase(PhaseCooldown)
		delay := u.tracker.NextDelay()
		select {
		case <-time.After(delay):
		case <-runCtx.Done():
			u.setPhase(PhaseStopped)
			return
		}
	}
}

// Stop requests the unit's goroutine to exit, terminating the running
// process (if any) via SIGTERM-then-SIGKILL, and blocks until Run has
// returned.
func (u *Unit) Stop() {
	u.mu.Lock()
	cancel := u.cancel
	done := u.done
	u.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// spawnAndWait starts the ffmpeg process described by u.spec, waits for it
// to exit or ctx to be canceled (in which case it performs the
// SIGTERM/3s-grace/SIGKILL shutdown sequence), and returns the process's
// exit error, if any.
func (u *Unit) spawnAndWait(ctx context.Context) error {
	argv := u.spec.CommandLine()
	if len(argv) == 0 {
		return errors.New(fmt.Errorf("unsupported unit kind %q", u.spec.Kind)).
			Category(errors.CategoryFatal).
			Component(componentName).
			Build()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	u.stderr.Reset()
	cmd.Stderr = u.stderr

	var stdinCloser io.Closer
	if u.spec.Kind == KindMixedOutput && u.pcmSource != nil {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
		stdinCloser = stdin
		go func() {
			defer stdin.Close()
			_, _ = io.Copy(stdin, u.pcmSource)
		}()
	}

	if u.metrics != nil {
		u.metrics.Spawns.Inc()
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	u.setPhase(PhaseRunning)
	u.tracker.MarkRunning()
	log.Info("unit running", "unit_id", u.spec.UnitID, "kind", u.spec.Kind, "pid", cmd.Process.Pid)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		u.tracker.MarkStopped()
		if stdinCloser != nil {
			_ = stdinCloser.Close()
		}
		return err
	case <-ctx.Done():
		u.terminate(cmd)
		err := <-waitErr
		u.tracker.MarkStopped()
		if stdinCloser != nil {
			_ = stdinCloser.Close()
		}
		return err
	}
}

// terminate implements §4.4's shutdown sequence: SIGTERM, then SIGKILL
// after a 3s grace period.
func (u *Unit) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(terminateSignal)
	grace := time.NewTimer(3 * time.Second)
	defer grace.Stop()

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-grace.C:
		_ = cmd.Process.Kill()
	}
}

// boundedBuffer keeps only the last cap bytes written to it, mirroring the
// teacher's BoundedBuffer used to tail ffmpeg stderr output for diagnostics.
type boundedBuffer struct {
	mu  sync.Mutex
	cap int
	buf bytes.Buffer
}

func newBoundedBuffer(cap int) *boundedBuffer {
	return &boundedBuffer{cap: cap}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if excess := b.buf.Len() - b.cap; excess > 0 {
		b.buf.Next(excess)
	}
	return len(p), nil
}

func (b *boundedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
