// Package srsproc supervises the SRS media-server binary itself as a
// child process — spawn, restart-with-backoff on crash, and signaled
// reload — the counterpart to internal/supervisor for FFmpeg units.
// original_source/components/restreamer/src/srs.rs spawns SRS exactly this
// way (a single long-lived child, restarted on exit) rather than assuming
// an externally-managed SRS instance; this package ports that behavior.
package srsproc

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mrecords121/ephyr/internal/backoff"
	"github.com/mrecords121/ephyr/internal/logging"
)

const componentName = "srsproc"

var log = logging.ForComponent(componentName)

// Server supervises one running SRS process, restarting it on crash with
// the same backoff law the FFmpeg supervisor uses.
type Server struct {
	binPath  string
	confPath string

	// argvFn is overridden in tests to avoid depending on a real SRS
	// binary; production code always leaves it nil and uses defaultArgv.
	argvFn func(binPath, confPath string) (string, []string)

	mu      sync.Mutex
	pid     int
	tracker *backoff.Tracker

	cancel context.CancelFunc
	done   chan struct{}
}

func defaultArgv(binPath, confPath string) (string, []string) {
	return binPath, []string{"-c", confPath}
}

// New returns a Server that will run binPath -c confPath once Run is
// called.
func New(binPath, confPath string) *Server {
	return &Server{
		binPath:  binPath,
		confPath: confPath,
		tracker:  backoff.NewTracker(backoff.FFmpegPolicy),
	}
}

// PID returns the current SRS process id, or 0 if it is not running. This
// is what internal/srsconf.Apply signals SIGHUP to after a config rewrite.
func (s *Server) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Run drives the supervision loop until ctx is canceled, blocking.
func (s *Server) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	defer close(s.done)

	for {
		if runCtx.Err() != nil {
			return
		}

		err := s.spawnAndWait(runCtx)
		if runCtx.Err() != nil {
			return
		}

		log.Warn("srs exited, entering cooldown", "err", err)
		delay := s.tracker.NextDelay()
		select {
		case <-time.After(delay):
		case <-runCtx.Done():
			return
		}
	}
}

// Stop requests the supervised process to exit and blocks until Run
// returns.
func (s *Server) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

func (s *Server) spawnAndWait(ctx context.Context) error {
	argv := s.argvFn
	if argv == nil {
		argv = defaultArgv
	}
	bin, args := argv(s.binPath, s.confPath)
	cmd := exec.Command(bin, args...)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start srs: %w", err)
	}
	s.mu.Lock()
	s.pid = cmd.Process.Pid
	s.mu.Unlock()
	s.tracker.MarkRunning()
	log.Info("srs running", "pid", cmd.Process.Pid, "bin", s.binPath)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err = <-waitErr:
		case <-time.After(3 * time.Second):
			_ = cmd.Process.Kill()
			err = <-waitErr
		}
	}

	s.mu.Lock()
	s.pid = 0
	s.mu.Unlock()
	s.tracker.MarkStopped()
	return err
}
