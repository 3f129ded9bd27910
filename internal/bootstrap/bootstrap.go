// Package bootstrap wires together the pieces every other internal
// package implements into the running process described in §4.10: it
// loads the persisted State, starts the HTTP/WebSocket API listener and
// the Reconciler, discovers the host's public IP for the SPA's
// "share link" rendering, and drains everything on a canceled context.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mrecords121/ephyr/internal/conf"
	"github.com/mrecords121/ephyr/internal/logging"
	"github.com/mrecords121/ephyr/internal/metrics"
	"github.com/mrecords121/ephyr/internal/reconciler"
	"github.com/mrecords121/ephyr/internal/srsconf"
	"github.com/mrecords121/ephyr/internal/srsproc"
	"github.com/mrecords121/ephyr/internal/srswatch"
	"github.com/mrecords121/ephyr/internal/state"
	"github.com/mrecords121/ephyr/internal/supervisor"
)

const componentName = "bootstrap"

var log = logging.ForComponent(componentName)

// App holds every long-lived component the process needs to start and
// stop as a unit.
type App struct {
	Settings   *conf.Settings
	Store      *state.Store
	Pool       *supervisor.Pool
	Reconciler *reconciler.Reconciler
	Metrics    *metrics.Metrics
	SRS        *srsproc.Server
	PublicIP   string

	watchers []*srswatch.Watcher
	srv      *http.Server
}

// Boot loads state and constructs every subsystem except the HTTP
// handler, returning a not-yet-running App: callers that need the Store
// to assemble their router (internal/api does) call SetHandler before
// Run.
func Boot(ctx context.Context, settings *conf.Settings) (*App, error) {
	store, err := state.Open(settings.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	ip, err := discoverPublicIP(ctx)
	if err != nil {
		log.Warn("public ip discovery failed, continuing without it", "err", err)
	}

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	pool := supervisor.New(ctx, nil, m.Supervisor, m.ZMQ)
	writer := srsconf.NewWriter(settings.SRSConfPath)
	srs := srsproc.New(settings.SRSBinPath, settings.SRSConfPath)

	rc := reconciler.New(reconciler.Config{
		FFmpegPath:  settings.FFmpegPath,
		SRSHost:     settings.SRSHost,
		SRSHTTPDir:  settings.SRSHTTPDir,
		CallbackURL: settings.CallbackURL,
		SRSPID:      srs.PID,
	}, store.Bus(), pool, writer, store, m.Reconciler)

	var watchers []*srswatch.Watcher
	if w, err := srswatch.New([]string{settings.FFmpegPath}, rc.SetFFmpegPath); err != nil {
		log.Warn("ffmpeg path watcher disabled", "err", err)
	} else {
		watchers = append(watchers, w)
	}
	if w, err := srswatch.New([]string{settings.SRSBinPath}, func(string) {
		log.Info("srs binary changed on disk, restarting", "path", settings.SRSBinPath)
		srs.Stop()
		go srs.Run(ctx)
	}); err != nil {
		log.Warn("srs binary watcher disabled", "err", err)
	} else {
		watchers = append(watchers, w)
	}

	return &App{
		Settings:   settings,
		Store:      store,
		Pool:       pool,
		Reconciler: rc,
		Metrics:    m,
		SRS:        srs,
		PublicIP:   ip,
		watchers:   watchers,
		srv:        &http.Server{Addr: settings.HTTPAddr},
	}, nil
}

// SetHandler assigns the HTTP handler Run will serve. It must be called
// before Run.
func (a *App) SetHandler(h http.Handler) {
	a.srv.Handler = h
}

// Run starts the HTTP listener and the Reconciler loop, blocking until ctx
// is canceled, then drains everything within settings.ShutdownGrace
// (the graceful-shutdown supplement of SPEC_FULL.md).
func (a *App) Run(ctx context.Context) error {
	go a.SRS.Run(ctx)
	go a.Reconciler.Run(ctx)
	for _, w := range a.watchers {
		go w.Run(ctx)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.srv.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		return a.shutdown()
	}
}

func (a *App) shutdown() error {
	log.Info("shutting down", "grace", a.Settings.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Settings.ShutdownGrace)
	defer cancel()

	err := a.srv.Shutdown(shutdownCtx)
	a.Pool.Shutdown()
	a.SRS.Stop()
	return err
}

// discoverPublicIP asks a handful of well-known plain-text IP echo
// services, taking the first that answers, with a short per-request
// timeout so a boot never hangs on network discovery.
func discoverPublicIP(ctx context.Context) (string, error) {
	endpoints := []string{
		"https://api.ipify.org",
		"https://ifconfig.me/ip",
	}

	client := &http.Client{Timeout: 3 * time.Second}
	var lastErr error
	for _, ep := range endpoints {
		reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep, nil)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		ip := net.ParseIP(trimNewline(string(body)))
		if ip == nil {
			lastErr = fmt.Errorf("%s returned a non-IP body", ep)
			continue
		}
		return ip.String(), nil
	}
	return "", lastErr
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
