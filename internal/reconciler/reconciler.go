// Package reconciler implements the central control loop of §4.7: on every
// new State revision published by internal/bus, it derives the desired set
// of supervised FFmpeg units and the desired SRS vhost configuration, and
// applies both, preferring a ZMQ tune over a restart wherever
// supervisor.Spec.NeedsRestart allows it.
package reconciler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mrecords121/ephyr/internal/bus"
	"github.com/mrecords121/ephyr/internal/logging"
	"github.com/mrecords121/ephyr/internal/metrics"
	"github.com/mrecords121/ephyr/internal/srsconf"
	"github.com/mrecords121/ephyr/internal/state"
	"github.com/mrecords121/ephyr/internal/supervisor"
)

const componentName = "reconciler"

var log = logging.ForComponent(componentName)

// Config carries the deployment-fixed inputs the reconciler needs beyond
// the State tree itself: where ffmpeg lives, where SRS listens, and where
// the callback handler is reachable from SRS's http_hooks.
type Config struct {
	FFmpegPath  string
	SRSHost     string // host:port SRS's RTMP listener accepts pushes/pulls from
	SRSHTTPDir  string
	CallbackURL string
	SRSPID      func() int
}

// StatusSetter is the subset of *state.Store the Reconciler needs to
// propagate Output liveness back into State. It is an interface so tests
// can substitute a fake store, mirroring internal/callback.StatusSetter.
type StatusSetter interface {
	Apply(state.Mutation) (*state.State, error)
}

// Reconciler drives the Pool and the SRS config Writer from a Bus of
// *state.State snapshots.
type Reconciler struct {
	cfg Config

	// ffmpegPath overrides cfg.FFmpegPath once set; it exists separately
	// so SetFFmpegPath (called from internal/srswatch's callback goroutine
	// when the ffmpeg_path binary changes on disk) never races the
	// converge loop's reads of the rest of cfg, which is otherwise
	// immutable after New.
	ffmpegPath atomic.Value // string

	bus     *bus.Bus[*state.State]
	pool    *supervisor.Pool
	srsconf *srsconf.Writer
	store   StatusSetter
	metrics *metrics.ReconcilerMetrics

	statusMu   sync.Mutex
	lastStatus map[uuid.UUID]state.Status // unit id -> last status pushed to store
}

// New returns a Reconciler that will converge pool and srs whenever b
// publishes a new revision, and that propagates every supervised
// Output's running phase back into store as its live Status (§4.4). m
// may be nil, in which case no metrics are recorded.
func New(cfg Config, b *bus.Bus[*state.State], pool *supervisor.Pool, srs *srsconf.Writer, store StatusSetter, m *metrics.ReconcilerMetrics) *Reconciler {
	r := &Reconciler{cfg: cfg, bus: b, pool: pool, srsconf: srs, store: store, metrics: m, lastStatus: make(map[uuid.UUID]state.Status)}
	r.ffmpegPath.Store(cfg.FFmpegPath)
	return r
}

// SetFFmpegPath overrides the ffmpeg binary path used by every spec built
// from the next converge onward, without requiring a new Reconciler.
func (r *Reconciler) SetFFmpegPath(path string) {
	r.ffmpegPath.Store(path)
}

func (r *Reconciler) ffmpegPathOrDefault() string {
	if v, ok := r.ffmpegPath.Load().(string); ok && v != "" {
		return v
	}
	return r.cfg.FFmpegPath
}

// Run subscribes to the bus and converges on every new revision until ctx
// is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	sub := r.bus.Subscribe()
	defer sub.Close()

	for {
		snapshot, err := sub.Next(ctx)
		if err != nil {
			return
		}
		r.converge(ctx, snapshot)
	}
}

// converge applies one State snapshot to the supervised unit pool and the
// SRS config.
func (r *Reconciler) converge(ctx context.Context, s *state.State) {
	start := time.Now()
	failed := false
	defer func() {
		if r.metrics == nil {
			return
		}
		r.metrics.Runs.Inc()
		r.metrics.Duration.Observe(time.Since(start).Seconds())
		if failed {
			r.metrics.Errors.Inc()
		}
	}()

	specs := r.buildSpecs(s)
	if r.metrics != nil {
		r.metrics.UnitsDesired.Set(float64(len(specs)))
	}
	started := r.pool.Apply(ctx, specs)
	if len(started) > 0 {
		log.Info("started units", "count", len(started))
	}

	r.syncOutputStatuses(specs)

	cfg := r.buildSRSConfig(s)
	if err := r.srsconf.Apply(ctx, cfg, r.cfg.SRSPID()); err != nil {
		log.Error("srs config apply failed", "err", err)
		failed = true
	}
}

// buildSpecs derives the desired supervisor.Spec set from s, one per
// pulled Input endpoint and one per enabled Output (plain or mixed),
// skipping disabled restreams/inputs/outputs entirely (§4.7's "disabled
// means not supervised, not merely muted").
func (r *Reconciler) buildSpecs(s *state.State) []supervisor.Spec {
	var specs []supervisor.Spec
	for _, restream := range s.Restreams {
		specs = append(specs, r.inputSpecs(restream.Input, restream.Key)...)
		if !restream.Input.Enabled {
			continue
		}
		for _, out := range restream.Outputs {
			if !out.Enabled {
				continue
			}
			specs = append(specs, r.outputSpecs(restream, out)...)
		}
	}
	return specs
}

// inputSpecs recurses through a (possibly failover) Input tree, producing
// one KindPullInput spec per RemoteSrc endpoint, plus, for a Failover
// Input, the failover_publish_mirror unit of §4.7 item 1 that forwards
// whichever of the two children is currently live onto the parent's own
// externally-consumed endpoint. Endpoints backed by a pushed stream
// (Src == nil) have nothing for ffmpeg to pull and are skipped.
func (r *Reconciler) inputSpecs(in state.Input, restreamKey string) []supervisor.Spec {
	if !in.Enabled {
		return nil
	}
	var specs []supervisor.Spec
	switch src := in.Src.(type) {
	case state.RemoteSrc:
		for _, ep := range in.Endpoints {
			specs = append(specs, supervisor.Spec{
				UnitID:      ep.ID,
				Kind:        supervisor.KindPullInput,
				SourceURL:   src.URL,
				DestURL:     r.srsPushURL(restreamKey, ep.Key),
				FFmpegPath:  r.ffmpegPathOrDefault(),
				RestreamKey: restreamKey,
				EndpointKey: ep.Key,
			})
		}
	case state.FailoverSrc:
		for _, child := range src.Inputs {
			if child != nil {
				specs = append(specs, r.inputSpecs(*child, restreamKey)...)
			}
		}
		if mirror := r.failoverMirrorSpec(in, src, restreamKey); mirror != nil {
			specs = append(specs, *mirror)
		}
	}
	return specs
}

// failoverMirrorSpec derives the unit that forwards whichever of src's two
// children is currently Online onto in's own top-level RTMP endpoint,
// preferring main (Inputs[0]) over backup (Inputs[1]) per §8 scenario 2.
// It produces no spec at all while neither child is live, since there is
// nothing yet to mirror.
func (r *Reconciler) failoverMirrorSpec(in state.Input, src state.FailoverSrc, restreamKey string) *supervisor.Spec {
	sourceKey := liveRTMPEndpointKey(src.Inputs[0])
	if sourceKey == "" {
		sourceKey = liveRTMPEndpointKey(src.Inputs[1])
	}
	if sourceKey == "" {
		return nil
	}

	originKey := topRTMPEndpointKey(in)
	return &supervisor.Spec{
		UnitID:      in.ID,
		Kind:        supervisor.KindFailoverMirror,
		SourceURL:   r.srsURL(restreamKey, sourceKey),
		DestURL:     r.srsURL(restreamKey, originKey),
		FFmpegPath:  r.ffmpegPathOrDefault(),
		RestreamKey: restreamKey,
		EndpointKey: originKey,
	}
}

// topRTMPEndpointKey returns in's own RTMP endpoint key ("origin" by
// convention, see internal/state/apply.go's buildInput), falling back to
// the literal "origin" if none is present so callers never build a URL
// with an empty path segment.
func topRTMPEndpointKey(in state.Input) string {
	for _, ep := range in.Endpoints {
		if ep.Kind == state.EndpointRTMP {
			return ep.Key
		}
	}
	return "origin"
}

// liveRTMPEndpointKey returns child's RTMP endpoint key iff it is
// currently reporting Online, or "" otherwise (including a nil child).
func liveRTMPEndpointKey(child *state.Input) string {
	if child == nil {
		return ""
	}
	for _, ep := range child.Endpoints {
		if ep.Kind == state.EndpointRTMP && ep.Status == state.StatusOnline {
			return ep.Key
		}
	}
	return ""
}

// outputSpecs produces a KindOutput or KindMixedOutput spec for out,
// sourced from the SRS vhost this restream key publishes to, at the
// Restream's own top-level RTMP endpoint key.
func (r *Reconciler) outputSpecs(restream *state.Restream, out *state.Output) []supervisor.Spec {
	srcURL := r.srsURL(restream.Key, topRTMPEndpointKey(restream.Input))

	if len(out.Mixins) == 0 {
		return []supervisor.Spec{{
			UnitID:      out.ID,
			Kind:        supervisor.KindOutput,
			SourceURL:   srcURL,
			DestURL:     out.Dst,
			FFmpegPath:  r.ffmpegPathOrDefault(),
			RestreamKey: restream.Key,
			OutputID:    out.ID,
		}}
	}

	// §3 caps Mixins at MaxMixinsPerOutput, but the filter graph this
	// module builds (internal/supervisor.mixedOutputArgs) mixes exactly
	// one auxiliary track at a time; additional mixins beyond the first
	// are intentionally not wired into the graph yet (see DESIGN.md).
	mixin := out.Mixins[0]
	return []supervisor.Spec{{
		UnitID:      out.ID,
		Kind:        supervisor.KindMixedOutput,
		SourceURL:   srcURL,
		DestURL:     out.Dst,
		MixinVolume: out.Volume,
		Mixin: &supervisor.MixinSpec{
			ID:     mixin.ID,
			Src:    mixin.Src,
			Volume: mixin.Volume,
			Delay:  mixin.Delay,
		},
		FFmpegPath:  r.ffmpegPathOrDefault(),
		RestreamKey: restream.Key,
		OutputID:    out.ID,
	}}
}

// syncOutputStatuses propagates every supervised Output unit's current
// Phase into State as its live Status, per §4.4 ("Report Initializing
// while spawning... Online only after the callback handler confirms the
// downstream has accepted the flow"). Outputs pull from SRS as an RTMP
// player, so the confirmation §4.4 asks for is SRS itself accepting that
// pull connection; since the on_play hook (internal/callback) carries no
// way to attribute a given session back to one Output among possibly
// several pulling the same endpoint, this instead treats PhaseRunning -
// the process having started and stayed up past its first spawn - as the
// confirmation signal, which is the closest approximation the spec's own
// process-supervision contract makes available.
func (r *Reconciler) syncOutputStatuses(specs []supervisor.Spec) {
	phases := r.pool.Phases()
	for _, spec := range specs {
		if spec.Kind != supervisor.KindOutput && spec.Kind != supervisor.KindMixedOutput {
			continue
		}
		status := outputStatusForPhase(phases[spec.UnitID])
		if !r.shouldPushStatus(spec.UnitID, status) {
			continue
		}
		if _, err := r.store.Apply(state.SetOutputStatus(spec.RestreamKey, spec.OutputID, status)); err != nil {
			log.Warn("output status update failed", "output_id", spec.OutputID, "status", status, "err", err)
		}
	}
}

// shouldPushStatus reports whether status differs from the last value
// pushed for unitID, recording it as the new last value either way so a
// failed Apply above is not retried every converge pass.
func (r *Reconciler) shouldPushStatus(unitID uuid.UUID, status state.Status) bool {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if r.lastStatus[unitID] == status {
		return false
	}
	r.lastStatus[unitID] = status
	return true
}

// outputStatusForPhase maps a supervised unit's lifecycle Phase onto the
// Status an Output reports through the API.
func outputStatusForPhase(phase supervisor.Phase) state.Status {
	switch phase {
	case supervisor.PhaseRunning:
		return state.StatusOnline
	case supervisor.PhaseSpawning:
		return state.StatusInitializing
	default:
		return state.StatusOffline
	}
}

func (r *Reconciler) srsPushURL(restreamKey, endpointKey string) string {
	return r.srsURL(restreamKey, endpointKey)
}

// srsURL renders the RTMP URL for restreamKey/endpointKey on the
// supervised SRS instance, used both to push into and to pull from it.
func (r *Reconciler) srsURL(restreamKey, endpointKey string) string {
	return "rtmp://" + r.cfg.SRSHost + "/" + restreamKey + "/" + endpointKey
}

// buildSRSConfig derives the desired srsconf.Config from s: one vhost per
// restream key, HLS enabled when any HLS endpoint is present, and one DVR
// path per output whose Dst is a file:// destination, per §4.9's scoping of
// DVR rules to file outputs — rtmp://, icecast:// and srt:// outputs never
// get a DVR path rendered into the vhost config.
func (r *Reconciler) buildSRSConfig(s *state.State) srsconf.Config {
	cfg := srsconf.Config{
		RTMPPort:      1935,
		HTTPPort:      8000,
		HTTPAPIPort:   1985,
		CallbackURL:   r.cfg.CallbackURL,
		HTTPStaticDir: r.cfg.SRSHTTPDir,
	}

	for _, restream := range s.Restreams {
		vh := srsconf.VHost{Key: restream.Key}
		if hasHLSEndpoint(restream.Input) {
			vh.HLSEnabled = true
		}
		for _, out := range restream.Outputs {
			if !strings.HasPrefix(out.Dst, "file://") {
				continue
			}
			vh.DVRPaths = append(vh.DVRPaths, supervisor.RecordingPath(r.cfg.SRSHTTPDir, restream.Key, out.ID, 0))
		}
		cfg.VHosts = append(cfg.VHosts, vh)
	}
	return cfg
}

func hasHLSEndpoint(in state.Input) bool {
	for _, ep := range in.Endpoints {
		if ep.Kind == state.EndpointHLS {
			return true
		}
	}
	if fo, ok := in.Src.(state.FailoverSrc); ok {
		for _, child := range fo.Inputs {
			if child != nil && hasHLSEndpoint(*child) {
				return true
			}
		}
	}
	return false
}
