package reconciler

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrecords121/ephyr/internal/state"
	"github.com/mrecords121/ephyr/internal/supervisor"
)

func testReconciler() *Reconciler {
	return &Reconciler{
		cfg:        Config{FFmpegPath: "ffmpeg", SRSHost: "127.0.0.1:1935"},
		lastStatus: make(map[uuid.UUID]state.Status),
	}
}

func TestInputSpecsSkipsDisabledInput(t *testing.T) {
	r := testReconciler()
	in := state.Input{
		Enabled: false,
		Src:     state.RemoteSrc{URL: "rtmp://origin/live"},
		Endpoints: []*state.InputEndpoint{{ID: state.NewID(), Kind: state.EndpointRTMP, Key: "live"}},
	}
	assert.Empty(t, r.inputSpecs(in, "live"))
}

func TestInputSpecsProducesOneSpecPerEndpoint(t *testing.T) {
	r := testReconciler()
	in := state.Input{
		Enabled: true,
		Src:     state.RemoteSrc{URL: "rtmp://origin/live"},
		Endpoints: []*state.InputEndpoint{{ID: state.NewID(), Kind: state.EndpointRTMP, Key: "live"}},
	}
	specs := r.inputSpecs(in, "live")
	require.Len(t, specs, 1)
	assert.Equal(t, supervisor.KindPullInput, specs[0].Kind)
	assert.Equal(t, "rtmp://origin/live", specs[0].SourceURL)
}

func TestInputSpecsRecursesThroughFailover(t *testing.T) {
	r := testReconciler()
	in := state.Input{
		Enabled: true,
		Src: state.FailoverSrc{Inputs: [2]*state.Input{
			{Enabled: true, Src: state.RemoteSrc{URL: "rtmp://a"}, Endpoints: []*state.InputEndpoint{{ID: state.NewID(), Key: "main"}}},
			{Enabled: true, Src: state.RemoteSrc{URL: "rtmp://b"}, Endpoints: []*state.InputEndpoint{{ID: state.NewID(), Key: "backup"}}},
		}},
	}
	specs := r.inputSpecs(in, "live")
	// two pull-input units; neither child is Online yet, so no mirror.
	assert.Len(t, specs, 2)
}

func TestInputSpecsOmitsFailoverMirrorWhenNeitherChildIsLive(t *testing.T) {
	r := testReconciler()
	in := state.Input{
		ID:      state.NewID(),
		Enabled: true,
		Endpoints: []*state.InputEndpoint{{ID: state.NewID(), Kind: state.EndpointRTMP, Key: "origin"}},
		Src: state.FailoverSrc{Inputs: [2]*state.Input{
			{Enabled: true, Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "main", Status: state.StatusOffline}}},
			{Enabled: true, Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "backup", Status: state.StatusOffline}}},
		}},
	}
	for _, spec := range r.inputSpecs(in, "fo") {
		assert.NotEqual(t, supervisor.KindFailoverMirror, spec.Kind)
	}
}

func TestInputSpecsMirrorsMainOverBackupWhenBothLive(t *testing.T) {
	r := testReconciler()
	in := state.Input{
		ID:      state.NewID(),
		Enabled: true,
		Endpoints: []*state.InputEndpoint{{ID: state.NewID(), Kind: state.EndpointRTMP, Key: "origin"}},
		Src: state.FailoverSrc{Inputs: [2]*state.Input{
			{Enabled: true, Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "main", Status: state.StatusOnline}}},
			{Enabled: true, Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "backup", Status: state.StatusOnline}}},
		}},
	}
	specs := r.inputSpecs(in, "fo")

	var mirror *supervisor.Spec
	for i := range specs {
		if specs[i].Kind == supervisor.KindFailoverMirror {
			mirror = &specs[i]
		}
	}
	require.NotNil(t, mirror, "a live main/backup pair must produce a failover mirror unit")
	assert.Equal(t, "rtmp://127.0.0.1:1935/fo/main", mirror.SourceURL)
	assert.Equal(t, "rtmp://127.0.0.1:1935/fo/origin", mirror.DestURL)
}

func TestInputSpecsMirrorsBackupWhenOnlyBackupIsLive(t *testing.T) {
	r := testReconciler()
	in := state.Input{
		ID:      state.NewID(),
		Enabled: true,
		Endpoints: []*state.InputEndpoint{{ID: state.NewID(), Kind: state.EndpointRTMP, Key: "origin"}},
		Src: state.FailoverSrc{Inputs: [2]*state.Input{
			{Enabled: true, Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "main", Status: state.StatusOffline}}},
			{Enabled: true, Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "backup", Status: state.StatusOnline}}},
		}},
	}
	specs := r.inputSpecs(in, "fo")

	var mirror *supervisor.Spec
	for i := range specs {
		if specs[i].Kind == supervisor.KindFailoverMirror {
			mirror = &specs[i]
		}
	}
	require.NotNil(t, mirror)
	assert.Equal(t, "rtmp://127.0.0.1:1935/fo/backup", mirror.SourceURL)
}

func TestOutputSpecsPicksPlainWhenNoMixins(t *testing.T) {
	r := testReconciler()
	restream := &state.Restream{
		Key:   "live",
		Input: state.Input{Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "origin"}}},
	}
	out := &state.Output{ID: state.NewID(), Dst: "rtmp://cdn/live"}
	specs := r.outputSpecs(restream, out)
	require.Len(t, specs, 1)
	assert.Equal(t, supervisor.KindOutput, specs[0].Kind)
	assert.Equal(t, "rtmp://127.0.0.1:1935/live/origin", specs[0].SourceURL,
		"output must pull from the Restream's actual top-level endpoint key, not a literal \"main\"")
}

func TestOutputSpecsPicksMixedWhenMixinPresent(t *testing.T) {
	r := testReconciler()
	restream := &state.Restream{
		Key:   "live",
		Input: state.Input{Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "origin"}}},
	}
	out := &state.Output{
		ID: state.NewID(), Dst: "rtmp://cdn/live",
		Mixins: []*state.Mixin{{ID: state.NewID(), Src: "ts://host/chan", Volume: 500}},
	}
	specs := r.outputSpecs(restream, out)
	require.Len(t, specs, 1)
	assert.Equal(t, supervisor.KindMixedOutput, specs[0].Kind)
	assert.NotNil(t, specs[0].Mixin)
	assert.Equal(t, "rtmp://127.0.0.1:1935/live/origin", specs[0].SourceURL)
}

func TestBuildSpecsSkipsDisabledOutputs(t *testing.T) {
	r := testReconciler()
	s := &state.State{Restreams: []*state.Restream{{
		Key: "live",
		Input: state.Input{Enabled: true, Src: state.RemoteSrc{URL: "rtmp://origin"}, Endpoints: []*state.InputEndpoint{{ID: state.NewID(), Key: "live"}}},
		Outputs: []*state.Output{
			{ID: state.NewID(), Dst: "rtmp://a", Enabled: true},
			{ID: state.NewID(), Dst: "rtmp://b", Enabled: false},
		},
	}}}

	specs := r.buildSpecs(s)
	// one pull input + one enabled output
	assert.Len(t, specs, 2)
}

func TestOutputStatusForPhase(t *testing.T) {
	assert.Equal(t, state.StatusOnline, outputStatusForPhase(supervisor.PhaseRunning))
	assert.Equal(t, state.StatusInitializing, outputStatusForPhase(supervisor.PhaseSpawning))
	assert.Equal(t, state.StatusOffline, outputStatusForPhase(supervisor.PhaseStopped))
	assert.Equal(t, state.StatusOffline, outputStatusForPhase(supervisor.PhaseCooldown))
}

type fakeStatusSetter struct {
	applied []state.Mutation
}

func (f *fakeStatusSetter) Apply(m state.Mutation) (*state.State, error) {
	f.applied = append(f.applied, m)
	return m(&state.State{})
}

func TestSyncOutputStatusesDedupesAcrossConverges(t *testing.T) {
	r := testReconciler()
	r.pool = supervisor.New(context.Background(), nil, nil, nil)
	store := &fakeStatusSetter{}
	r.store = store

	spec := supervisor.Spec{
		UnitID:      state.NewID(),
		Kind:        supervisor.KindOutput,
		RestreamKey: "live",
		OutputID:    state.NewID(),
	}

	r.syncOutputStatuses([]supervisor.Spec{spec})
	r.syncOutputStatuses([]supervisor.Spec{spec})

	assert.Len(t, store.applied, 1, "an unchanged phase between converges must not re-push status")
}

func TestShouldPushStatusDedupesUnchangedValue(t *testing.T) {
	r := testReconciler()
	id := state.NewID()

	assert.True(t, r.shouldPushStatus(id, state.StatusOnline), "first observation must push")
	assert.False(t, r.shouldPushStatus(id, state.StatusOnline), "repeating the same status must not push again")
	assert.True(t, r.shouldPushStatus(id, state.StatusOffline), "a changed status must push")
}

func TestBuildSRSConfigOnlyRendersDVRPathsForFileOutputs(t *testing.T) {
	r := testReconciler()
	r.cfg.SRSHTTPDir = "/srs/http"
	s := &state.State{Restreams: []*state.Restream{{
		Key: "live",
		Outputs: []*state.Output{
			{ID: state.NewID(), Dst: "file:///recordings/out.flv"},
			{ID: state.NewID(), Dst: "rtmp://cdn/live"},
			{ID: state.NewID(), Dst: "icecast://host/mount"},
			{ID: state.NewID(), Dst: "srt://host:1234"},
		},
	}}}

	cfg := r.buildSRSConfig(s)
	require.Len(t, cfg.VHosts, 1)
	assert.Len(t, cfg.VHosts[0].DVRPaths, 1)
}
