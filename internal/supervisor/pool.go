package supervisor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mrecords121/ephyr/internal/metrics"
	"github.com/mrecords121/ephyr/internal/zmqctl"
)

// PCMSourceFor resolves the live TeamSpeak PCM feed for a mixed-output
// unit's mixin id, or nil if that mixin has no live ingestor yet.
type PCMSourceFor func(mixinID uuid.UUID) PCMSource

// Pool owns the set of currently supervised Units, keyed by UnitID,
// mirroring the teacher's FFmpegManager map-of-streams design generalized
// from a single stream kind to the five kinds of §4.4's command-line
// contracts. Apply is the only entry point the Reconciler calls; it
// diffs the requested specs against the running pool and starts, stops,
// or ZMQ-tunes units as needed (§4.7).
type Pool struct {
	mu         sync.Mutex
	units      map[uuid.UUID]*Unit
	pcmSource  PCMSourceFor
	ctx        context.Context
	metrics    *metrics.SupervisorMetrics
	zmqMetrics *metrics.ZMQMetrics
}

// New returns an empty Pool bound to ctx; all supervised goroutines exit
// when ctx is canceled. sm/zm may be nil, in which case no metrics are
// recorded.
func New(ctx context.Context, pcmSource PCMSourceFor, sm *metrics.SupervisorMetrics, zm *metrics.ZMQMetrics) *Pool {
	return &Pool{
		units:      make(map[uuid.UUID]*Unit),
		pcmSource:  pcmSource,
		ctx:        ctx,
		metrics:    sm,
		zmqMetrics: zm,
	}
}

// Apply reconciles the pool against the desired specs, starting new units,
// stopping units no longer present, restarting units whose Spec.NeedsRestart
// reports true, and ZMQ-tuning in place otherwise. It returns the ids of
// units it started for tests/observability.
//
// Stop is fire-and-forget here: a unit's shutdown sequence can take up to
// terminate's grace period, and Apply must never block the reconciler's
// converge loop waiting for a slow exit, so every Stop runs in its own
// goroutine the way Shutdown already stops the whole pool.
func (p *Pool) Apply(ctx context.Context, specs []Spec) []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := make(map[uuid.UUID]Spec, len(specs))
	for _, s := range specs {
		want[s.UnitID] = s
	}

	var started []uuid.UUID

	for id, unit := range p.units {
		if _, ok := want[id]; !ok {
			delete(p.units, id)
			go unit.Stop()
		}
	}

	for id, spec := range want {
		existing, ok := p.units[id]
		if !ok {
			u := p.start(spec)
			p.units[id] = u
			started = append(started, id)
			continue
		}

		prev := existing.Spec()
		if spec.NeedsRestart(prev) {
			started = append(started, id)
			go p.restart(id, existing, spec)
			continue
		}

		p.tune(ctx, existing, prev, spec)
	}

	return started
}

// restart stops old in the background and installs the replacement unit
// into the pool once it is running, without holding p.mu across old's
// shutdown sequence.
func (p *Pool) restart(id uuid.UUID, old *Unit, spec Spec) {
	old.Stop()
	u := p.start(spec)

	p.mu.Lock()
	p.units[id] = u
	p.mu.Unlock()
}

func (p *Pool) start(spec Spec) *Unit {
	var src PCMSource
	if spec.Kind == KindMixedOutput && spec.Mixin != nil && p.pcmSource != nil {
		src = p.pcmSource(spec.Mixin.ID)
	}
	u := NewUnit(spec, src, p.metrics)
	u.mu.Lock()
	u.spec = spec
	u.mu.Unlock()
	go u.Run(p.ctx)
	return u
}

// tune applies a volume/delay-only change via ZMQ without restarting the
// unit, per §4.6/§4.7. It updates the unit's recorded spec so future diffs
// compare against the tuned values.
func (p *Pool) tune(ctx context.Context, u *Unit, prev, next Spec) {
	u.mu.Lock()
	u.spec = next
	u.mu.Unlock()

	if next.MixinVolume != prev.MixinVolume {
		sender := zmqctl.New(next.ZMQPort())
		label := "orig_" + shortID(next.UnitID)
		p.recordZMQ("volume", sender.SetVolume(ctx, label, float64(next.MixinVolume)/100))
	}
	if next.Mixin == nil || prev.Mixin == nil {
		return
	}
	sender := zmqctl.New(mixinZMQPort(next.Mixin.ID))
	label := "mix_" + shortID(next.Mixin.ID)
	if next.Mixin.Volume != prev.Mixin.Volume {
		p.recordZMQ("volume", sender.SetVolume(ctx, label, float64(next.Mixin.Volume)/100))
	}
	if next.Mixin.Delay != prev.Mixin.Delay {
		p.recordZMQ("delay", sender.SetDelay(ctx, label, next.Mixin.Delay))
	}
}

func (p *Pool) recordZMQ(kind string, err error) {
	if p.zmqMetrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.zmqMetrics.CommandsTotal.WithLabelValues(kind, outcome).Inc()
}

// Phases returns a snapshot of every supervised unit's phase, keyed by
// UnitID, for status reporting (§6's restream status fields derive from
// this plus the callback-driven on_publish/on_play bookkeeping).
func (p *Pool) Phases() map[uuid.UUID]Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uuid.UUID]Phase, len(p.units))
	for id, u := range p.units {
		out[id] = u.Phase()
	}
	return out
}

// Shutdown stops every supervised unit concurrently and blocks until all of
// them have exited (§4.10's graceful-shutdown supplement).
func (p *Pool) Shutdown() {
	p.mu.Lock()
	units := make([]*Unit, 0, len(p.units))
	for _, u := range p.units {
		units = append(units, u)
	}
	p.units = make(map[uuid.UUID]*Unit)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u *Unit) {
			defer wg.Done()
			u.Stop()
		}(u)
	}
	wg.Wait()
}
