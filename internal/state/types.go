// Package state implements the data model of §3: a versioned tree rooted
// at State, covering Restream, Input, InputEndpoint, Output and Mixin, plus
// the live (non-persisted) Status of endpoints and outputs.
package state

import (
	"regexp"

	"github.com/google/uuid"
)

// Status is the live connection state of an endpoint or output. It is never
// persisted to the snapshot file; on restart every Status resets to Offline.
type Status string

const (
	StatusOffline      Status = "OFFLINE"
	StatusInitializing Status = "INITIALIZING"
	StatusOnline       Status = "ONLINE"
)

// EndpointKind distinguishes the two kinds of InputEndpoint.
type EndpointKind string

const (
	EndpointRTMP EndpointKind = "RTMP"
	EndpointHLS  EndpointKind = "HLS"
)

// restreamKeyRE enforces the Restream.key invariant: URL-safe slug,
// 1 to 20 characters of letters, digits, underscore or hyphen.
var restreamKeyRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// ValidRestreamKey reports whether key satisfies the Restream.key invariant.
func ValidRestreamKey(key string) bool {
	return restreamKeyRE.MatchString(key)
}

// State is the root of the persisted tree (§3). Revision is bumped by the
// Store on every successful mutation; the Reactive Bus (§4.2) tracks its
// subscribers against its own, separate revision counter.
type State struct {
	Revision     uint64    `json:"revision"`
	PasswordHash *string   `json:"password_hash,omitempty"`
	Restreams    []*Restream `json:"restreams"`
	Settings     Settings  `json:"settings"`
}

// Settings holds State-scoped (but non-per-restream) knobs. Runtime-only
// settings such as ports and filesystem paths live in conf.Settings
// instead, not here: this struct is part of the persisted tree.
type Settings struct {
	DeleteRestreamsOnDowngrade bool `json:"delete_restreams_on_downgrade,omitempty"`
}

// Restream binds one upstream Input to zero or more outbound Outputs (see
// GLOSSARY). Key is unique within a State and matches ValidRestreamKey.
type Restream struct {
	ID      uuid.UUID `json:"id"`
	Key     string    `json:"key"`
	Label   *string   `json:"label,omitempty"`
	Input   Input     `json:"input"`
	Outputs []*Output `json:"outputs"`
}

// Input is the upstream side of a Restream. Src is nil when the stream is
// pushed rather than pulled/failed-over.
type Input struct {
	ID        uuid.UUID       `json:"id"`
	Src       InputSrc        `json:"src,omitempty"`
	Endpoints []*InputEndpoint `json:"endpoints"`
	Enabled   bool            `json:"enabled"`
}

// InputSrc is the tagged-union of §9's "dynamic dispatch over input kinds":
// a Remote pull source, or a Failover pair of child Inputs whose endpoint
// keys are the synthetic "main"/"backup".
type InputSrc interface {
	srcKind() string
}

// RemoteSrc pulls a live stream from an external URL.
type RemoteSrc struct {
	URL string `json:"url"`
}

func (RemoteSrc) srcKind() string { return "remote" }

// FailoverSrc holds exactly two child Inputs, whose own Endpoints use the
// synthetic RTMP keys "main" and "backup". No back-reference to the parent
// Restream is stored on either child; the Reconciler threads the parent
// key through explicitly when it needs it (§9).
type FailoverSrc struct {
	Inputs [2]*Input `json:"inputs"`
}

func (FailoverSrc) srcKind() string { return "failover" }

// InputEndpoint is a specific served point of an Input.
type InputEndpoint struct {
	ID     uuid.UUID    `json:"id"`
	Kind   EndpointKind `json:"kind"`
	Key    string       `json:"key"`
	Status Status       `json:"-"`
}

// Output is a single outbound publisher: a destination plus zero or more
// Mixins applied to it.
type Output struct {
	ID       uuid.UUID `json:"id"`
	Dst      string    `json:"dst"`
	Label    *string   `json:"label,omitempty"`
	Volume   uint16    `json:"volume"` // 0..1000, percent
	Mixins   []*Mixin  `json:"mixins"`
	Enabled  bool      `json:"enabled"`
	Status   Status    `json:"-"`
}

// MaxMixinsPerOutput is the invariant cap of §3.
const MaxMixinsPerOutput = 5

// Mixin is an auxiliary audio source merged into an Output.
type Mixin struct {
	ID     uuid.UUID `json:"id"`
	Src    string    `json:"src"`
	Volume uint16    `json:"volume"` // 0..1000
	Delay  uint32    `json:"delay"`  // milliseconds, >= 0
}

// NewID returns a fresh, never-reused identifier (§3 Lifecycle).
func NewID() uuid.UUID { return uuid.New() }
