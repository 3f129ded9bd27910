package state

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mrecords121/ephyr/internal/errors"
)

// SpecVersion is the only version this module accepts; an unrecognized
// version is rejected outright rather than best-effort parsed, per the
// "spec versioning guard" supplement in SPEC_FULL.md.
const SpecVersion = "v1"

// Spec is the shareable export/import document of §6.
type Spec struct {
	Version   string         `json:"version"`
	Restreams []RestreamSpec `json:"restreams"`
}

// RestreamSpec is the exportable shape of a Restream.
type RestreamSpec struct {
	Key     string       `json:"key"`
	Label   *string      `json:"label,omitempty"`
	Input   InputSpec    `json:"input"`
	Outputs []OutputSpec `json:"outputs,omitempty"`
}

// InputSpec is the exportable shape of an Input.
type InputSpec struct {
	Src        *string `json:"src,omitempty"`
	WithBackup bool    `json:"with_backup,omitempty"`
	BackupSrc  *string `json:"backup_src,omitempty"`
	WithHLS    bool    `json:"with_hls,omitempty"`
	Enabled    bool    `json:"enabled,omitempty"`
}

// OutputSpec is the exportable shape of an Output.
type OutputSpec struct {
	Dst     string       `json:"dst"`
	Label   *string      `json:"label,omitempty"`
	Volume  uint16       `json:"volume,omitempty"`
	Mixins  []MixinSpec  `json:"mixins,omitempty"`
	Enabled bool         `json:"enabled,omitempty"`
}

// MixinSpec is the exportable shape of a Mixin.
type MixinSpec struct {
	Src    string `json:"src"`
	Volume uint16 `json:"volume,omitempty"`
	Delay  uint32 `json:"delay,omitempty"`
}

// Export converts one Restream (or, via ExportAll, every Restream in a
// State) into its Spec form. Unknown/derived fields (ids, live Status) are
// dropped; missing optional fields are simply absent.
func Export(r *Restream) RestreamSpec {
	spec := RestreamSpec{Key: r.Key, Label: r.Label}
	spec.Input = exportInput(&r.Input)
	for _, o := range r.Outputs {
		os := OutputSpec{Dst: o.Dst, Label: o.Label, Volume: o.Volume, Enabled: o.Enabled}
		for _, m := range o.Mixins {
			os.Mixins = append(os.Mixins, MixinSpec{Src: m.Src, Volume: m.Volume, Delay: m.Delay})
		}
		spec.Outputs = append(spec.Outputs, os)
	}
	return spec
}

func exportInput(in *Input) InputSpec {
	is := InputSpec{Enabled: in.Enabled, WithHLS: hasEndpointKind(in, EndpointHLS)}
	switch src := in.Src.(type) {
	case RemoteSrc:
		u := src.URL
		is.Src = &u
	case FailoverSrc:
		is.WithBackup = true
		if src.Inputs[0] != nil {
			if remote, ok := src.Inputs[0].Src.(RemoteSrc); ok {
				u := remote.URL
				is.Src = &u
			}
		}
		if src.Inputs[1] != nil {
			if remote, ok := src.Inputs[1].Src.(RemoteSrc); ok {
				u := remote.URL
				is.BackupSrc = &u
			}
		}
	}
	return is
}

func hasEndpointKind(in *Input, kind EndpointKind) bool {
	for _, ep := range in.Endpoints {
		if ep.Kind == kind {
			return true
		}
	}
	return false
}

// ExportAll exports every Restream in s into a single Spec document.
func ExportAll(s *State) Spec {
	spec := Spec{Version: SpecVersion}
	for _, r := range s.Restreams {
		spec.Restreams = append(spec.Restreams, Export(r))
	}
	return spec
}

// ParseSpec decodes and version-checks a Spec document.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, errors.New(err).Category(errors.CategoryValidation).Component("state").Build()
	}
	if spec.Version != SpecVersion {
		return nil, errors.Wrap(errors.CategoryValidation, "state", "unsupported spec version %q, expected %q", spec.Version, SpecVersion)
	}
	return &spec, nil
}

// Import applies a Spec document to a State. When restreamID is set, the
// import targets that single existing Restream by id regardless of its
// key (the spec is expected to contain exactly one Restream in that case).
// Otherwise, when replace is true, every pre-existing Restream whose key
// is not present in spec is removed first; when false, Restreams are
// merged by key (matching keys are edited in-place, preserving id; new
// keys are appended).
func Import(spec Spec, restreamID *uuid.UUID, replace bool) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)

		if restreamID != nil {
			if len(spec.Restreams) != 1 {
				return nil, errors.Wrap(errors.CategoryValidation, "state", "importing into an existing restream requires exactly one spec restream")
			}
			importOne(next, spec.Restreams[0], restreamID)
			return next, nil
		}

		if replace {
			keep := make([]*Restream, 0, len(next.Restreams))
			wanted := make(map[string]bool, len(spec.Restreams))
			for _, rs := range spec.Restreams {
				wanted[rs.Key] = true
			}
			for _, r := range next.Restreams {
				if wanted[r.Key] {
					keep = append(keep, r)
				}
			}
			next.Restreams = keep
		}

		for _, rs := range spec.Restreams {
			importOne(next, rs, nil)
		}
		return next, nil
	}
}

func importOne(s *State, rs RestreamSpec, targetID *uuid.UUID) {
	var existing *Restream
	if targetID != nil {
		existing = findRestream(s, *targetID)
	} else {
		existing = findRestreamByKey(s, rs.Key)
	}

	in := SetRestreamInput{
		Key:        rs.Key,
		Label:      rs.Label,
		URL:        rs.Input.Src,
		WithBackup: rs.Input.WithBackup,
		BackupURL:  rs.Input.BackupSrc,
		WithHLS:    rs.Input.WithHLS,
	}
	if existing != nil {
		id := existing.ID
		in.ID = &id
	}

	applied, err := SetRestream(in)(s)
	if err != nil {
		// A conflicting key during best-effort import is treated as a
		// no-op for that entry rather than aborting the whole import.
		return
	}
	*s = *applied

	r := findRestreamByKey(s, rs.Key)
	if r == nil {
		return
	}
	r.Outputs = r.Outputs[:0]
	for _, os := range rs.Outputs {
		mixins := make([]MixinInput, 0, len(os.Mixins))
		for _, m := range os.Mixins {
			mixins = append(mixins, MixinInput{Src: m.Src, Volume: m.Volume, Delay: m.Delay})
		}
		volume := os.Volume
		if volume == 0 {
			volume = 1000
		}
		r.Outputs = append(r.Outputs, &Output{
			ID: NewID(), Dst: os.Dst, Label: os.Label, Volume: volume,
			Mixins: buildMixins(mixins), Enabled: os.Enabled, Status: StatusOffline,
		})
	}
}

func buildMixins(in []MixinInput) []*Mixin {
	out := make([]*Mixin, 0, len(in))
	for _, m := range in {
		out = append(out, &Mixin{ID: NewID(), Src: m.Src, Volume: m.Volume, Delay: m.Delay})
	}
	return out
}
