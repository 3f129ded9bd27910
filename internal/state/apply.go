package state

import (
	"github.com/google/uuid"

	"github.com/mrecords121/ephyr/internal/errors"
)

// SetRestreamInput is the subset of §6's setRestream mutation's input that
// describes the Input being created/edited.
type SetRestreamInput struct {
	ID         *uuid.UUID
	Key        string
	Label      *string
	URL        *string
	WithBackup bool
	BackupURL  *string
	WithHLS    bool
}

// SetRestream creates or edits a Restream, preserving its id and every
// live Status when only the key/label/URL is sanitized/edited (§9's open
// question: "the source appears to [preserve id], but only through an
// editing path that sanitizes the input" — this implementation always
// preserves the id across an edit found by ID, matching that behavior).
func SetRestream(in SetRestreamInput) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)

		var existing *Restream
		if in.ID != nil {
			existing = findRestream(next, *in.ID)
			if existing == nil {
				return nil, errors.Wrap(errors.CategoryNotFound, "state", "restream %s not found", *in.ID)
			}
		}

		for _, r := range next.Restreams {
			if r.Key == in.Key && (existing == nil || r.ID != existing.ID) {
				return nil, errors.Wrap(errors.CategoryConflict, "state", "restream key %q already in use", in.Key)
			}
		}

		input := buildInput(existing, in)

		if existing != nil {
			existing.Key = in.Key
			existing.Label = in.Label
			existing.Input = input
			return next, nil
		}

		r := &Restream{ID: NewID(), Key: in.Key, Label: in.Label, Input: input, Outputs: []*Output{}}
		next.Restreams = append(next.Restreams, r)
		return next, nil
	}
}

func buildInput(existing *Restream, in SetRestreamInput) Input {
	var prev *Input
	if existing != nil {
		prev = &existing.Input
	}

	input := Input{Enabled: true}
	if prev != nil {
		input.ID = prev.ID
		input.Enabled = prev.Enabled
	} else {
		input.ID = NewID()
	}

	endpoints := []*InputEndpoint{reuseEndpoint(prev, EndpointRTMP, "origin")}
	if in.WithHLS {
		endpoints = append(endpoints, reuseEndpoint(prev, EndpointHLS, "hls"))
	}

	if in.WithBackup {
		main := reuseFailoverChild(prev, 0, "main", in.URL)
		backup := reuseFailoverChild(prev, 1, "backup", in.BackupURL)
		input.Src = FailoverSrc{Inputs: [2]*Input{main, backup}}
		input.Endpoints = []*InputEndpoint{reuseEndpoint(prev, EndpointRTMP, "origin")}
		if in.WithHLS {
			input.Endpoints = append(input.Endpoints, reuseEndpoint(prev, EndpointHLS, "hls"))
		}
		return input
	}

	if in.URL != nil {
		input.Src = RemoteSrc{URL: *in.URL}
	} else {
		input.Src = nil
	}
	input.Endpoints = endpoints
	return input
}

func reuseEndpoint(prev *Input, kind EndpointKind, key string) *InputEndpoint {
	if prev != nil {
		for _, ep := range prev.Endpoints {
			if ep.Key == key && ep.Kind == kind {
				return &InputEndpoint{ID: ep.ID, Kind: kind, Key: key, Status: ep.Status}
			}
		}
	}
	return &InputEndpoint{ID: NewID(), Kind: kind, Key: key, Status: StatusOffline}
}

func reuseFailoverChild(prev *Input, index int, key string, url *string) *Input {
	if prev != nil {
		if f, ok := prev.Src.(FailoverSrc); ok && f.Inputs[index] != nil {
			child := f.Inputs[index]
			var src InputSrc
			if url != nil {
				src = RemoteSrc{URL: *url}
			}
			return &Input{ID: child.ID, Src: src, Endpoints: child.Endpoints, Enabled: child.Enabled}
		}
	}
	var src InputSrc
	if url != nil {
		src = RemoteSrc{URL: *url}
	}
	return &Input{
		ID:      NewID(),
		Src:     src,
		Enabled: true,
		Endpoints: []*InputEndpoint{
			{ID: NewID(), Kind: EndpointRTMP, Key: key, Status: StatusOffline},
		},
	}
}

// RemoveRestream deletes the Restream identified by id.
func RemoveRestream(id uuid.UUID) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)
		for i, r := range next.Restreams {
			if r.ID == id {
				next.Restreams = append(next.Restreams[:i], next.Restreams[i+1:]...)
				return next, nil
			}
		}
		return nil, errors.Wrap(errors.CategoryNotFound, "state", "restream %s not found", id)
	}
}

// SetRestreamEnabled toggles enableRestream/disableRestream.
func SetRestreamEnabled(id uuid.UUID, enabled bool) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)
		r := findRestream(next, id)
		if r == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "restream %s not found", id)
		}
		r.Input.Enabled = enabled
		return next, nil
	}
}

// SetInputEnabled toggles enableInput/disableInput for a specific Input
// within a Restream (the top-level Input or one of its failover children).
func SetInputEnabled(restreamID, inputID uuid.UUID, enabled bool) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)
		r := findRestream(next, restreamID)
		if r == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "restream %s not found", restreamID)
		}
		in := findInput(&r.Input, inputID)
		if in == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "input %s not found", inputID)
		}
		in.Enabled = enabled
		return next, nil
	}
}

// SetOutputInput is the payload of §6's setOutput mutation.
type SetOutputInput struct {
	RestreamID uuid.UUID
	ID         *uuid.UUID
	Dst        string
	Label      *string
	MixinSrcs  []MixinInput
}

// MixinInput describes a Mixin as supplied by setOutput.
type MixinInput struct {
	Src    string
	Volume uint16
	Delay  uint32
}

// SetOutput creates or edits an Output on a Restream.
func SetOutput(in SetOutputInput) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)
		r := findRestream(next, in.RestreamID)
		if r == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "restream %s not found", in.RestreamID)
		}

		mixins := make([]*Mixin, 0, len(in.MixinSrcs))
		for _, m := range in.MixinSrcs {
			mixins = append(mixins, &Mixin{ID: NewID(), Src: m.Src, Volume: m.Volume, Delay: m.Delay})
		}

		if in.ID != nil {
			for _, o := range r.Outputs {
				if o.ID == *in.ID {
					o.Dst = in.Dst
					o.Label = in.Label
					o.Mixins = mixins
					return next, nil
				}
			}
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "output %s not found", *in.ID)
		}

		for _, o := range r.Outputs {
			if o.Dst == in.Dst {
				return nil, errors.Wrap(errors.CategoryConflict, "state", "output dst %q already exists", in.Dst)
			}
		}
		o := &Output{ID: NewID(), Dst: in.Dst, Label: in.Label, Volume: 1000, Mixins: mixins, Enabled: true, Status: StatusOffline}
		r.Outputs = append(r.Outputs, o)
		return next, nil
	}
}

// SetOutputStatus records an Output's supervised-unit liveness, driven by
// internal/reconciler's observation of the Output's FFmpeg unit phase
// (§4.4: Initializing while spawning, Online once running, Offline
// otherwise). It is a no-op once the Restream/Output has already been
// removed, since a unit's final phase transition can race the mutation
// that deleted it.
func SetOutputStatus(restreamKey string, outputID uuid.UUID, status Status) Mutation {
	return func(cur *State) (*State, error) {
		r := findRestreamByKey(cur, restreamKey)
		if r == nil {
			return cur, nil
		}
		for _, o := range r.Outputs {
			if o.ID == outputID {
				if o.Status == status {
					return cur, nil
				}
				next := clone(cur)
				findOutput(next, r.ID, outputID).Status = status
				return next, nil
			}
		}
		return cur, nil
	}
}

// RemoveOutput deletes an Output from a Restream.
func RemoveOutput(restreamID, outputID uuid.UUID) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)
		r := findRestream(next, restreamID)
		if r == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "restream %s not found", restreamID)
		}
		for i, o := range r.Outputs {
			if o.ID == outputID {
				r.Outputs = append(r.Outputs[:i], r.Outputs[i+1:]...)
				return next, nil
			}
		}
		return nil, errors.Wrap(errors.CategoryNotFound, "state", "output %s not found", outputID)
	}
}

// SetOutputEnabled toggles enableOutput/disableOutput for one Output.
func SetOutputEnabled(restreamID, outputID uuid.UUID, enabled bool) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)
		r := findRestream(next, restreamID)
		if r == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "restream %s not found", restreamID)
		}
		for _, o := range r.Outputs {
			if o.ID == outputID {
				o.Enabled = enabled
				return next, nil
			}
		}
		return nil, errors.Wrap(errors.CategoryNotFound, "state", "output %s not found", outputID)
	}
}

// SetAllOutputsEnabled implements enableAllOutputs/disableAllOutputs.
func SetAllOutputsEnabled(restreamID uuid.UUID, enabled bool) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)
		r := findRestream(next, restreamID)
		if r == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "restream %s not found", restreamID)
		}
		for _, o := range r.Outputs {
			o.Enabled = enabled
		}
		return next, nil
	}
}

// TuneVolume implements tuneVolume: if mixinID is nil, it targets the
// Output's own volume; otherwise the named Mixin's volume.
func TuneVolume(restreamID, outputID uuid.UUID, mixinID *uuid.UUID, volume uint16) Mutation {
	return func(cur *State) (*State, error) {
		if volume > 1000 {
			return nil, errors.Wrap(errors.CategoryValidation, "state", "volume %d exceeds 1000", volume)
		}
		next := clone(cur)
		o := findOutput(next, restreamID, outputID)
		if o == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "output %s not found", outputID)
		}
		if mixinID == nil {
			o.Volume = volume
			return next, nil
		}
		for _, m := range o.Mixins {
			if m.ID == *mixinID {
				m.Volume = volume
				return next, nil
			}
		}
		return nil, errors.Wrap(errors.CategoryNotFound, "state", "mixin %s not found", *mixinID)
	}
}

// TuneDelay implements tuneDelay, always targeting a Mixin.
func TuneDelay(restreamID, outputID, mixinID uuid.UUID, delayMs uint32) Mutation {
	return func(cur *State) (*State, error) {
		next := clone(cur)
		o := findOutput(next, restreamID, outputID)
		if o == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, "state", "output %s not found", outputID)
		}
		for _, m := range o.Mixins {
			if m.ID == mixinID {
				m.Delay = delayMs
				return next, nil
			}
		}
		return nil, errors.Wrap(errors.CategoryNotFound, "state", "mixin %s not found", mixinID)
	}
}

// SetPasswordInput is the payload of §6's setPassword mutation.
type SetPasswordInput struct {
	New *string
	Old *string
	KDF KDFCost
}

// SetPassword adds, changes or removes the access password. Changing or
// removing an existing password requires proof of the previous one.
func SetPassword(in SetPasswordInput) Mutation {
	return func(cur *State) (*State, error) {
		if cur.PasswordHash != nil {
			if in.Old == nil {
				return nil, errors.Wrap(errors.CategoryUnauthorized, "state", "old password required")
			}
			ok, err := VerifyPassword(*in.Old, *cur.PasswordHash)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errors.Wrap(errors.CategoryUnauthorized, "state", "old password is incorrect")
			}
		}

		next := clone(cur)
		if in.New == nil {
			next.PasswordHash = nil
			return next, nil
		}
		hash, err := HashPassword(*in.New, in.KDF)
		if err != nil {
			return nil, err
		}
		next.PasswordHash = &hash
		return next, nil
	}
}

func findRestream(s *State, id uuid.UUID) *Restream {
	for _, r := range s.Restreams {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func findRestreamByKey(s *State, key string) *Restream {
	for _, r := range s.Restreams {
		if r.Key == key {
			return r
		}
	}
	return nil
}

func findInput(in *Input, id uuid.UUID) *Input {
	if in.ID == id {
		return in
	}
	if f, ok := in.Src.(FailoverSrc); ok {
		for _, child := range f.Inputs {
			if child == nil {
				continue
			}
			if found := findInput(child, id); found != nil {
				return found
			}
		}
	}
	return nil
}

func findOutput(s *State, restreamID, outputID uuid.UUID) *Output {
	r := findRestream(s, restreamID)
	if r == nil {
		return nil
	}
	for _, o := range r.Outputs {
		if o.ID == outputID {
			return o
		}
	}
	return nil
}
