package state

// clone deep-copies s, preserving every field including the live Status
// values that json:"-" excludes from persistence. Mutations operate on a
// clone so a failed mutation never touches the State a concurrent reader
// might be holding (§3 Ownership: "Subscriptions ... receive copies").
func cloneState(s *State) *State {
	out := &State{
		Revision:  s.Revision,
		Settings:  s.Settings,
		Restreams: make([]*Restream, len(s.Restreams)),
	}
	if s.PasswordHash != nil {
		h := *s.PasswordHash
		out.PasswordHash = &h
	}
	for i, r := range s.Restreams {
		out.Restreams[i] = cloneRestream(r)
	}
	return out
}

func cloneRestream(r *Restream) *Restream {
	out := &Restream{ID: r.ID, Key: r.Key, Input: cloneInput(&r.Input), Outputs: make([]*Output, len(r.Outputs))}
	if r.Label != nil {
		l := *r.Label
		out.Label = &l
	}
	for i, o := range r.Outputs {
		out.Outputs[i] = cloneOutput(o)
	}
	return out
}

func cloneInput(in *Input) Input {
	out := Input{ID: in.ID, Enabled: in.Enabled, Endpoints: make([]*InputEndpoint, len(in.Endpoints))}
	for i, ep := range in.Endpoints {
		out.Endpoints[i] = &InputEndpoint{ID: ep.ID, Kind: ep.Kind, Key: ep.Key, Status: ep.Status}
	}
	switch src := in.Src.(type) {
	case RemoteSrc:
		out.Src = src
	case FailoverSrc:
		var children [2]*Input
		for i, c := range src.Inputs {
			if c != nil {
				cc := cloneInput(c)
				children[i] = &cc
			}
		}
		out.Src = FailoverSrc{Inputs: children}
	}
	return out
}

func cloneOutput(o *Output) *Output {
	out := &Output{ID: o.ID, Dst: o.Dst, Volume: o.Volume, Enabled: o.Enabled, Status: o.Status, Mixins: make([]*Mixin, len(o.Mixins))}
	if o.Label != nil {
		l := *o.Label
		out.Label = &l
	}
	for i, m := range o.Mixins {
		mm := *m
		out.Mixins[i] = &mm
	}
	return out
}

// clone is the entry point used throughout apply.go.
func clone(s *State) *State { return cloneState(s) }
