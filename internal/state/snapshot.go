package state

import (
	"encoding/json"
	"io"
	"os"

	"github.com/google/renameio/v2"
	"github.com/mrecords121/ephyr/internal/errors"
)

// Load reads the State snapshot from path. A missing or empty file yields
// an empty State (§4.1/§6 "Persisted snapshot"); any parse failure is
// returned so the caller can treat it as Fatal at boot time.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &State{Restreams: []*Restream{}}, nil
	}
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryFatal).Component("state").
			Context("path", path).Build()
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryFatal).Component("state").
			Context("path", path).Build()
	}
	if len(data) == 0 {
		return &State{Restreams: []*Restream{}}, nil
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.New(err).Category(errors.CategoryFatal).Component("state").
			Context("path", path).Context("reason", "parse failure").Build()
	}
	if s.Restreams == nil {
		s.Restreams = []*Restream{}
	}
	resetLiveStatus(&s)
	return &s, nil
}

// resetLiveStatus zeroes every live Status field on load, per §3 Lifecycle:
// "on restart they reset to Offline."
func resetLiveStatus(s *State) {
	var walk func(in *Input)
	walk = func(in *Input) {
		for _, ep := range in.Endpoints {
			ep.Status = StatusOffline
		}
		if f, ok := in.Src.(FailoverSrc); ok {
			for _, c := range f.Inputs {
				if c != nil {
					walk(c)
				}
			}
		}
	}
	for _, r := range s.Restreams {
		walk(&r.Input)
		for _, o := range r.Outputs {
			o.Status = StatusOffline
		}
	}
}

// Save durably and atomically persists s to path: write to a tempfile in
// the same directory, fsync, then rename over the destination, via
// renameio. PersistenceFailed (§7) maps to the returned
// error; callers must retain their last-good in-memory State regardless.
func Save(path string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.New(err).Category(errors.CategoryPersistence).Component("state").Build()
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return errors.New(err).Category(errors.CategoryPersistence).Component("state").
			Context("path", path).Build()
	}
	defer pending.Cleanup() //nolint:errcheck // best-effort; CloseAtomicallyReplace already succeeded or failed

	if _, err := pending.Write(data); err != nil {
		return errors.New(err).Category(errors.CategoryPersistence).Component("state").
			Context("path", path).Build()
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return errors.New(err).Category(errors.CategoryPersistence).Component("state").
			Context("path", path).Build()
	}
	return nil
}
