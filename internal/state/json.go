package state

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// inputWire is the JSON shape of Input, discriminating InputSrc by a
// "src_kind" tag the way the original Rust implementation discriminates
// its `InputSrc` enum (see spec/v1.rs in the retrieved reference sources).
type inputWire struct {
	ID        uuid.UUID        `json:"id"`
	SrcKind   string           `json:"src_kind,omitempty"`
	Remote    *RemoteSrc       `json:"remote,omitempty"`
	Failover  *failoverWire    `json:"failover,omitempty"`
	Endpoints []*InputEndpoint `json:"endpoints"`
	Enabled   bool             `json:"enabled"`
}

type failoverWire struct {
	Inputs [2]*Input `json:"inputs"`
}

// MarshalJSON implements a discriminated encoding of Input.Src.
func (in Input) MarshalJSON() ([]byte, error) {
	w := inputWire{ID: in.ID, Endpoints: in.Endpoints, Enabled: in.Enabled}
	switch src := in.Src.(type) {
	case nil:
	case RemoteSrc:
		w.SrcKind = "remote"
		w.Remote = &src
	case FailoverSrc:
		w.SrcKind = "failover"
		w.Failover = &failoverWire{Inputs: src.Inputs}
	default:
		return nil, fmt.Errorf("state: unknown InputSrc type %T", src)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the inverse of MarshalJSON.
func (in *Input) UnmarshalJSON(data []byte) error {
	var w inputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	in.ID = w.ID
	in.Endpoints = w.Endpoints
	in.Enabled = w.Enabled
	switch w.SrcKind {
	case "":
		in.Src = nil
	case "remote":
		if w.Remote == nil {
			return fmt.Errorf("state: src_kind=remote missing remote payload")
		}
		in.Src = *w.Remote
	case "failover":
		if w.Failover == nil {
			return fmt.Errorf("state: src_kind=failover missing failover payload")
		}
		in.Src = FailoverSrc{Inputs: w.Failover.Inputs}
	default:
		return fmt.Errorf("state: unknown src_kind %q", w.SrcKind)
	}
	return nil
}
