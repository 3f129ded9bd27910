package api

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mrecords121/ephyr/internal/errors"
	"github.com/mrecords121/ephyr/internal/state"
)

// apiRequest is the §6 POST /api body: {query, variables, operationName}.
// This facade dispatches purely on OperationName (falling back to Query
// when OperationName is empty, the way a hand-written client that only
// sets `query: "setRestream"` would still work); Variables are decoded
// per-operation below.
type apiRequest struct {
	Query         string                     `json:"query"`
	Variables     map[string]json.RawMessage `json:"variables"`
	OperationName string                     `json:"operationName"`
}

type apiResponse struct {
	Data   any         `json:"data,omitempty"`
	Errors []apiError  `json:"errors,omitempty"`
}

type apiError struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

type opFunc func(vars map[string]json.RawMessage) (any, error)

type dispatcher struct {
	ops map[string]opFunc
}

func newDispatcher(s *Server) *dispatcher {
	d := &dispatcher{ops: make(map[string]opFunc)}

	d.ops["info"] = func(vars map[string]json.RawMessage) (any, error) { return s.info() }
	d.ops["allRestreams"] = func(vars map[string]json.RawMessage) (any, error) { return s.allRestreams() }
	d.ops["export"] = func(vars map[string]json.RawMessage) (any, error) { return s.export(vars) }
	d.ops["dvrFiles"] = func(vars map[string]json.RawMessage) (any, error) { return s.dvrFiles(vars) }

	d.ops["setRestream"] = func(vars map[string]json.RawMessage) (any, error) { return s.setRestream(vars) }
	d.ops["removeRestream"] = func(vars map[string]json.RawMessage) (any, error) { return s.removeRestream(vars) }
	d.ops["enableRestream"] = func(vars map[string]json.RawMessage) (any, error) { return s.setRestreamEnabled(vars, true) }
	d.ops["disableRestream"] = func(vars map[string]json.RawMessage) (any, error) { return s.setRestreamEnabled(vars, false) }
	d.ops["enableInput"] = func(vars map[string]json.RawMessage) (any, error) { return s.setInputEnabled(vars, true) }
	d.ops["disableInput"] = func(vars map[string]json.RawMessage) (any, error) { return s.setInputEnabled(vars, false) }
	d.ops["setOutput"] = func(vars map[string]json.RawMessage) (any, error) { return s.setOutput(vars) }
	d.ops["removeOutput"] = func(vars map[string]json.RawMessage) (any, error) { return s.removeOutput(vars) }
	d.ops["enableOutput"] = func(vars map[string]json.RawMessage) (any, error) { return s.setOutputEnabled(vars, true) }
	d.ops["disableOutput"] = func(vars map[string]json.RawMessage) (any, error) { return s.setOutputEnabled(vars, false) }
	d.ops["enableAllOutputs"] = func(vars map[string]json.RawMessage) (any, error) { return s.setAllOutputsEnabled(vars, true) }
	d.ops["disableAllOutputs"] = func(vars map[string]json.RawMessage) (any, error) { return s.setAllOutputsEnabled(vars, false) }
	d.ops["tuneVolume"] = func(vars map[string]json.RawMessage) (any, error) { return s.tuneVolume(vars) }
	d.ops["tuneDelay"] = func(vars map[string]json.RawMessage) (any, error) { return s.tuneDelay(vars) }
	d.ops["import"] = func(vars map[string]json.RawMessage) (any, error) { return s.importSpec(vars) }
	d.ops["setPassword"] = func(vars map[string]json.RawMessage) (any, error) { return s.setPassword(vars) }
	d.ops["removeDvrFile"] = func(vars map[string]json.RawMessage) (any, error) { return s.removeDvrFile(vars) }

	return d
}

func (s *Server) handleAPI(c echo.Context) error {
	var req apiRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(400, apiResponse{Errors: []apiError{{Message: "malformed request body", Category: string(errors.CategoryValidation)}}})
	}

	name := req.OperationName
	if name == "" {
		name = req.Query
	}

	op, ok := s.disp.ops[name]
	if !ok {
		return c.JSON(400, apiResponse{Errors: []apiError{{Message: fmt.Sprintf("unknown operation %q", name), Category: string(errors.CategoryValidation)}}})
	}

	data, err := op(req.Variables)
	if err != nil {
		return c.JSON(httpStatusFor(err), apiResponse{Errors: []apiError{{
			Message:  err.Error(),
			Category: string(errors.CategoryOf(err)),
		}}})
	}
	return c.JSON(200, apiResponse{Data: data})
}

func httpStatusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return 400
	case errors.CategoryUnauthorized:
		return 401
	case errors.CategoryNotFound:
		return 404
	case errors.CategoryConflict:
		return 409
	default:
		return 500
	}
}

func decode[T any](vars map[string]json.RawMessage, key string, out *T) error {
	raw, ok := vars[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// ---- queries ----

type infoPayload struct {
	PublicHost   string  `json:"publicHost"`
	PasswordHash *string `json:"passwordHash,omitempty"`
}

func (s *Server) info() (any, error) {
	cur, _ := s.store.Snapshot()
	return infoPayload{PublicHost: s.cfg.PublicHost, PasswordHash: cur.PasswordHash}, nil
}

func (s *Server) allRestreams() (any, error) {
	cur, _ := s.store.Snapshot()
	return cur.Restreams, nil
}

func (s *Server) export(vars map[string]json.RawMessage) (any, error) {
	var id *uuid.UUID
	if err := decode(vars, "id", &id); err != nil {
		return nil, errors.Wrap(errors.CategoryValidation, componentName, "bad id: %v", err)
	}
	cur, _ := s.store.Snapshot()
	if id == nil {
		return state.ExportAll(cur), nil
	}
	for _, r := range cur.Restreams {
		if r.ID == *id {
			return state.ExportAll(&state.State{Restreams: []*state.Restream{r}}), nil
		}
	}
	return nil, errors.Wrap(errors.CategoryNotFound, componentName, "no restream with id %s", id)
}

func (s *Server) dvrFiles(vars map[string]json.RawMessage) (any, error) {
	var id uuid.UUID
	if err := decode(vars, "id", &id); err != nil {
		return nil, errors.Wrap(errors.CategoryValidation, componentName, "bad id: %v", err)
	}
	cur, _ := s.store.Snapshot()
	restream, out := findRestreamOutput(cur, id)
	if restream == nil {
		return nil, errors.Wrap(errors.CategoryNotFound, componentName, "no output with id %s", id)
	}
	return s.dvr.List(restream.Key, out.ID)
}

func findRestreamOutput(cur *state.State, outputID uuid.UUID) (*state.Restream, *state.Output) {
	for _, r := range cur.Restreams {
		for _, o := range r.Outputs {
			if o.ID == outputID {
				return r, o
			}
		}
	}
	return nil, nil
}

// ---- mutations ----

func (s *Server) setRestream(vars map[string]json.RawMessage) (any, error) {
	var in state.SetRestreamInput
	if err := decodeAll(vars, &in); err != nil {
		return nil, err
	}
	next, err := s.store.Apply(state.SetRestream(in))
	if err != nil {
		return nil, err
	}
	return findRestreamByID(next, in), nil
}

func findRestreamByID(s *state.State, in state.SetRestreamInput) *state.Restream {
	if in.ID != nil {
		for _, r := range s.Restreams {
			if r.ID == *in.ID {
				return r
			}
		}
	}
	for _, r := range s.Restreams {
		if r.Key == in.Key {
			return r
		}
	}
	return nil
}

type idVars struct {
	ID uuid.UUID `json:"id"`
}

func (s *Server) removeRestream(vars map[string]json.RawMessage) (any, error) {
	var v idVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.RemoveRestream(v.ID))
}

func (s *Server) setRestreamEnabled(vars map[string]json.RawMessage, enabled bool) (any, error) {
	var v idVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.SetRestreamEnabled(v.ID, enabled))
}

type inputIDVars struct {
	RestreamID uuid.UUID `json:"restreamId"`
	InputID    uuid.UUID `json:"inputId"`
}

func (s *Server) setInputEnabled(vars map[string]json.RawMessage, enabled bool) (any, error) {
	var v inputIDVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.SetInputEnabled(v.RestreamID, v.InputID, enabled))
}

func (s *Server) setOutput(vars map[string]json.RawMessage) (any, error) {
	var in state.SetOutputInput
	if err := decodeAll(vars, &in); err != nil {
		return nil, err
	}
	return s.store.Apply(state.SetOutput(in))
}

type restreamOutputVars struct {
	RestreamID uuid.UUID `json:"restreamId"`
	ID         uuid.UUID `json:"id"`
}

func (s *Server) removeOutput(vars map[string]json.RawMessage) (any, error) {
	var v restreamOutputVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.RemoveOutput(v.RestreamID, v.ID))
}

func (s *Server) setOutputEnabled(vars map[string]json.RawMessage, enabled bool) (any, error) {
	var v restreamOutputVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.SetOutputEnabled(v.RestreamID, v.ID, enabled))
}

func (s *Server) setAllOutputsEnabled(vars map[string]json.RawMessage, enabled bool) (any, error) {
	var v idVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.SetAllOutputsEnabled(v.ID, enabled))
}

type tuneVolumeVars struct {
	RestreamID uuid.UUID  `json:"restreamId"`
	OutputID   uuid.UUID  `json:"outputId"`
	MixinID    *uuid.UUID `json:"mixinId,omitempty"`
	Volume     uint16     `json:"volume"`
}

func (s *Server) tuneVolume(vars map[string]json.RawMessage) (any, error) {
	var v tuneVolumeVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.TuneVolume(v.RestreamID, v.OutputID, v.MixinID, v.Volume))
}

type tuneDelayVars struct {
	RestreamID uuid.UUID `json:"restreamId"`
	OutputID   uuid.UUID `json:"outputId"`
	MixinID    uuid.UUID `json:"mixinId"`
	Delay      uint32    `json:"delay"`
}

func (s *Server) tuneDelay(vars map[string]json.RawMessage) (any, error) {
	var v tuneDelayVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.TuneDelay(v.RestreamID, v.OutputID, v.MixinID, v.Delay))
}

type importVars struct {
	Spec       state.Spec `json:"spec"`
	RestreamID *uuid.UUID `json:"restreamId,omitempty"`
	Replace    bool       `json:"replace"`
}

func (s *Server) importSpec(vars map[string]json.RawMessage) (any, error) {
	var v importVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.Import(v.Spec, v.RestreamID, v.Replace))
}

type setPasswordVars struct {
	New *string `json:"new,omitempty"`
	Old *string `json:"old,omitempty"`
}

func (s *Server) setPassword(vars map[string]json.RawMessage) (any, error) {
	var v setPasswordVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	return s.store.Apply(state.SetPassword(state.SetPasswordInput{New: v.New, Old: v.Old, KDF: state.Moderate}))
}

type removeDvrFileVars struct {
	OutputID uuid.UUID `json:"outputId"`
	Name     string    `json:"name"`
}

func (s *Server) removeDvrFile(vars map[string]json.RawMessage) (any, error) {
	var v removeDvrFileVars
	if err := decodeAll(vars, &v); err != nil {
		return nil, err
	}
	cur, _ := s.store.Snapshot()
	restream, out := findRestreamOutput(cur, v.OutputID)
	if restream == nil {
		return nil, errors.Wrap(errors.CategoryNotFound, componentName, "no output with id %s", v.OutputID)
	}
	if err := s.dvr.Remove(restream.Key, out.ID, v.Name); err != nil {
		return nil, err
	}
	return map[string]bool{"removed": true}, nil
}

// decodeAll unmarshals every provided variable into the fields of out via
// a round trip through a single JSON object, letting each mutation declare
// its input shape once as a plain struct with json tags.
func decodeAll(vars map[string]json.RawMessage, out any) error {
	obj := make(map[string]json.RawMessage, len(vars))
	for k, v := range vars {
		obj[k] = v
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrap(errors.CategoryValidation, componentName, "bad variables: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(errors.CategoryValidation, componentName, "bad variables: %v", err)
	}
	return nil
}
