package state

import (
	"net/url"
	"strings"

	"github.com/mrecords121/ephyr/internal/errors"
)

// allowedOutputSchemes are the Output destination schemes §3 permits.
var allowedOutputSchemes = map[string]bool{
	"rtmp":    true,
	"rtmps":   true,
	"icecast": true,
	"srt":     true,
	"file":    true,
}

// Validate checks every invariant of §3 across the whole tree, returning
// the first violation found: a Conflict-category error for a duplicate
// restream key or output destination, a Validation-category error for
// any other breach.
func Validate(s *State) error {
	seenKeys := make(map[string]bool, len(s.Restreams))
	for _, r := range s.Restreams {
		if !ValidRestreamKey(r.Key) {
			return invalid("restream key %q does not match ^[A-Za-z0-9_-]{1,20}$", r.Key)
		}
		if seenKeys[r.Key] {
			return conflict("duplicate restream key %q", r.Key)
		}
		seenKeys[r.Key] = true

		if err := validateInput(&r.Input); err != nil {
			return err
		}

		seenDst := make(map[string]bool, len(r.Outputs))
		for _, o := range r.Outputs {
			if err := validateOutput(o); err != nil {
				return err
			}
			if seenDst[o.Dst] {
				return conflict("duplicate output dst %q in restream %q", o.Dst, r.Key)
			}
			seenDst[o.Dst] = true
		}
	}
	return nil
}

func validateInput(in *Input) error {
	hlsCount := 0
	for _, ep := range in.Endpoints {
		if ep.Kind == EndpointHLS {
			hlsCount++
		}
	}
	if hlsCount > 1 {
		return invalid("input has more than one HLS endpoint")
	}

	switch src := in.Src.(type) {
	case nil, RemoteSrc:
	case FailoverSrc:
		for i, child := range src.Inputs {
			if child == nil {
				return invalid("failover input missing child %d", i)
			}
			wantKey := "main"
			if i == 1 {
				wantKey = "backup"
			}
			if !hasEndpointKey(child, wantKey) {
				return invalid("failover child %d must expose synthetic endpoint key %q", i, wantKey)
			}
			if err := validateInput(child); err != nil {
				return err
			}
		}
	default:
		return invalid("unknown input source type")
	}
	return nil
}

func hasEndpointKey(in *Input, key string) bool {
	for _, ep := range in.Endpoints {
		if ep.Key == key {
			return true
		}
	}
	return false
}

func validateOutput(o *Output) error {
	u, err := url.Parse(o.Dst)
	if err != nil {
		return invalid("output dst %q is not a valid URL: %v", o.Dst, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !allowedOutputSchemes[scheme] {
		return invalid("output dst %q uses disallowed scheme %q", o.Dst, u.Scheme)
	}
	if scheme == "file" {
		if u.Host != "" || !strings.HasSuffix(strings.ToLower(u.Path), ".flv") {
			return invalid("file output dst %q must be of the form file:///path/to/file.flv", o.Dst)
		}
	}
	if o.Volume > 1000 {
		return invalid("output volume %d exceeds 1000", o.Volume)
	}
	if len(o.Mixins) > MaxMixinsPerOutput {
		return invalid("output has %d mixins, exceeding the cap of %d", len(o.Mixins), MaxMixinsPerOutput)
	}
	for _, m := range o.Mixins {
		if err := validateMixin(m); err != nil {
			return err
		}
	}
	return nil
}

func validateMixin(m *Mixin) error {
	u, err := url.Parse(m.Src)
	if err != nil {
		return invalid("mixin src %q is not a valid URL: %v", m.Src, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ts":
	case "http", "https":
		if !strings.HasSuffix(strings.ToLower(u.Path), ".mp3") {
			return invalid("http(s) mixin src %q must point at an .mp3 file", m.Src)
		}
	default:
		return invalid("mixin src %q uses unsupported scheme %q", m.Src, u.Scheme)
	}
	if m.Volume > 1000 {
		return invalid("mixin volume %d exceeds 1000", m.Volume)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Wrap(errors.CategoryValidation, "state", format, args...)
}

func conflict(format string, args ...any) error {
	return errors.Wrap(errors.CategoryConflict, "state", format, args...)
}
