// Package supervisor implements the FFmpeg Process Supervisor of §4.4: one
// supervised unit per active (Restream endpoint -> Output), per pulled
// Input endpoint, and per HLS producer, each running the Stopped ->
// Spawning -> Running -> Cooldown state machine with an id-keyed
// exponential backoff.
//
// The restart-tracking and bounded-stderr-buffer idioms are carried
// straight from the teacher's internal/myaudio/ffmpeg_input.go, generalized
// from a single RTSP-capture use case to the five command-line contracts of
// §4.4.
package supervisor

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates the five command-line contracts §4.4 documents.
type Kind string

const (
	KindPullInput      Kind = "pull-input"
	KindOutput         Kind = "output"
	KindMixedOutput    Kind = "mixed-output"
	KindRecording      Kind = "recording"
	KindHLS            Kind = "hls"
	KindFailoverMirror Kind = "failover-mirror"
)

// MixinSpec is the immutable-at-spawn-time portion of a Mixin, used to
// build the filter graph of a mixed output.
type MixinSpec struct {
	ID     uuid.UUID
	Src    string
	Volume uint16 // 0..1000
	Delay  uint32 // ms
}

// Spec is the immutable, comparable description of one supervised unit,
// rendered by the Reconciler from a State snapshot. Two Specs with equal
// CommandLine() outputs and equal UnitID never need a restart between them
// (only a ZMQ tune, if only their Mixins' volume/delay differ — see
// NeedsRestart).
type Spec struct {
	UnitID uuid.UUID
	Kind   Kind

	// Pull input / simple output.
	SourceURL string
	DestURL   string

	// Mixed output.
	MixinVolume uint16 // output's own volume, 0..1000
	Mixin       *MixinSpec

	// Recording.
	RestreamKey string
	OutputID    uuid.UUID

	// HLS.
	EndpointKey string

	FFmpegPath string
}

// ZMQPort deterministically derives a port in [10000, 65000) from the
// unit id, per §4.4's "port allocated from a 10000-65000 hash of the unit
// id". §9 explicitly leaves collision behavior unspecified; this
// implementation tolerates collisions exactly as the source does — a
// colliding bind simply fails that unit's azmq sink and the next
// Spawning attempt (after Cooldown) re-hashes the same, now-possibly-free,
// port.
func (s Spec) ZMQPort() uint16 {
	return zmqPortFor(s.UnitID)
}

func zmqPortFor(id uuid.UUID) uint16 {
	const lo, span = 10000, 65000 - 10000
	h := uint32(0)
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return uint16(lo + int(h%span))
}

// NeedsRestart reports whether transitioning from prev to s requires
// stopping and respawning the FFmpeg process, as opposed to a ZMQ tune.
// Per §4.7/§4.6: a change limited to Mixin volume/delay never requires a
// restart once the unit's filter graph already carries the azmq labels.
func (s Spec) NeedsRestart(prev Spec) bool {
	if s.UnitID != prev.UnitID || s.Kind != prev.Kind {
		return true
	}
	if s.SourceURL != prev.SourceURL || s.DestURL != prev.DestURL {
		return true
	}
	if s.RestreamKey != prev.RestreamKey || s.OutputID != prev.OutputID {
		return true
	}
	if s.EndpointKey != prev.EndpointKey {
		return true
	}
	if (s.Mixin == nil) != (prev.Mixin == nil) {
		return true
	}
	if s.Mixin != nil && s.Mixin.Src != prev.Mixin.Src {
		return true
	}
	return false
}

// CommandLine renders the exact argv for s, per the command-line contracts
// documented in §4.4.
func (s Spec) CommandLine() []string {
	switch s.Kind {
	case KindPullInput, KindFailoverMirror:
		return []string{
			s.FFmpegPath, "-loglevel", "error", "-nostats",
			"-i", s.SourceURL,
			"-c", "copy", "-f", "flv", s.DestURL,
		}
	case KindOutput:
		return []string{
			s.FFmpegPath, "-loglevel", "error", "-nostats",
			"-i", s.SourceURL,
			"-c", "copy", "-f", "flv", s.DestURL,
		}
	case KindMixedOutput:
		return s.mixedOutputArgs()
	case KindRecording:
		return []string{
			s.FFmpegPath, "-loglevel", "error", "-nostats",
			"-i", s.SourceURL,
			"-c", "copy", "-f", "flv", s.DestURL,
		}
	case KindHLS:
		return []string{
			s.FFmpegPath, "-loglevel", "error", "-nostats",
			"-i", s.SourceURL,
			"-c", "copy", "-f", "hls",
			"-hls_time", "2", "-hls_list_size", "10", "-hls_flags", "delete_segments",
			s.DestURL,
		}
	default:
		return nil
	}
}

// mixedOutputArgs renders the filter_complex graph of §4.4's "Mixed output"
// contract: stdin PCM from the TeamSpeak Ingestor mixed against the main
// input's audio, with per-track volume/adelay filters each carrying a
// ZMQ sink labeled after the mixin/output id so the Reconciler can re-tune
// volume/delay without a restart.
func (s Spec) mixedOutputArgs() []string {
	m := s.Mixin
	outLabel := "orig_" + shortID(s.UnitID)
	mixLabel := "mix_" + shortID(m.ID)

	delayFilter := ""
	if m.Delay > 0 {
		delayFilter = fmt.Sprintf("adelay@%s=delays=%d|%d,", mixLabel, m.Delay, m.Delay)
	}

	filter := fmt.Sprintf(
		"[1:a]volume@%s=%s[a1o];"+
			"[a1o]azmq=bind_address=tcp\\://127.0.0.1\\:%d[a1];"+
			"[0:a]aresample=async=1,%svolume@%s=%s[a2o];"+
			"[a2o]azmq=bind_address=tcp\\://127.0.0.1\\:%d[a2];"+
			"[a1][a2]amix=inputs=2:duration=longest[aout]",
		outLabel, ratio(s.MixinVolume), s.ZMQPort(),
		delayFilter, mixLabel, ratio(m.Volume), mixinZMQPort(m.ID),
	)

	return []string{
		s.FFmpegPath, "-loglevel", "error", "-nostats",
		"-f", "s16le", "-ar", "48000", "-ac", "2", "-i", "pipe:0",
		"-i", s.SourceURL,
		"-filter_complex", filter,
		"-map", "[aout]", "-map", "1:v",
		"-c:a", "aac", "-c:v", "copy", "-shortest",
		"-f", "flv", s.DestURL,
	}
}

func mixinZMQPort(id uuid.UUID) uint16 { return zmqPortFor(id) }

func shortID(id uuid.UUID) string { return strings.ReplaceAll(id.String(), "-", "")[:8] }

// ratio renders a 0..1000 volume as the 0..10.0 ffmpeg `volume` filter
// fraction §4.6 documents.
func ratio(v uint16) string {
	return strconv.FormatFloat(float64(v)/100, 'f', 3, 64)
}

// RecordingPath renders the §4.4 "FLV recording" destination contract.
func RecordingPath(srsHTTPDir, restreamKey string, outputID uuid.UUID, unixTS int64) string {
	return (&url.URL{
		Scheme: "file",
		Path:   path.Join(srsHTTPDir, "dvr", restreamKey, outputID.String(), fmt.Sprintf("%d.flv", unixTS)),
	}).String()
}
