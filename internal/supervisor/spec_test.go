package supervisor

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNeedsRestartOnSourceChange(t *testing.T) {
	a := Spec{UnitID: uuid.New(), Kind: KindOutput, SourceURL: "rtmp://a", DestURL: "rtmp://out"}
	b := a
	b.SourceURL = "rtmp://b"
	assert.True(t, b.NeedsRestart(a))
}

func TestNeedsRestartFalseOnVolumeOnlyChange(t *testing.T) {
	id := uuid.New()
	mixID := uuid.New()
	a := Spec{
		UnitID: id, Kind: KindMixedOutput, SourceURL: "rtmp://a", DestURL: "rtmp://out",
		Mixin: &MixinSpec{ID: mixID, Src: "ts://host/chan", Volume: 200},
	}
	b := a
	mixin := *a.Mixin
	mixin.Volume = 800
	b.Mixin = &mixin

	assert.False(t, b.NeedsRestart(a))
}

func TestNeedsRestartOnMixinSourceChange(t *testing.T) {
	id := uuid.New()
	mixID := uuid.New()
	a := Spec{
		UnitID: id, Kind: KindMixedOutput,
		Mixin: &MixinSpec{ID: mixID, Src: "ts://host/chan-a"},
	}
	b := a
	mixin := *a.Mixin
	mixin.Src = "ts://host/chan-b"
	b.Mixin = &mixin

	assert.True(t, b.NeedsRestart(a))
}

func TestZMQPortIsDeterministicAndInRange(t *testing.T) {
	id := uuid.New()
	s := Spec{UnitID: id}
	p1 := s.ZMQPort()
	p2 := s.ZMQPort()
	assert.Equal(t, p1, p2)
	assert.GreaterOrEqual(t, p1, uint16(10000))
	assert.Less(t, p1, uint16(65000))
}

func TestMixedOutputCommandLineCarriesZMQSinks(t *testing.T) {
	s := Spec{
		UnitID:      uuid.New(),
		Kind:        KindMixedOutput,
		FFmpegPath:  "ffmpeg",
		SourceURL:   "rtmp://origin/live",
		DestURL:     "rtmp://cdn/live",
		MixinVolume: 1000,
		Mixin:       &MixinSpec{ID: uuid.New(), Src: "ts://host/chan", Volume: 500, Delay: 250},
	}
	argv := s.CommandLine()
	joined := ""
	for _, a := range argv {
		joined += a + " "
	}
	assert.Contains(t, joined, "azmq=bind_address")
	assert.Contains(t, joined, "adelay@")
	assert.Contains(t, joined, "amix=inputs=2")
}
