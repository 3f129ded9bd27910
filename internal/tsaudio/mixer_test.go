package tsaudio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMixerEmitsSilenceWithNoTalkers(t *testing.T) {
	m := NewMixer()
	frame := m.Tick()
	assert.Len(t, frame, samplesPerTick*Channels)
	for _, s := range frame {
		assert.Equal(t, int16(0), s)
	}
}

func TestMixerSumsTwoTalkers(t *testing.T) {
	m := NewMixer()
	frame := make([]int16, samplesPerTick*Channels)
	for i := range frame {
		frame[i] = 1000
	}
	m.Feed(1, frame)
	m.Feed(2, frame)

	mixed := m.Tick()
	assert.Equal(t, int16(2000), mixed[0])
}

func TestMixerSaturatesInsteadOfWrapping(t *testing.T) {
	m := NewMixer()
	hot := make([]int16, samplesPerTick*Channels)
	for i := range hot {
		hot[i] = 30000
	}
	m.Feed(1, hot)
	m.Feed(2, hot)

	mixed := m.Tick()
	assert.Equal(t, int16(32767), mixed[0])
}

func TestMixerDropTalkerRemovesContribution(t *testing.T) {
	m := NewMixer()
	frame := make([]int16, samplesPerTick*Channels)
	for i := range frame {
		frame[i] = 1000
	}
	m.Feed(1, frame)
	m.DropTalker(1)

	mixed := m.Tick()
	assert.Equal(t, int16(0), mixed[0])
}

func TestRingBufferReadPadsWithSilenceWhenUnderfilled(t *testing.T) {
	r := newRingBuffer(10)
	r.Write([]int16{1, 2, 3})
	out := r.Read(5)
	assert.Equal(t, []int16{1, 2, 3, 0, 0}, out)
}

func TestRingBufferDropsOldestOnOverflow(t *testing.T) {
	r := newRingBuffer(3)
	r.Write([]int16{1, 2, 3, 4})
	out := r.Read(3)
	assert.Equal(t, []int16{2, 3, 4}, out)
}
