package zmqctl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeCommandFormatsThreeDecimals(t *testing.T) {
	assert.Equal(t, "volume@mix0 volume 0.500", volumeCommand("mix0", 0.5))
}

func TestDelayCommandRepeatsValueForBothChannels(t *testing.T) {
	assert.Equal(t, "adelay@mix0 delays 120|120", delayCommand("mix0", 120))
}

func TestSendRetriesOnFailureThenSucceeds(t *testing.T) {
	s := New(12345)
	attempts := 0
	s.sendOnceFn = func(ctx context.Context, cmd string) error {
		attempts++
		if attempts < 3 {
			return errors.New("boom")
		}
		return nil
	}

	err := s.send(context.Background(), "volume@mix0 volume 1.000")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSendReturnsErrorAfterExhaustingAttempts(t *testing.T) {
	s := New(12345)
	attempts := 0
	s.sendOnceFn = func(ctx context.Context, cmd string) error {
		attempts++
		return errors.New("boom")
	}

	err := s.send(context.Background(), "volume@mix0 volume 1.000")
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSetVolumeAndSetDelayDispatchThroughSend(t *testing.T) {
	s := New(12345)
	var gotCmds []string
	s.sendOnceFn = func(ctx context.Context, cmd string) error {
		gotCmds = append(gotCmds, cmd)
		return nil
	}

	require.NoError(t, s.SetVolume(context.Background(), "mix0", 0.75))
	require.NoError(t, s.SetDelay(context.Background(), "mix0", 40))

	require.Len(t, gotCmds, 2)
	assert.Equal(t, "volume@mix0 volume 0.750", gotCmds[0])
	assert.Equal(t, "adelay@mix0 delays 40|40", gotCmds[1])
}
