package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBusDedupesIdenticalSuccessors(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(1)
	_, changed := b.Publish(1)
	assert.False(t, changed, "republishing the same value must not bump the revision")

	_, changed = b.Publish(2)
	assert.True(t, changed)
}

func TestSubscriptionObservesLatestValue(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(0)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	val, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, val, "a subscriber that fell behind should observe the latest value, not every intermediate one")
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(0)
	sub := b.Subscribe()
	sub.Close()

	b.Publish(1) // must not panic or block even though sub is detached
}

func TestNextRespectsContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := New(0)
	sub := b.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
