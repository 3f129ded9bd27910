package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreApplyPersistsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := Open(path)
	require.NoError(t, err)

	sub := store.Subscribe()
	defer sub.Close()

	url := "rtmp://origin.test/live"
	_, err = store.Apply(SetRestream(SetRestreamInput{Key: "live", URL: &url}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	val, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Len(t, val.Restreams, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"live"`)
}

func TestStoreApplyFailureLeavesStateUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := Open(path)
	require.NoError(t, err)

	before, beforeRev := store.Snapshot()

	_, err = store.Apply(RemoveRestream(NewID()))
	assert.Error(t, err)

	after, afterRev := store.Snapshot()
	assert.Equal(t, beforeRev, afterRev)
	assert.Equal(t, before, after)
}

func TestOpenResetsLiveStatusOnReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := Open(path)
	require.NoError(t, err)

	url := "rtmp://origin.test/live"
	next, err := store.Apply(SetRestream(SetRestreamInput{Key: "live", URL: &url}))
	require.NoError(t, err)
	next.Restreams[0].Input.Endpoints[0].Status = StatusOnline
	require.NoError(t, Save(path, next))

	reopened, err := Open(path)
	require.NoError(t, err)
	got, _ := reopened.Snapshot()
	assert.Equal(t, StatusOffline, got.Restreams[0].Input.Endpoints[0].Status)
}
