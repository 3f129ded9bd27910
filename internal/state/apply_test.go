package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetRestreamCreatesWithStableID(t *testing.T) {
	s := &State{Restreams: []*Restream{}}

	url := "rtmp://origin.test/live"
	next, err := SetRestream(SetRestreamInput{Key: "live", URL: &url})(s)
	require.NoError(t, err)
	require.Len(t, next.Restreams, 1)
	id := next.Restreams[0].ID

	next2, err := SetRestream(SetRestreamInput{ID: &id, Key: "live2", URL: &url})(next)
	require.NoError(t, err)
	assert.Equal(t, id, next2.Restreams[0].ID, "editing a restream must preserve its id")
	assert.Equal(t, "live2", next2.Restreams[0].Key)
}

func TestSetRestreamRejectsDuplicateKey(t *testing.T) {
	s := &State{Restreams: []*Restream{}}
	url := "rtmp://origin.test/a"

	next, err := SetRestream(SetRestreamInput{Key: "a", URL: &url})(s)
	require.NoError(t, err)

	_, err = SetRestream(SetRestreamInput{Key: "a", URL: &url})(next)
	assert.Error(t, err)
}

func TestSetRestreamWithBackupProducesFailoverSrc(t *testing.T) {
	s := &State{Restreams: []*Restream{}}
	mainURL := "rtmp://main.test/live"
	backupURL := "rtmp://backup.test/live"

	next, err := SetRestream(SetRestreamInput{
		Key: "fo", URL: &mainURL, WithBackup: true, BackupURL: &backupURL,
	})(s)
	require.NoError(t, err)

	src, ok := next.Restreams[0].Input.Src.(FailoverSrc)
	require.True(t, ok)
	assert.Equal(t, "main", src.Inputs[0].Endpoints[0].Key)
	assert.Equal(t, "backup", src.Inputs[1].Endpoints[0].Key)
	require.NoError(t, Validate(next))
}

func TestSetRestreamPreservesMainEndpointAcrossFailoverRoundTrip(t *testing.T) {
	s := &State{Restreams: []*Restream{}}
	url := "rtmp://origin.test/live"
	backupURL := "rtmp://backup.test/live"

	next, err := SetRestream(SetRestreamInput{Key: "live", URL: &url})(s)
	require.NoError(t, err)
	id := next.Restreams[0].ID
	mainEndpointID := next.Restreams[0].Input.Endpoints[0].ID

	next2, err := SetRestream(SetRestreamInput{
		ID: &id, Key: "live", URL: &url, WithBackup: true, BackupURL: &backupURL,
	})(next)
	require.NoError(t, err)
	require.Len(t, next2.Restreams[0].Input.Endpoints, 1)
	assert.Equal(t, mainEndpointID, next2.Restreams[0].Input.Endpoints[0].ID,
		"editing Remote to Failover must preserve the main endpoint's id")

	next3, err := SetRestream(SetRestreamInput{ID: &id, Key: "live", URL: &url})(next2)
	require.NoError(t, err)
	require.Len(t, next3.Restreams[0].Input.Endpoints, 1)
	assert.Equal(t, mainEndpointID, next3.Restreams[0].Input.Endpoints[0].ID,
		"editing Failover back to Remote must preserve the main endpoint's id")
}

func TestRemoveRestreamNotFound(t *testing.T) {
	s := &State{Restreams: []*Restream{}}
	_, err := RemoveRestream(NewID())(s)
	assert.Error(t, err)
}

func TestSetOutputCreateAndEdit(t *testing.T) {
	s := validBaseState()
	rid := s.Restreams[0].ID

	next, err := SetOutput(SetOutputInput{RestreamID: rid, Dst: "rtmp://example.test/app/key"})(s)
	require.NoError(t, err)
	require.Len(t, next.Restreams[0].Outputs, 1)
	oid := next.Restreams[0].Outputs[0].ID

	next2, err := SetOutput(SetOutputInput{RestreamID: rid, ID: &oid, Dst: "rtmp://example.test/app/key2"})(next)
	require.NoError(t, err)
	assert.Equal(t, oid, next2.Restreams[0].Outputs[0].ID)
	assert.Equal(t, "rtmp://example.test/app/key2", next2.Restreams[0].Outputs[0].Dst)
}

func TestTuneVolumeAndDelayDoNotTouchOtherFields(t *testing.T) {
	s := validBaseState()
	rid := s.Restreams[0].ID

	next, err := SetOutput(SetOutputInput{
		RestreamID: rid,
		Dst:        "rtmp://example.test/app/key",
		MixinSrcs:  []MixinInput{{Src: "ts://host:9987/chan?name=bot", Volume: 100}},
	})(s)
	require.NoError(t, err)
	oid := next.Restreams[0].Outputs[0].ID
	mid := next.Restreams[0].Outputs[0].Mixins[0].ID

	next2, err := TuneVolume(rid, oid, &mid, 500)(next)
	require.NoError(t, err)
	assert.Equal(t, uint16(500), next2.Restreams[0].Outputs[0].Mixins[0].Volume)
	assert.Equal(t, uint32(0), next2.Restreams[0].Outputs[0].Mixins[0].Delay)

	next3, err := TuneDelay(rid, oid, mid, 1500)(next2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1500), next3.Restreams[0].Outputs[0].Mixins[0].Delay)
	assert.Equal(t, uint16(500), next3.Restreams[0].Outputs[0].Mixins[0].Volume, "tuning delay must not reset volume")
}

func TestSetPasswordLifecycle(t *testing.T) {
	s := &State{}

	next, err := SetPassword(SetPasswordInput{New: strPtr("a"), KDF: Moderate})(s)
	require.NoError(t, err)
	require.NotNil(t, next.PasswordHash)

	_, err = SetPassword(SetPasswordInput{New: strPtr("b"), KDF: Moderate})(next)
	assert.Error(t, err, "changing an existing password without the old one must fail")

	next2, err := SetPassword(SetPasswordInput{Old: strPtr("a"), New: strPtr("b"), KDF: Moderate})(next)
	require.NoError(t, err)

	next3, err := SetPassword(SetPasswordInput{Old: strPtr("b")})(next2)
	require.NoError(t, err)
	assert.Nil(t, next3.PasswordHash)
}

func strPtr(s string) *string { return &s }
