package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidRestreamKey(t *testing.T) {
	assert.True(t, ValidRestreamKey("live"))
	assert.True(t, ValidRestreamKey("a"))
	assert.True(t, ValidRestreamKey("ab_cd-12"))
	assert.False(t, ValidRestreamKey(""))
	assert.False(t, ValidRestreamKey("this-key-is-way-too-long-to-be-valid"))
	assert.False(t, ValidRestreamKey("has space"))
	assert.False(t, ValidRestreamKey("has/slash"))
}

func TestValidateRejectsDuplicateKeys(t *testing.T) {
	s := &State{Restreams: []*Restream{
		{ID: NewID(), Key: "dup", Input: Input{ID: NewID()}},
		{ID: NewID(), Key: "dup", Input: Input{ID: NewID()}},
	}}
	err := Validate(s)
	assert.Error(t, err)
}

func TestValidateRejectsBadOutputScheme(t *testing.T) {
	s := validBaseState()
	s.Restreams[0].Outputs = append(s.Restreams[0].Outputs, &Output{
		ID: NewID(), Dst: "ftp://example.test/x",
	})
	assert.Error(t, Validate(s))
}

func TestValidateRejectsNonFlvFileOutput(t *testing.T) {
	s := validBaseState()
	s.Restreams[0].Outputs = append(s.Restreams[0].Outputs, &Output{
		ID: NewID(), Dst: "file:///var/www/srs/dvr/live/out/1.mp4",
	})
	assert.Error(t, Validate(s))
}

func TestValidateAcceptsFlvFileOutput(t *testing.T) {
	s := validBaseState()
	s.Restreams[0].Outputs = append(s.Restreams[0].Outputs, &Output{
		ID: NewID(), Dst: "file:///var/www/srs/dvr/live/out/1.flv", Volume: 1000,
	})
	assert.NoError(t, Validate(s))
}

func TestValidateRejectsTooManyMixins(t *testing.T) {
	s := validBaseState()
	o := &Output{ID: NewID(), Dst: "rtmp://example.test/app/key", Volume: 1000}
	for i := 0; i < MaxMixinsPerOutput+1; i++ {
		o.Mixins = append(o.Mixins, &Mixin{ID: NewID(), Src: "ts://host:9987/chan?name=x"})
	}
	s.Restreams[0].Outputs = append(s.Restreams[0].Outputs, o)
	assert.Error(t, Validate(s))
}

func TestValidateRejectsFailoverWithoutSyntheticKeys(t *testing.T) {
	s := validBaseState()
	s.Restreams[0].Input.Src = FailoverSrc{Inputs: [2]*Input{
		{ID: NewID(), Endpoints: []*InputEndpoint{{ID: NewID(), Kind: EndpointRTMP, Key: "wrong"}}},
		{ID: NewID(), Endpoints: []*InputEndpoint{{ID: NewID(), Kind: EndpointRTMP, Key: "backup"}}},
	}}
	assert.Error(t, Validate(s))
}

func validBaseState() *State {
	return &State{Restreams: []*Restream{
		{
			ID:  NewID(),
			Key: "live",
			Input: Input{
				ID:        NewID(),
				Endpoints: []*InputEndpoint{{ID: NewID(), Kind: EndpointRTMP, Key: "origin"}},
				Enabled:   true,
			},
			Outputs: []*Output{},
		},
	}}
}
