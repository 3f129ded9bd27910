package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrecords121/ephyr/internal/state"
)

type fakeStore struct {
	applied []state.Mutation
	state   *state.State
	fail    bool
}

func (f *fakeStore) Apply(m state.Mutation) (*state.State, error) {
	f.applied = append(f.applied, m)
	if f.fail {
		return nil, assert.AnError
	}
	if f.state == nil {
		f.state = defaultState()
	}
	return m(f.state)
}

func defaultState() *state.State {
	return &state.State{Restreams: []*state.Restream{{
		Key: "live",
		Input: state.Input{
			Enabled:   true,
			Src:       state.RemoteSrc{URL: "rtmp://origin/live"},
			Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "live"}},
		},
	}}}
}

func sig(secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("sig="))
	return "sig=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(store StatusSetter, secret []byte) *echo.Echo {
	e := echo.New()
	h := New(store, secret)
	h.Register(e.Group("/callback"))
	return e
}

func post(e *echo.Echo, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestOnPublishAcceptsValidSignature(t *testing.T) {
	secret := []byte("shh")
	store := &fakeStore{}
	e := newTestServer(store, secret)

	form := url.Values{"app": {"live"}, "stream": {"live"}, "param": {sig(secret)}}
	rec := post(e, "/callback/on_publish", form)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, store.applied, 1)
	assert.Equal(t, state.StatusOnline, store.state.Restreams[0].Input.Endpoints[0].Status)
}

func TestOnPublishRejectsBadSignature(t *testing.T) {
	store := &fakeStore{}
	e := newTestServer(store, []byte("shh"))

	form := url.Values{"app": {"live"}, "stream": {"live"}, "param": {"sig=deadbeef"}}
	rec := post(e, "/callback/on_publish", form)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.applied)
}

func TestOnPublishRejectsWhenApplyFails(t *testing.T) {
	secret := []byte("shh")
	store := &fakeStore{fail: true}
	e := newTestServer(store, secret)

	form := url.Values{"app": {"live"}, "stream": {"live"}, "param": {sig(secret)}}
	rec := post(e, "/callback/on_publish", form)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOnPublishRejectsWhenInputDisabled(t *testing.T) {
	secret := []byte("shh")
	store := &fakeStore{state: &state.State{Restreams: []*state.Restream{{
		Key: "live",
		Input: state.Input{
			Enabled:   false,
			Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "live", Status: state.StatusOffline}},
		},
	}}}}
	e := newTestServer(store, secret)

	form := url.Values{"app": {"live"}, "stream": {"live"}, "param": {sig(secret)}}
	rec := post(e, "/callback/on_publish", form)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, state.StatusOffline, store.state.Restreams[0].Input.Endpoints[0].Status)
}

func TestOnPublishRejectsWhenPublisherAlreadyBound(t *testing.T) {
	secret := []byte("shh")
	store := &fakeStore{state: &state.State{Restreams: []*state.Restream{{
		Key: "live",
		Input: state.Input{
			Enabled:   true,
			Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "live", Status: state.StatusOnline}},
		},
	}}}}
	e := newTestServer(store, secret)

	form := url.Values{"app": {"live"}, "stream": {"live"}, "param": {sig(secret)}}
	rec := post(e, "/callback/on_publish", form)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOnPublishScopesLookupByRestreamKey(t *testing.T) {
	// Two Restreams sharing the common endpoint key "origin"; publishing
	// to restream "b" must never touch restream "a"'s endpoint.
	secret := []byte("shh")
	store := &fakeStore{state: &state.State{Restreams: []*state.Restream{
		{Key: "a", Input: state.Input{Enabled: true, Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "origin", Status: state.StatusOffline}}}},
		{Key: "b", Input: state.Input{Enabled: true, Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "origin", Status: state.StatusOffline}}}},
	}}}
	e := newTestServer(store, secret)

	form := url.Values{"app": {"b"}, "stream": {"origin"}, "param": {sig(secret)}}
	rec := post(e, "/callback/on_publish", form)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, state.StatusOffline, store.state.Restreams[0].Input.Endpoints[0].Status)
	assert.Equal(t, state.StatusOnline, store.state.Restreams[1].Input.Endpoints[0].Status)
}

func TestOnUnpublishClearsStatus(t *testing.T) {
	secret := []byte("shh")
	store := &fakeStore{state: &state.State{Restreams: []*state.Restream{{
		Key: "live",
		Input: state.Input{
			Enabled:   true,
			Endpoints: []*state.InputEndpoint{{Kind: state.EndpointRTMP, Key: "live", Status: state.StatusOnline}},
		},
	}}}}
	e := newTestServer(store, secret)

	form := url.Values{"app": {"live"}, "stream": {"live"}, "param": {sig(secret)}}
	rec := post(e, "/callback/on_unpublish", form)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, state.StatusOffline, store.state.Restreams[0].Input.Endpoints[0].Status)
}

func TestOnPlayDedupesRepeatedSession(t *testing.T) {
	secret := []byte("shh")
	h := New(&fakeStore{}, secret)

	first := h.markPlaying("sess-1")
	second := h.markPlaying("sess-1")

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 2, h.playing["sess-1"])
}

func TestOnStopClearsSession(t *testing.T) {
	h := New(&fakeStore{}, []byte("shh"))
	h.markPlaying("sess-1")
	h.markStopped("sess-1")

	_, tracked := h.index["sess-1"]
	assert.False(t, tracked)
}

func TestSetEndpointOnlineRejectsUnknownRestream(t *testing.T) {
	mut := setEndpointOnline("missing", "live")
	_, err := mut(defaultState())
	require.Error(t, err)
}

func TestSetEndpointOnlineUpdatesMatchingEndpoint(t *testing.T) {
	s := defaultState()
	mut := setEndpointOnline("live", "live")
	_, err := mut(s)
	require.NoError(t, err)
	assert.Equal(t, state.StatusOnline, s.Restreams[0].Input.Endpoints[0].Status)
}
