// Package callback implements the Media-Server Callback Handler of §4.5:
// the HTTP endpoints SRS's http_hooks directive posts to on
// connect/publish/unpublish/play/stop, each carrying a "sig=" param that
// this handler checks against an HMAC-SHA256 keyed by the shared secret
// before updating live Status and play-out refcounts in the state Store.
//
// The handler shape (echo.Context-based, grouped under a dedicated Echo
// group, one method per route) is modeled on the teacher's
// internal/api/v2/api.go controller style.
package callback

import (
	"container/list"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/mrecords121/ephyr/internal/errors"
	"github.com/mrecords121/ephyr/internal/logging"
	"github.com/mrecords121/ephyr/internal/state"
)

const componentName = "callback"

var log = logging.ForComponent(componentName)

// sessionDedupCap bounds the on_play/on_stop session-id LRU described in
// SPEC_FULL.md's supplemented feature 4. A repeated on_play for a session
// already tracked is reported as a duplicate by markPlaying and still
// increments that session's refcount.
const sessionDedupCap = 4096

// StatusSetter is the subset of *state.Store the handler needs: flipping
// an endpoint's live Status on publish/unpublish. It is an interface so
// tests can substitute a fake store.
type StatusSetter interface {
	Apply(state.Mutation) (*state.State, error)
}

// Handler registers and serves the five SRS http_hooks routes.
type Handler struct {
	store  StatusSetter
	secret []byte

	mu       sync.Mutex
	sessions *list.List          // most-recently-seen session ids, front = newest
	index    map[string]*list.Element
	playing  map[string]int // session id -> refcount, guards duplicate on_play/on_stop
}

// New returns a Handler that authenticates requests with secret (shared
// with the srsconf-rendered http_hooks URL's query string, per §4.5) and
// applies status transitions through store.
func New(store StatusSetter, secret []byte) *Handler {
	return &Handler{
		store:    store,
		secret:   secret,
		sessions: list.New(),
		index:    make(map[string]*list.Element),
		playing:  make(map[string]int),
	}
}

// Register mounts the five hook routes on g.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/on_connect", h.onConnect)
	g.POST("/on_publish", h.onPublish)
	g.POST("/on_unpublish", h.onUnpublish)
	g.POST("/on_play", h.onPlay)
	g.POST("/on_stop", h.onStop)
}

type hookBody struct {
	ClientID string `form:"client_id"`
	App      string `form:"app"`
	Stream   string `form:"stream"`
	Param    string `form:"param"`
}

func (h *Handler) onConnect(c echo.Context) error {
	var body hookBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed hook body")
	}
	if !h.authenticate(body.Param) {
		return echo.NewHTTPError(http.StatusForbidden, "bad signature")
	}
	return c.JSON(http.StatusOK, map[string]int{"code": 0})
}

// onPublish implements §4.5's table exactly: 200 iff the endpoint exists,
// the Restream and its owning Input are both enabled, and no other
// publisher is currently bound to it; 403 otherwise. This is the one
// authorization boundary the system relies on for publisher access, per
// spec.md's Non-goal delegating publisher auth to the SRS hook's response.
func (h *Handler) onPublish(c echo.Context) error {
	var body hookBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed hook body")
	}
	if !h.authenticate(body.Param) {
		return echo.NewHTTPError(http.StatusForbidden, "bad signature")
	}

	if _, err := h.store.Apply(setEndpointOnline(body.App, body.Stream)); err != nil {
		log.Warn("on_publish rejected", "restream", body.App, "endpoint", body.Stream, "err", err)
		return echo.NewHTTPError(http.StatusForbidden, "publish rejected")
	}
	return c.JSON(http.StatusOK, map[string]int{"code": 0})
}

func (h *Handler) onUnpublish(c echo.Context) error {
	var body hookBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed hook body")
	}
	if !h.authenticate(body.Param) {
		return echo.NewHTTPError(http.StatusForbidden, "bad signature")
	}

	if _, err := h.store.Apply(setEndpointOffline(body.App, body.Stream)); err != nil {
		log.Warn("on_unpublish status update failed", "restream", body.App, "endpoint", body.Stream, "err", err)
	}
	return c.JSON(http.StatusOK, map[string]int{"code": 0})
}

func (h *Handler) onPlay(c echo.Context) error {
	var body hookBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed hook body")
	}
	if !h.authenticate(body.Param) {
		return echo.NewHTTPError(http.StatusForbidden, "bad signature")
	}

	if h.markPlaying(body.ClientID) {
		log.Debug("play session started", "client_id", body.ClientID, "stream", body.Stream)
	}
	return c.JSON(http.StatusOK, map[string]int{"code": 0})
}

func (h *Handler) onStop(c echo.Context) error {
	var body hookBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed hook body")
	}
	if !h.authenticate(body.Param) {
		return echo.NewHTTPError(http.StatusForbidden, "bad signature")
	}

	h.markStopped(body.ClientID)
	return c.JSON(http.StatusOK, map[string]int{"code": 0})
}

// authenticate verifies the HMAC-SHA256 signature SRS's http_hooks.param
// directive is configured to append, hex-encoded, after the literal
// string "sig=".
func (h *Handler) authenticate(param string) bool {
	const prefix = "sig="
	if len(param) <= len(prefix) || param[:len(prefix)] != prefix {
		return false
	}
	given, err := hex.DecodeString(param[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(prefix))
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(given, expected) == 1
}

// markPlaying records a play session, returning false if it was already
// tracked (a duplicate on_play SRS sometimes resends on hook retry).
func (h *Handler) markPlaying(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if elem, ok := h.index[sessionID]; ok {
		h.sessions.MoveToFront(elem)
		h.playing[sessionID]++
		return false
	}

	elem := h.sessions.PushFront(sessionID)
	h.index[sessionID] = elem
	h.playing[sessionID] = 1

	if h.sessions.Len() > sessionDedupCap {
		oldest := h.sessions.Back()
		id := oldest.Value.(string)
		h.sessions.Remove(oldest)
		delete(h.index, id)
		delete(h.playing, id)
	}
	return true
}

func (h *Handler) markStopped(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if elem, ok := h.index[sessionID]; ok {
		h.sessions.Remove(elem)
		delete(h.index, sessionID)
	}
	delete(h.playing, sessionID)
}

// setEndpointOnline implements onPublish's acceptance check. restreamKey
// is SRS's "app" (the Restream key), scoping the endpoint lookup so that
// two Restreams sharing a common endpoint key (e.g. both "origin") never
// collide. It fails closed: the restream must exist and be enabled, the
// endpoint must exist under an enabled Input, and no publisher may
// already be bound to it.
func setEndpointOnline(restreamKey, endpointKey string) state.Mutation {
	return func(cur *state.State) (*state.State, error) {
		r := findRestreamByKey(cur, restreamKey)
		if r == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, componentName, "no restream with key %q", restreamKey)
		}
		if !r.Input.Enabled {
			return nil, errors.Wrap(errors.CategoryUnauthorized, componentName, "restream %q is disabled", restreamKey)
		}
		owner, ep := findEndpointByKey(&r.Input, endpointKey)
		if ep == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, componentName, "no endpoint with key %q", endpointKey)
		}
		if !owner.Enabled {
			return nil, errors.Wrap(errors.CategoryUnauthorized, componentName, "input for endpoint %q is disabled", endpointKey)
		}
		if ep.Status == state.StatusOnline {
			return nil, errors.Wrap(errors.CategoryConflict, componentName, "endpoint %q already has a bound publisher", endpointKey)
		}
		ep.Status = state.StatusOnline
		return cur, nil
	}
}

// setEndpointOffline mirrors setEndpointOnline's restream scoping for
// on_unpublish, without the acceptance checks: an unpublish always clears
// whatever publisher was bound.
func setEndpointOffline(restreamKey, endpointKey string) state.Mutation {
	return func(cur *state.State) (*state.State, error) {
		r := findRestreamByKey(cur, restreamKey)
		if r == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, componentName, "no restream with key %q", restreamKey)
		}
		_, ep := findEndpointByKey(&r.Input, endpointKey)
		if ep == nil {
			return nil, errors.Wrap(errors.CategoryNotFound, componentName, "no endpoint with key %q", endpointKey)
		}
		ep.Status = state.StatusOffline
		return cur, nil
	}
}

func findRestreamByKey(cur *state.State, key string) *state.Restream {
	for _, r := range cur.Restreams {
		if r.Key == key {
			return r
		}
	}
	return nil
}

// findEndpointByKey searches in and, recursively, its Failover children
// for the endpoint with the given key, returning both the endpoint and
// the Input that directly owns it (whose own Enabled flag gates it
// independently of the top-level Restream's).
func findEndpointByKey(in *state.Input, key string) (*state.Input, *state.InputEndpoint) {
	for _, ep := range in.Endpoints {
		if ep.Key == key {
			return in, ep
		}
	}
	if fo, ok := in.Src.(state.FailoverSrc); ok {
		for _, child := range fo.Inputs {
			if child == nil {
				continue
			}
			if owner, ep := findEndpointByKey(child, key); ep != nil {
				return owner, ep
			}
		}
	}
	return nil, nil
}
