// Package api implements the API Facade of §4.8/§6: a single POST /api
// request/response endpoint for queries and mutations, a GET /api
// WebSocket endpoint for subscriptions, a dev playground, SPA serving, and
// proxying of /hls and /dvr to SRS's HTTP server.
//
// §6 describes a GraphQL-flavored wire format ({query, variables,
// operationName} in, {data}/{errors} out) without requiring a GraphQL
// engine; no example repo in the retrieved pack imports one (no
// graphql-go, gqlgen, or similar), so this implements the documented
// operation set directly as a name-dispatched table instead of building or
// importing a query-language parser — see DESIGN.md.
package api

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mrecords121/ephyr/internal/callback"
	"github.com/mrecords121/ephyr/internal/dvr"
	"github.com/mrecords121/ephyr/internal/logging"
	"github.com/mrecords121/ephyr/internal/metrics"
	"github.com/mrecords121/ephyr/internal/state"
)

const componentName = "api"

var log = logging.ForComponent(componentName)

// Config carries everything the facade needs beyond the Store itself.
type Config struct {
	PublicHost     string
	SRSHTTPAddr    string // host:port SRS's HTTP server listens on, proxied for /hls and /dvr
	CallbackSecret []byte
	DVRBaseDir     string
	SPADir         string // directory holding the built single-page app, empty disables serving it
}

// Server assembles the Echo router implementing §6's full external
// interface.
type Server struct {
	store  *state.Store
	cfg    Config
	dvr    *dvr.Store
	echo   *echo.Echo
	disp   *dispatcher
	hlsRP  *httputil.ReverseProxy
	dvrRP  *httputil.ReverseProxy
}

// New builds a ready-to-serve Server. callbackHandler is mounted under
// /callback so SRS's http_hooks can reach it without a second listener. m
// may be nil, in which case no /metrics endpoint is mounted.
func New(store *state.Store, cfg Config, callbackHandler *callback.Handler, m *metrics.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	srsTarget := &url.URL{Scheme: "http", Host: cfg.SRSHTTPAddr}

	s := &Server{
		store: store,
		cfg:   cfg,
		dvr:   dvr.New(cfg.DVRBaseDir),
		echo:  e,
		hlsRP: httputil.NewSingleHostReverseProxy(srsTarget),
		dvrRP: httputil.NewSingleHostReverseProxy(srsTarget),
	}
	s.disp = newDispatcher(s)

	if cfg.CallbackSecret != nil && callbackHandler != nil {
		callbackHandler.Register(e.Group("/callback"))
	}

	e.POST("/api", s.handleAPI)
	e.GET("/api", s.handleWebSocket)
	e.GET("/api/playground", s.handlePlayground)
	e.GET("/hls/*", s.handleHLSProxy)
	e.GET("/dvr/*", s.handleDVRProxy)

	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	if cfg.SPADir != "" {
		e.Static("/", cfg.SPADir)
	}

	return s
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHLSProxy(c echo.Context) error {
	s.hlsRP.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleDVRProxy(c echo.Context) error {
	s.dvrRP.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handlePlayground(c echo.Context) error {
	return c.HTML(http.StatusOK, playgroundHTML)
}

const playgroundHTML = `<!doctype html>
<html><head><title>restreamer api playground</title></head>
<body>
<p>POST a JSON body of the form {"query":"<operationName>","variables":{...}} to /api.</p>
</body></html>`
