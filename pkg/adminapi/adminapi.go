// Package adminapi exposes a read-only HTTP+websocket view of the
// core object graph: sinks, sources, sink-inputs and source-outputs,
// plus a live stream of core.Event as they occur. It fills the
// observability gap left by the out-of-scope D-Bus bridge without
// reintroducing D-Bus itself.
package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/sonorad/pkg/commons"
	"github.com/rapidaai/sonorad/pkg/core"
)

// Server wraps a gin engine serving the introspection endpoints.
type Server struct {
	core   *core.Core
	log    commons.Logger
	engine *gin.Engine
	up     websocket.Upgrader
}

// New builds a Server bound to c. CORS is wide-open (AllowAllOrigins)
// since this is a local operator surface, not a multi-tenant API.
func New(c *core.Core, log commons.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
		AllowHeaders:    []string{"*"},
	}))

	s := &Server{
		core:   c,
		log:    log,
		engine: e,
		up:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.GET("/sinks", s.listSinks)
	s.engine.GET("/sources", s.listSources)
	s.engine.GET("/sink-inputs", s.listSinkInputs)
	s.engine.GET("/source-outputs", s.listSourceOutputs)
	s.engine.GET("/events", s.streamEvents)
}

// ListenAndServe blocks serving on addr until the http.Server it
// creates internally returns an error. That server is not exposed, so
// there is no way to shut it down; callers that need shutdown use
// Handler with their own *http.Server.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

// Handler exposes the underlying http.Handler for callers that want
// to own the *http.Server themselves (graceful shutdown, TLS, ...).
func (s *Server) Handler() http.Handler { return s.engine }
