// Package httpserver exposes the observation and test API consumed by the
// browser frontend.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridprobe/gridprobe/internal/control"
	"github.com/gridprobe/gridprobe/internal/history"
	"github.com/gridprobe/gridprobe/internal/hub"
	"github.com/gridprobe/gridprobe/internal/model"
	"github.com/gridprobe/gridprobe/internal/report"
	"github.com/gridprobe/gridprobe/internal/signals"
	"github.com/gridprobe/gridprobe/internal/status"
	"github.com/gridprobe/gridprobe/internal/testcfg"
	"github.com/gridprobe/gridprobe/internal/testrun"
)

// DefaultHistoryLimit caps history responses when the client does not ask
// for a specific window.
const DefaultHistoryLimit = 500

// Deps carries the injected application components. The server holds no
// state of its own beyond the listener.
type Deps struct {
	History   *history.Store
	Hub       *hub.Hub
	Tracker   *status.Tracker
	Control   *control.Controller
	Configs   *testcfg.Store
	Engine    *testrun.Engine
	Protocols *report.Store
	Signals   *signals.Manager
}

// Server provides the HTTP API and the SSE live stream.
type Server struct {
	addr      string
	deps      Deps
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new API server.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.registerRoutes(r)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the SSE stream stays open for the session's
		// whole lifetime.
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.GET("/stream", s.handleStream)

	api.GET("/history", s.handleHistory)
	api.POST("/history/:channel/clear", s.handleHistoryClear)

	api.POST("/client/start", s.handleStackStart(model.ChannelClient))
	api.POST("/client/stop", s.handleStackStop(model.ChannelClient))
	api.GET("/client/status", s.handleStackStatus(model.ChannelClient))
	api.POST("/server/start", s.handleStackStart(model.ChannelServer))
	api.POST("/server/stop", s.handleStackStop(model.ChannelServer))
	api.GET("/server/status", s.handleStackStatus(model.ChannelServer))

	api.GET("/tests/configs", s.handleConfigList)
	api.GET("/tests/configs/:id", s.handleConfigGet)
	api.POST("/tests/configs", s.handleConfigCreate)
	api.PUT("/tests/configs/:id", s.handleConfigUpdate)
	api.DELETE("/tests/configs/:id", s.handleConfigDelete)

	api.POST("/tests/run", s.handleRunStart)
	api.GET("/tests/run", s.handleRunStatus)
	api.POST("/tests/abort", s.handleRunAbort)

	api.GET("/protocols", s.handleProtocolList)
	api.GET("/protocols/:id", s.handleProtocolGet)
	api.GET("/protocols/:id/steps/:index/log", s.handleProtocolStepLog)
	api.DELETE("/protocols/:id", s.handleProtocolDelete)

	api.GET("/signals", s.handleSignalList)
	api.GET("/signals/:name", s.handleSignalGet)
	api.PUT("/signals/:name", s.handleSignalSave)
	api.DELETE("/signals/:name", s.handleSignalDelete)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"subscribers": s.deps.Hub.SubscriberCount(),
	})
}

// fail converts component errors into the API error taxonomy: NotFound
// maps to 404, Conflict to 409, everything else is a storage or upstream
// failure on this one request.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, history.ErrUnknownChannel),
		errors.Is(err, control.ErrUnknownChannel),
		errors.Is(err, testcfg.ErrNotFound),
		errors.Is(err, testrun.ErrConfigNotFound),
		errors.Is(err, report.ErrNotFound),
		errors.Is(err, signals.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, testrun.ErrRunActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
