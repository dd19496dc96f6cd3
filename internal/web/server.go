// Package web serves the dashboard over HTTP: an HTML page, JSON snapshots,
// a WebSocket live feed and the control API.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/heater-dashboard/internal/control"
	"github.com/sweeney/heater-dashboard/internal/logger"
	"github.com/sweeney/heater-dashboard/internal/mqtt"
	"github.com/sweeney/heater-dashboard/internal/status"
)

const (
	maxHeaderBytes    = 1 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Controller is the session surface behind the write endpoints.
type Controller interface {
	SetTargetTemperature(ctx context.Context, v float64) control.PublishResult
	PublishSchedule(ctx context.Context, s control.Schedule) control.PublishResult
	ReadSchedule(ctx context.Context) (control.Schedule, bool, error)
	PublishMode(ctx context.Context, m control.ModeSettings) control.PublishResult
	CheckBus(ctx context.Context) mqtt.Diagnostic
	Reconnect(ctx context.Context) error
}

// Options configure the server.
type Options struct {
	Addr string
	// PasswordHash is a bcrypt hash; empty leaves the API open.
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	tracker    *status.Tracker
	ctrl       Controller
	auth       *authenticator
	metrics    http.Handler
	log        *logger.Logger
}

// New creates a Server. metrics may be nil, in which case /metrics is not served.
func New(opts Options, tracker *status.Tracker, ctrl Controller, metrics http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		tracker: tracker,
		ctrl:    ctrl,
		metrics: metrics,
		log:     log.Named("web"),
	}
	if opts.PasswordHash != "" {
		s.auth = newAuthenticator(opts.PasswordHash, opts.JWTSecret, opts.TokenTTL)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger)

	r.GET("/", s.handleIndex)
	r.GET("/index.html", s.handleIndex)
	r.GET("/index.json", s.handleJSON)
	r.GET("/series.json", s.handleSeries)
	r.GET("/ws", s.handleWS)
	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	r.POST("/auth/login", s.handleLogin)

	api := r.Group("/api/v1", s.requireAuth)
	{
		api.GET("/schedule", s.handleGetSchedule)
		api.POST("/schedule", s.handlePostSchedule)
		api.POST("/target", s.handlePostTarget)
		api.POST("/mode", s.handlePostMode)
		api.POST("/reconnect", s.handleReconnect)
		api.POST("/bus/check", s.handleBusCheck)
	}
	return r
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debugw("HTTP request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"latency", time.Since(start))
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderHTML(c.Writer, s.tracker.Snapshot()); err != nil {
		s.log.Warnw("Render index failed", "error", err)
	}
}

func (s *Server) handleJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleSeries(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatSeriesJSON(s.tracker.Series()))
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.tracker.Snapshot()
	c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Version: snap.Version,
		Stale:   snap.Stale(),
		Uptime:  int64(snap.Uptime().Seconds()),
	})
}
