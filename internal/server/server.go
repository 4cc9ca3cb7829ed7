// Package server implements the hello target service: a single gin route
// that answers GET /say/hello with a fixed JSON greeting.
package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// Host is the fixed bind host.
	Host = "0.0.0.0"

	// Port is the fixed bind port.
	Port = 8000

	// HelloPath is the only route the service defines.
	HelloPath = "/say/hello"
)

// Access log sampling: per second and level, the first accessLogFirst
// entries are written, then every accessLogThereafter-th.
const (
	accessLogFirst      = 10
	accessLogThereafter = 1000
)

// DefaultAddr is the address the service binds to.
var DefaultAddr = net.JoinHostPort(Host, strconv.Itoa(Port))

// Greeting is the response body of HelloPath.
type Greeting struct {
	Message string `json:"message"`
}

// Hello is the greeting every request receives.
var Hello = Greeting{Message: "Hello!"}

// Server serves the hello route.
//
// Routes other than HelloPath fall through to gin's default handling,
// which answers 404 for unknown paths and for unregistered methods.
type Server struct {
	addr   string
	log    *zap.Logger
	router *gin.Engine
}

// New creates a server bound to addr once Run or Listen is called.
func New(addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(accessLog(log), gin.Recovery())

	router.GET(HelloPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, Hello)
	})

	return &Server{
		addr:   addr,
		log:    log,
		router: router,
	}
}

// Addr returns the configured bind address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the HTTP handler for the service.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until it fails.
// There is no shutdown path; the process exits to stop serving.
func (s *Server) Serve(ln net.Listener) error {
	port := Port
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	s.log.Info(fmt.Sprintf("Server is running on http://localhost:%d", port),
		zap.String("addr", ln.Addr().String()))

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return srv.Serve(ln)
}

// Run binds the configured address and serves on it.
// A bind failure is returned immediately; it is never retried.
func (s *Server) Run() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// accessLog logs handled requests at debug level and server errors at
// error level. Under load the sampler keeps both from flooding the log.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	log = log.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, time.Second, accessLogFirst, accessLogThereafter)
	}))

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zapcore.DebugLevel
		if status >= http.StatusInternalServerError {
			level = zapcore.ErrorLevel
		}
		if ce := log.Check(level, "request"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote", c.ClientIP()),
			)
		}
	}
}
