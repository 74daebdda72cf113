package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"

	"github.com/loykin/comfytray/internal/metrics"
	"github.com/loykin/comfytray/internal/supervisor"
)

// Supervisor is the subset of the supervisor facade the API exposes.
type Supervisor interface {
	Status() supervisor.Snapshot
	Restart() error
	OpenTab() error
}

// Resources reports sampled resource usage.
type Resources interface {
	Latest(name string) (metrics.ProcessMetrics, bool)
	History(name string) []metrics.ProcessMetrics
}

// Router provides embeddable HTTP handlers for controlling the supervisor.
// Endpoints:
//
//	GET  {basePath}/status     current status snapshot
//	GET  {basePath}/resources  latest CPU/RSS samples of the child
//	POST {basePath}/restart    restart the service
//	POST {basePath}/open-tab   open the web UI in the browser
//	GET  {basePath}/metrics    prometheus exposition (when a handler is set)
//
// basePath may be empty or start with '/'; no trailing slash. POST requests
// must carry Content-Type: application/json, which a browser cannot send
// cross-origin without a preflight the API never answers.
type Router struct {
	sup      Supervisor
	basePath string
	metrics  http.Handler
	res      Resources
}

// NewRouter constructs a Router. metricsHandler and res may be nil, which
// leaves the corresponding endpoints returning 404.
func NewRouter(sup Supervisor, basePath string, metricsHandler http.Handler, res Resources) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), metrics: metricsHandler, res: res}
}

// BasePath returns the normalized mount point.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/resources", r.handleResources)
	group.POST("/restart", requireJSON, r.handleRestart)
	group.POST("/open-tab", requireJSON, r.handleOpenTab)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// MountEcho attaches the API to an existing echo server under basePath.
func (r *Router) MountEcho(e *echo.Echo) {
	h := echo.WrapHandler(r.Handler())
	base := r.basePath
	if base == "" {
		e.Any("/*", h)
		return
	}
	e.Any(base, h)
	e.Any(base+"/*", h)
}

// NewServer binds addr, which must be a loopback address, and serves the
// router in the background. Bind errors are returned synchronously.
func NewServer(addr string, r *Router, log *slog.Logger) (*http.Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := requireLoopback(addr); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// restart may block for the stop grace period
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control api stopped", "error", err)
		}
	}()
	log.Info("control api listening", "addr", server.Addr, "base", r.basePath)
	return server, nil
}

// Shutdown stops srv, waiting at most timeout for in-flight requests.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type resourcesResp struct {
	Latest  *metrics.ProcessMetrics  `json:"latest,omitempty"`
	History []metrics.ProcessMetrics `json:"history"`
}

func requireJSON(c *gin.Context) {
	if c.ContentType() != gin.MIMEJSON {
		writeJSON(c, http.StatusUnsupportedMediaType, errorResp{Error: "Content-Type must be application/json"})
		c.Abort()
		return
	}
	c.Next()
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status())
}

func (r *Router) handleResources(c *gin.Context) {
	if r.res == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "resource sampling disabled"})
		return
	}
	name := r.sup.Status().Process.Name
	out := resourcesResp{History: r.res.History(name)}
	if m, ok := r.res.Latest(name); ok {
		out.Latest = &m
	}
	if out.History == nil {
		out.History = []metrics.ProcessMetrics{}
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRestart(c *gin.Context) {
	r.run(c, r.sup.Restart)
}

func (r *Router) handleOpenTab(c *gin.Context) {
	r.run(c, r.sup.OpenTab)
}

func (r *Router) run(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrClosed) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
