// Package server exposes the bridge's status and control API over HTTP.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xwaybridge/xwaybridge/internal/connector"
	"github.com/xwaybridge/xwaybridge/internal/history"
	"github.com/xwaybridge/xwaybridge/internal/metrics"
)

// Bridge is the surface the router drives. Tests substitute fakes.
type Bridge interface {
	Start() error
	Stop()
	Status() connector.Status
	SocketName() (string, bool)
	History(n int) ([]history.Event, error)
}

// Router provides embeddable HTTP handlers for the bridge.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/start
//	POST {basePath}/stop
//	GET  {basePath}/history
//	GET  {basePath}/healthz
//	GET  {basePath}/metrics
type Router struct {
	bridge   Bridge
	basePath string
}

func NewRouter(b Bridge, basePath string) *Router {
	return &Router{bridge: b, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/history", r.handleHistory)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, b Bridge) *http.Server {
	r := NewRouter(b, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

func (r *Router) handleStatus(c *gin.Context) {
	st := r.bridge.Status()
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.bridge.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	display, _ := r.bridge.SocketName()
	c.JSON(http.StatusOK, gin.H{"display": display})
}

func (r *Router) handleStop(c *gin.Context) {
	r.bridge.Stop()
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}
	events, err := r.bridge.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
