// Package service exposes the owner API, the file proxy and the operational
// endpoints over gin.
package service

import (
	"context"
	"net/http"

	"fileglancer/config"
	"fileglancer/fileproxy"
	"fileglancer/fsp"
	"fileglancer/metrics"
	"fileglancer/proxied"
	"fileglancer/usercontext"
	"fileglancer/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Refresher forces a file share path synchronization.
type Refresher interface {
	Refresh(ctx context.Context, force bool) (*fsp.SyncResult, error)
}

type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Paths  fsp.Store
	// Refresher is nil when file share paths come from configuration.
	Refresher Refresher
	Registry  *proxied.Registry
	Proxy     *fileproxy.Dispatcher
	Identity  usercontext.Switcher
	Tokens    *util.TokenManager
}

type Server struct {
	Deps
}

func New(deps Deps) *Server {
	return &Server{Deps: deps}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLog(), gin.Recovery())

	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	files := r.Group("/files", RateLimit(s.Config.Server.RateLimit))
	s.RegisterFiles(files)

	api := r.Group("/api", s.AuthMiddleware())
	s.RegisterFileSharePaths(api)
	s.RegisterProxiedPaths(api)
	s.RegisterPreferences(api)
	return r
}

// Health reports 503 once an identity restore has failed; the process should
// then be restarted.
func (s *Server) Health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if s.Identity != nil && s.Identity.Degraded() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if sqlDB, err := s.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status, code = "database unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status})
}
