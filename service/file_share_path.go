package service

import (
	"errors"
	"net/http"

	"fileglancer/fsp"
	"fileglancer/response"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListFileSharePaths(c *gin.Context) {
	paths, err := s.Paths.List(c.Request.Context())
	if err != nil {
		response.Error(c, err.Error(), response.NotSpecified)
		return
	}
	response.Success(c, gin.H{"paths": paths})
}

// RefreshFileSharePaths forces a synchronization with the wiki.
func (s *Server) RefreshFileSharePaths(c *gin.Context) {
	if s.Refresher == nil {
		response.HTTPError(c, http.StatusConflict, "file share paths are configured statically", response.StaticMode)
		return
	}
	res, err := s.Refresher.Refresh(c.Request.Context(), true)
	if errors.Is(err, fsp.ErrSyncFetchFailed) {
		response.HTTPError(c, http.StatusBadGateway, err.Error(), response.SyncFailed)
		return
	}
	if err != nil {
		response.Error(c, err.Error(), response.NotSpecified)
		return
	}
	response.Success(c, res)
}

func (s *Server) RegisterFileSharePaths(api *gin.RouterGroup) {
	api.GET("/file-share-paths", s.ListFileSharePaths)
	api.POST("/file-share-paths/refresh", s.RefreshFileSharePaths)
}
