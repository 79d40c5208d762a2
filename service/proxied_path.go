package service

import (
	"errors"
	"net/http"

	"fileglancer/dao/model"
	"fileglancer/fsp"
	"fileglancer/proxied"
	"fileglancer/response"

	"github.com/gin-gonic/gin"
)

type CreateProxiedPathReq struct {
	FSPName string `json:"fsp_name" binding:"required"`
	Path    string `json:"path"`
}

// UpdateProxiedPathReq leaves absent fields unchanged.
type UpdateProxiedPathReq struct {
	FSPName     *string `json:"fsp_name"`
	Path        *string `json:"path"`
	SharingName *string `json:"sharing_name"`
}

type ListProxiedPathReq struct {
	FSPName string `form:"fsp_name"`
	Path    string `form:"path"`
}

type ProxiedPathResp struct {
	model.ProxiedPath
	URL string `json:"url"`
}

func (s *Server) proxiedPathResp(p *model.ProxiedPath) ProxiedPathResp {
	return ProxiedPathResp{
		ProxiedPath: *p,
		URL:         s.Config.ExternalProxyURL + "/" + p.SharingKey + "/" + p.SharingName,
	}
}

// proxiedPathError answers registry failures; anything unknown is a 500.
func proxiedPathError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, proxied.ErrNotFound):
		response.NotFoundError(c, "proxied path not found", response.ProxiedPathNotFound)
	case errors.Is(err, fsp.ErrUnknownFileShare):
		response.HTTPError(c, http.StatusBadRequest, err.Error(), response.UnknownShare)
	case errors.Is(err, proxied.ErrInvalidPath), errors.Is(err, proxied.ErrInvalidName):
		response.HTTPError(c, http.StatusBadRequest, err.Error(), response.InvalidPath)
	default:
		response.Error(c, err.Error(), response.NotSpecified)
	}
}

func (s *Server) ListProxiedPaths(c *gin.Context) {
	var req ListProxiedPathReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequestError(c, err.Error())
		return
	}
	paths, err := s.Registry.List(c.Request.Context(), currentUser(c), req.FSPName, req.Path)
	if err != nil {
		proxiedPathError(c, err)
		return
	}
	out := make([]ProxiedPathResp, 0, len(paths))
	for i := range paths {
		out = append(out, s.proxiedPathResp(&paths[i]))
	}
	response.Success(c, gin.H{"paths": out})
}

func (s *Server) CreateProxiedPath(c *gin.Context) {
	var req CreateProxiedPathReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequestError(c, err.Error())
		return
	}
	p, err := s.Registry.Create(c.Request.Context(), currentUser(c), req.FSPName, req.Path)
	if err != nil {
		proxiedPathError(c, err)
		return
	}
	response.Created(c, s.proxiedPathResp(p))
}

func (s *Server) GetProxiedPath(c *gin.Context) {
	p, err := s.Registry.GetForOwner(c.Request.Context(), currentUser(c), c.Param("sharing_key"))
	if err != nil {
		proxiedPathError(c, err)
		return
	}
	response.Success(c, s.proxiedPathResp(p))
}

func (s *Server) UpdateProxiedPath(c *gin.Context) {
	var req UpdateProxiedPathReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequestError(c, err.Error())
		return
	}
	p, err := s.Registry.Update(c.Request.Context(), currentUser(c), c.Param("sharing_key"), proxied.Changes{
		FSPName:     req.FSPName,
		Path:        req.Path,
		SharingName: req.SharingName,
	})
	if err != nil {
		proxiedPathError(c, err)
		return
	}
	response.Success(c, s.proxiedPathResp(p))
}

func (s *Server) DeleteProxiedPath(c *gin.Context) {
	n, err := s.Registry.Delete(c.Request.Context(), currentUser(c), c.Param("sharing_key"))
	if err != nil {
		proxiedPathError(c, err)
		return
	}
	if n == 0 {
		proxiedPathError(c, proxied.ErrNotFound)
		return
	}
	response.Success(c, gin.H{"deleted": n})
}

func (s *Server) RegisterProxiedPaths(api *gin.RouterGroup) {
	api.GET("/proxied-path", s.ListProxiedPaths)
	api.POST("/proxied-path", s.CreateProxiedPath)
	api.GET("/proxied-path/:sharing_key", s.GetProxiedPath)
	api.PUT("/proxied-path/:sharing_key", s.UpdateProxiedPath)
	api.DELETE("/proxied-path/:sharing_key", s.DeleteProxiedPath)
}
