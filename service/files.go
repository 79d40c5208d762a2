package service

import (
	"fileglancer/fileproxy"

	"github.com/gin-gonic/gin"
)

// ServeFiles hands /files/{sharing_key}/{sharing_name}[/{path}] to the proxy.
func (s *Server) ServeFiles(c *gin.Context) {
	name, sub := fileproxy.SplitPath(c.Param("rest"))
	s.Proxy.Serve(c.Writer, c.Request, c.Param("sharing_key"), name, sub)
}

func (s *Server) RegisterFiles(files *gin.RouterGroup) {
	files.GET("/:sharing_key/*rest", s.ServeFiles)
	files.HEAD("/:sharing_key/*rest", s.ServeFiles)
}
