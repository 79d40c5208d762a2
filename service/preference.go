package service

import (
	"encoding/json"
	"errors"

	"fileglancer/dao/query"
	"fileglancer/response"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

func (s *Server) ListPreferences(c *gin.Context) {
	prefs, err := query.ListPreferences(c.Request.Context(), s.DB, currentUser(c))
	if err != nil {
		response.Error(c, err.Error(), response.NotSpecified)
		return
	}
	response.Success(c, prefs)
}

func (s *Server) GetPreference(c *gin.Context) {
	value, err := query.GetPreference(c.Request.Context(), s.DB, currentUser(c), c.Param("key"))
	if errors.Is(err, query.ErrPreferenceNotFound) {
		response.NotFoundError(c, err.Error(), response.PreferenceNotFound)
		return
	}
	if err != nil {
		response.Error(c, err.Error(), response.NotSpecified)
		return
	}
	response.Success(c, value)
}

// SetPreference stores the raw JSON body; the last write wins.
func (s *Server) SetPreference(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequestError(c, err.Error())
		return
	}
	if !json.Valid(body) {
		response.BadRequestError(c, "preference value must be a JSON document")
		return
	}
	if err := query.SetPreference(c.Request.Context(), s.DB, currentUser(c), c.Param("key"), datatypes.JSON(body)); err != nil {
		response.Error(c, err.Error(), response.NotSpecified)
		return
	}
	response.Success(c, datatypes.JSON(body))
}

func (s *Server) DeletePreference(c *gin.Context) {
	err := query.DeletePreference(c.Request.Context(), s.DB, currentUser(c), c.Param("key"))
	if errors.Is(err, query.ErrPreferenceNotFound) {
		response.NotFoundError(c, err.Error(), response.PreferenceNotFound)
		return
	}
	if err != nil {
		response.Error(c, err.Error(), response.NotSpecified)
		return
	}
	response.Success(c, nil)
}

func (s *Server) RegisterPreferences(api *gin.RouterGroup) {
	api.GET("/preference", s.ListPreferences)
	api.GET("/preference/:key", s.GetPreference)
	api.PUT("/preference/:key", s.SetPreference)
	api.DELETE("/preference/:key", s.DeletePreference)
}
