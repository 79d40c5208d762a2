// Package response renders the JSON envelope of the owner API.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response documents the envelope shape.
type Response[T any] struct {
	Code ErrorCode `json:"code"`
	Data T         `json:"data"`
	Msg  string    `json:"msg"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response[any]{Code: OK, Data: data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response[any]{Code: OK, Data: data})
}

// Error reports a failure nobody planned for; the status is always 500.
func Error(c *gin.Context, msg string, errorCode ErrorCode) {
	HTTPError(c, http.StatusInternalServerError, msg, errorCode)
}

// HTTPError aborts the request with the given status and envelope.
func HTTPError(c *gin.Context, httpCode int, msg string, errorCode ErrorCode) {
	c.AbortWithStatusJSON(httpCode, Response[any]{Code: errorCode, Msg: msg})
}

// BadRequestError answers a request whose parameters failed to bind.
func BadRequestError(c *gin.Context, msg string) {
	HTTPError(c, http.StatusBadRequest, msg, InvalidRequest)
}

func NotFoundError(c *gin.Context, msg string, errorCode ErrorCode) {
	HTTPError(c, http.StatusNotFound, msg, errorCode)
}

func UnauthorizedError(c *gin.Context, msg string, errorCode ErrorCode) {
	HTTPError(c, http.StatusUnauthorized, msg, errorCode)
}
