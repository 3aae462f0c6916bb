// Package response writes the JSON envelope shared by every REST endpoint.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried in the envelope. Websocket error events reuse the
// same strings so clients can share one table.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeValidation   = "VALIDATION_FAILED"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_ERROR"
)

// Envelope is the body of every JSON reply.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

func Success(c *gin.Context, data any)  { ok(c, http.StatusOK, data) }
func Created(c *gin.Context, data any)  { ok(c, http.StatusCreated, data) }
func Accepted(c *gin.Context, data any) { ok(c, http.StatusAccepted, data) }

// NoContent acknowledges a state change that has nothing to return, such as
// marking a chat read.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Fail writes an error envelope.
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Envelope{Error: &ErrorBody{Code: code, Message: message}})
}

// Deny writes an error envelope and stops the handler chain. Middleware uses
// it so later handlers never run.
func Deny(c *gin.Context, status int, code, message string) {
	Fail(c, status, code, message)
	c.Abort()
}

func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeBadRequest, message)
}

// Invalid reports a message or payload rejected by domain validation.
func Invalid(c *gin.Context, err error) {
	Fail(c, http.StatusBadRequest, CodeValidation, err.Error())
}

func Unauthorized(c *gin.Context, message string) {
	Deny(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, CodeNotFound, message)
}

func InternalError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeInternal, message)
}
