package gateway

import (
	"strconv"

	"github.com/example/smartcart/pkg/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func errorBody(err error) gin.H {
	code := apperr.CodeOf(err)
	return gin.H{"error": gin.H{
		"code":      code,
		"message":   apperr.MessageOf(err),
		"retryable": apperr.Retryable(code),
	}}
}

// fail aborts the request with err rendered as the error envelope. Server
// side failures are logged with their full chain; clients only see the
// message.
func (g *Gateway) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(apperr.CodeOf(err))
	if status >= 500 {
		g.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, errorBody(err))
}

// bind decodes the JSON body into dst, reporting decode failures as
// validation errors.
func (g *Gateway) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		g.fail(c, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func (g *Gateway) idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		g.fail(c, apperr.Validation("%s must be a positive integer", name))
		return 0, false
	}
	return id, true
}

// owner checks that the caller may act on userID's resources.
func (g *Gateway) owner(c *gin.Context, userID int64) bool {
	if !principal(c).CanAccess(userID) {
		g.fail(c, apperr.New(apperr.CodeForbidden, "access denied"))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}
