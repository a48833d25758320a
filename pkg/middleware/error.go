package middleware

import (
	"errors"
	"net/http"

	"parcelqr/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last handler error as a JSON error body.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		status := errutil.StatusOf(last.Err)
		c.JSON(status.HTTPStatus(), errutil.BaseError{
			Code:    status,
			Message: http.StatusText(status.HTTPStatus()),
		}.JSON())
	}
}
