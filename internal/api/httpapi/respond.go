package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/tracelens/tracelens/internal/apperr"
)

// Error writes the classified error envelope. Unclassified errors surface as
// INTERNAL_ERROR with a generic message.
func Error(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	c.JSON(apperr.HTTPStatus(code), gin.H{
		"error": gin.H{
			"code":    code,
			"message": apperr.MessageOf(err),
		},
	})
}
