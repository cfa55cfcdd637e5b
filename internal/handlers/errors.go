package handlers

import (
	"github.com/gin-gonic/gin"

	"atelier/internal/apperrors"
	"atelier/internal/logging"
	"atelier/internal/middleware"
)

var logger = logging.NewPackageLogger("handlers")

// respondError writes err as {"error", "code"} with the mapped status.
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		logger.Error().Err(err).
			Str(logging.USER, middleware.UserID(c)).
			Str("route", c.FullPath()).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Msg("request failed")
	}
	c.JSON(status, gin.H{
		"error": apperrors.PublicMessage(err),
		"code":  apperrors.CodeOf(err),
	})
}
