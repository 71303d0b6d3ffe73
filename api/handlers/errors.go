package handlers

import (
	"net/http"

	"broadcast-engine/internal/apperrors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps application errors onto HTTP statuses. Anything else is
// logged and reported as an internal error.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	if appErr, ok := apperrors.As(err); ok {
		c.JSON(appErr.StatusCode(), gin.H{"error": appErr.Error(), "kind": appErr.Kind})
		return
	}
	logger.Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
