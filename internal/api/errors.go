package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bull/docindex/internal/storage"
)

// writeError maps domain errors to status codes. Unexpected errors are logged
// and reported without detail.
func writeError(c *gin.Context, logger *slog.Logger, err error, notFound string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": notFound})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"message": "Document is already being indexed."})
	case errors.Is(err, storage.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"detail": inputMessage(err)})
	case errors.Is(err, storage.ErrTransient):
		logger.Warn("Request failed on a transient error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Service temporarily unavailable, try again later."})
	default:
		logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error."})
	}
}

// inputMessage strips the sentinel prefix from a validation error.
func inputMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, storage.ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(storage.ErrInvalidInput.Error())+2:]
	}
	return msg
}
