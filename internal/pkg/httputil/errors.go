package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/heraldhq/herald/internal/pkg/ctxlog"
)

// ErrorMapping pairs a sentinel error with the status it renders as.
// An empty Message falls back to the error text.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError renders err using the first matching mapping. Anything
// unmapped is an internal error: logged with the request logger and
// masked behind a generic 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		message := m.Message
		if message == "" {
			message = err.Error()
		}
		Error(w, m.Status, message)
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
