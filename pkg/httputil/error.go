package httputil

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/tgdrive/qdrop/internal/logging"
)

type HTTPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewError writes err as a JSON error body. Server side failures are logged
// with the request logger and answered with the status text only.
func NewError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("http.error", zap.Int("status", status), zap.Error(err))
		JSON(w, status, HTTPError{Code: status, Message: http.StatusText(status)})
		return
	}
	logger.Debug("http.error", zap.Int("status", status), zap.Error(err))
	JSON(w, status, HTTPError{Code: status, Message: err.Error()})
}

// NewMessage is NewError with a fixed public message.
func NewMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	JSON(w, status, HTTPError{Code: status, Message: message})
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
