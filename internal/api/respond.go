package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/auth"
	"github.com/Vedant1607/QuickChat/internal/chat"
	"github.com/Vedant1607/QuickChat/internal/media"
)

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, status int, body envelope) {
	body["success"] = true
	writeJSON(w, status, body)
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{"success": false, "message": message})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeFail(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeFail(w, http.StatusBadRequest, "invalid JSON body")
	return false
}

// writeError maps service errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal Server Error"

	switch {
	case errors.Is(err, media.ErrUnsupported):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrValidation), errors.Is(err, auth.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, message = http.StatusUnauthorized, "Invalid Credentials"
	case errors.Is(err, auth.ErrUnauthorized):
		status, message = http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, chat.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, auth.ErrAccountExists):
		status, message = http.StatusConflict, "Account already exists"
	case errors.Is(err, chat.ErrMediaUpload):
		status, message = http.StatusBadGateway, "Image upload failed"
	}

	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"component": "api",
			"method":    r.Method,
			"path":      r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	writeFail(w, status, message)
}
