package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/tubeauth/internal/common"
	"github.com/dmitrijs2005/tubeauth/internal/logging"
)

const maxJSONBody = 16 << 10

type apiResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

type apiError struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any, message string) {
	if data == nil {
		data = struct{}{}
	}
	writeJSON(w, status, apiResponse{StatusCode: status, Data: data, Message: message, Success: true})
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{StatusCode: status, Message: message, Success: false, Errors: []string{}})
}

// writeError maps the error taxonomy to a status code. Internal failures are
// logged with their cause and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	var maxErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxErr):
		writeErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, common.ErrIncorrectPassword):
		writeErrorMessage(w, http.StatusBadRequest, "invalid old password")
	case errors.Is(err, common.ErrorInvalidInput):
		writeErrorMessage(w, http.StatusBadRequest, clientMessage(err, common.ErrorInvalidInput))
	case errors.Is(err, common.ErrorConflict):
		writeErrorMessage(w, http.StatusConflict, clientMessage(err, common.ErrorConflict))
	case errors.Is(err, common.ErrorNotFound):
		writeErrorMessage(w, http.StatusNotFound, clientMessage(err, common.ErrorNotFound))
	case errors.Is(err, common.ErrTokenExpired):
		writeErrorMessage(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, common.ErrTokenInvalid):
		writeErrorMessage(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, common.ErrorUnauthorized):
		writeErrorMessage(w, http.StatusUnauthorized, clientMessage(err, common.ErrorUnauthorized))
	default:
		log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// clientMessage strips the sentinel text from a wrapped error, turning
// "user does not exist: not found" into "user does not exist".
func clientMessage(err, sentinel error) string {
	msg := err.Error()
	msg = strings.TrimSuffix(msg, ": "+sentinel.Error())
	msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}
