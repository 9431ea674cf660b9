package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"randhub/native/vrfhub"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, vrfhub.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, vrfhub.ErrUnauthorizedCaller),
		errors.Is(err, vrfhub.ErrInvalidPeer):
		return http.StatusForbidden
	case errors.Is(err, vrfhub.ErrPaused),
		errors.Is(err, vrfhub.ErrDuplicateSequence),
		errors.Is(err, vrfhub.ErrAlreadyFulfilled),
		errors.Is(err, vrfhub.ErrAlreadySent),
		errors.Is(err, vrfhub.ErrNotPending),
		errors.Is(err, vrfhub.ErrRequestExists):
		return http.StatusConflict
	case errors.Is(err, vrfhub.ErrMalformedPayload),
		errors.Is(err, vrfhub.ErrUnsupportedChain),
		errors.Is(err, vrfhub.ErrInvalidChain),
		errors.Is(err, vrfhub.ErrInvalidPrice),
		errors.Is(err, vrfhub.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, vrfhub.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, vrfhub.ErrProviderUnavailable),
		errors.Is(err, vrfhub.ErrQuoteFailed),
		errors.Is(err, vrfhub.ErrSendFailed):
		return http.StatusBadGateway
	case errors.Is(err, vrfhub.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeHubError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("hub call failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
