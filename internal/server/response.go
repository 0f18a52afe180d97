package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rewindhq/rewind/internal/runstate"
)

// errorBody is the JSON error envelope shared by all endpoints.
type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeJSON encodes v without HTML escaping so state bytes survive the
// trip unchanged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// encodeJSON renders v the same way writeJSON does, for callers that
// need the bytes rather than a response.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeStoreError maps store errors onto HTTP statuses. Gaps get 410
// because the requested history existed and is permanently gone.
func writeStoreError(w http.ResponseWriter, err error) {
	var se *runstate.StoreError
	if !errors.As(err, &se) {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, statusForCode(se.Code), errorResponse{Error: errorBody{
		Code:    string(se.Code),
		Message: se.Error(),
		Details: se.Details,
	}})
}

func statusForCode(code runstate.StoreErrorCode) int {
	switch code {
	case runstate.ErrCodeUnknownRun:
		return http.StatusNotFound
	case runstate.ErrCodeHistoryGap:
		return http.StatusGone
	case runstate.ErrCodeMalformedEvent:
		return http.StatusBadRequest
	case runstate.ErrCodeStaleSeq:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
