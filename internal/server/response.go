package server

import (
	"encoding/json"
	"net/http"

	"github.com/raptscallions/storage/internal/storageerr"
)

// ErrorResponse is used for failures outside the storage error taxonomy,
// such as rejected signed URL tokens.
type ErrorResponse struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

// writeError writes err as its serialized taxonomy record with the record's
// status code.
func writeError(w http.ResponseWriter, err error) {
	payload := storageerr.Serialize(err)
	writeJSON(w, payload.StatusCode, payload)
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Message:    message,
		Code:       code,
		StatusCode: status,
	})
}
