// Package jsonerr writes error responses in the JSON body shape the
// Unpod backend uses for checksum rejections.
package jsonerr

import (
	"encoding/json"
	"net/http"
)

// Error writes structured error information to w using JSON encoding.
// The given status code is used if it is non-zero, otherwise it is set
// to 500. Code is a stable machine-readable identifier such as
// "CHECKSUM_VALIDATION_FAILED"; message is the human-readable detail.
func Error(w http.ResponseWriter, message, code string, status int) {
	if status == 0 {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	body := struct {
		Message string `json:"message"`
		Code    string `json:"error"`
	}{
		Message: message,
		Code:    code,
	}
	data, _ := json.Marshal(&body)
	_, _ = w.Write(data)
}
