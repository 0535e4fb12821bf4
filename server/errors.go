package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nevindra/yae"
)

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain errors onto HTTP statuses: validation 400,
// unauthorized 401, not found 404, oversized body 413, everything else 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation   *yae.ErrValidation
		unauthorized *yae.ErrUnauthorized
		notFound     *yae.ErrNotFound
		tooBig       *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Msg)
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, unauthorized.Reason)
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &tooBig):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
