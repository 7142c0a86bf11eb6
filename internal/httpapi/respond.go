package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/quantrail/twapbook/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps an apperr.Kind onto the HTTP status code the route
// table expects (spec §7): BadRequest/UnsupportedInterval -> 400,
// Unauthenticated -> 401, Forbidden -> 403, NotFound -> 404,
// Duplicate -> 409, UpstreamUnavailable -> 502, everything else -> 500.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.BadRequest, apperr.UnsupportedInterval:
		status = http.StatusBadRequest
	case apperr.Unauthenticated:
		status = http.StatusUnauthorized
	case apperr.Forbidden:
		status = http.StatusForbidden
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Duplicate:
		status = http.StatusConflict
	case apperr.UpstreamUnavailable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
