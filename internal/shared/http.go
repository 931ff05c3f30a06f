package shared

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the JSON error envelope returned by every endpoint.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON renders v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the error taxonomy and renders the envelope.
// Callers that already know a more specific status use WriteErrorStatus.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorStatus(w, HTTPStatus(err), err)
}

// WriteErrorStatus renders err with an explicit status.
func WriteErrorStatus(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorBody{Error: err.Error()})
}

// HTTPStatus resolves the response code for a taxonomy error. Unknown errors
// are treated as internal.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		violation  *RuleViolation
		conflict   *ConflictError
		integrity  *IntegrityError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &integrity):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON parses the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return Validationf("body", "invalid JSON: %v", err)
	}
	return nil
}
