package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bobmcallan/stockgen/internal/models"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteErrorWithCode writes a JSON error response with an error code.
func WriteErrorWithCode(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "Request body is required")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 8<<20) // 8MB limit, pasted images travel inline
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// decodeAndValidate decodes the body into v and runs its validate tags.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !DecodeJSON(w, r, v) {
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			WriteErrorWithCode(w, http.StatusBadRequest,
				fmt.Sprintf("field '%s' failed '%s' validation", fe.Field(), fe.Tag()), "validation_failed")
			return false
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// PathSegments splits the path below prefix into its non-empty segments.
// For /api/sessions/{sid}/reports/{ticker}, PathSegments(r, "/api/sessions/")
// returns [sid, "reports", ticker].
func PathSegments(r *http.Request, prefix string) []string {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	var out []string
	for _, p := range strings.Split(rest, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// writeServiceError maps report service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), "session_not_found")
	case errors.Is(err, models.ErrViewNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), "view_not_found")
	case errors.Is(err, models.ErrPointNotFound), errors.Is(err, models.ErrNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, models.ErrUnknownField),
		errors.Is(err, models.ErrInvalidTicker),
		errors.Is(err, models.ErrInvalidPatch),
		errors.Is(err, models.ErrInvalidImage),
		errors.Is(err, models.ErrInvalidViewer):
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_request")
	case errors.Is(err, models.ErrImageFetch):
		WriteErrorWithCode(w, http.StatusBadGateway, err.Error(), "image_fetch_failed")
	case errors.Is(err, models.ErrPersistence):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, err.Error(), "persistence_failed")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
