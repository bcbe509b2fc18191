package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// DecodeJSON decodes the request body into dst. On failure it writes a 400
// response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// WriteServiceError maps a service-layer error onto an HTTP status. Unknown
// storage keys become 404; classified error records keep their own mapping;
// anything else is a 500.
func WriteServiceError(w http.ResponseWriter, err error) error {
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return WriteError(w, http.StatusNotFound, "not found")
	}

	var rec *models.ErrorRecord
	if errors.As(err, &rec) {
		switch rec.Code {
		case models.ErrCodeValidation:
			return WriteError(w, http.StatusBadRequest, rec.Message)
		case models.ErrCodeInsufficientCredits, models.ErrCodeCostLimitExceeded:
			return WriteError(w, http.StatusPaymentRequired, rec.Message)
		case models.ErrCodeRateLimit:
			return WriteError(w, http.StatusTooManyRequests, rec.Message)
		}
	}

	return WriteError(w, http.StatusInternalServerError, err.Error())
}

// QueryInt reads an integer query parameter, falling back when the parameter
// is absent or malformed.
func QueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
