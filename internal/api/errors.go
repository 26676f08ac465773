package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response surfaced to callers.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func newAPIError(status int, body []byte) *APIError {
	msg := http.StatusText(status)

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case strings.TrimSpace(parsed.Message) != "":
			msg = parsed.Message
		case strings.TrimSpace(parsed.Error) != "":
			msg = parsed.Error
		}
	}

	return &APIError{Status: status, Message: msg, Body: body}
}
