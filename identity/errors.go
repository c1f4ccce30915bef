package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure reported by the identity service. Message is the
// provider message and is meant to be shown to the user verbatim.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// ErrSessionMissing is returned by operations that need a signed in user.
var ErrSessionMissing = &Error{
	Status:  http.StatusUnauthorized,
	Code:    "session_missing",
	Message: "Auth session missing!",
}

// ErrMultipleRows is returned by SelectOne when the filter matched more than one row.
var ErrMultipleRows = errors.New("JSON object requested, multiple (or no) rows returned")

// IsStatus reports whether err is an identity error with the given status.
func IsStatus(err error, status int) bool {
	var ierr *Error
	if !errors.As(err, &ierr) {
		return false
	}
	return ierr.Status == status
}

// IsAuthError reports whether err means the credentials or tokens were rejected.
func IsAuthError(err error) bool {
	var ierr *Error
	if !errors.As(err, &ierr) {
		return false
	}
	return ierr.Status == http.StatusBadRequest ||
		ierr.Status == http.StatusUnauthorized ||
		ierr.Status == http.StatusForbidden
}

// parseError decodes the different error payloads the service may produce.
func parseError(status int, body []byte) *Error {
	out := &Error{Status: status}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		out.Message = http.StatusText(status)
		if len(body) > 0 {
			out.Message = string(body)
		}
		return out
	}

	for _, key := range []string{"msg", "message", "error_description", "error"} {
		if v, ok := payload[key].(string); ok && v != "" {
			out.Message = v
			break
		}
	}

	switch code := payload["error_code"].(type) {
	case string:
		out.Code = code
	}
	if out.Code == "" {
		switch code := payload["code"].(type) {
		case string:
			out.Code = code
		case float64:
			out.Code = fmt.Sprintf("%d", int(code))
		}
	}

	if out.Message == "" {
		out.Message = http.StatusText(status)
	}

	return out
}
