package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error represents an API error response.
type Error struct {
	// StatusCode is the HTTP status code.
	StatusCode int `json:"-"`
	// Code is a short machine-readable code, when the API sends one.
	Code string `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Fields holds per-field validation messages.
	Fields map[string][]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *Error) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

func (e *Error) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

func (e *Error) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *Error) IsValidationError() bool {
	return e.StatusCode == http.StatusBadRequest
}

func (e *Error) IsServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.IsUnauthorized()
}

func IsNotFound(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.IsNotFound()
}

// parseError understands the Django REST framework error shapes:
// {"detail": ...}, {"message": ...}, {"error": ...} and {"field": ["msg", ...]}.
func parseError(statusCode int, body []byte) error {
	e := &Error{StatusCode: statusCode}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		e.Code = codeFor(statusCode)
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(statusCode)
		}
		return e
	}

	if raw, ok := generic["code"]; ok {
		_ = json.Unmarshal(raw, &e.Code)
	}
	for _, key := range []string{"detail", "message", "error"} {
		if raw, ok := generic[key]; ok {
			if msg := flatten(raw); msg != "" {
				e.Message = msg
				break
			}
		}
	}

	keys := make([]string, 0, len(generic))
	for k := range generic {
		switch k {
		case "code", "detail", "message", "error", "messages":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var msgs []string
		if err := json.Unmarshal(generic[k], &msgs); err != nil {
			continue
		}
		if e.Fields == nil {
			e.Fields = make(map[string][]string)
		}
		e.Fields[k] = msgs
	}

	if e.Message == "" && len(e.Fields) > 0 {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if msgs, ok := e.Fields[k]; ok {
				parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(msgs, " ")))
			}
		}
		e.Message = strings.Join(parts, "; ")
	}
	if e.Code == "" {
		e.Code = codeFor(statusCode)
	}
	if e.Message == "" {
		e.Message = http.StatusText(statusCode)
	}
	return e
}

func flatten(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, " ")
	}
	return ""
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "http_" + fmt.Sprint(status)
}
