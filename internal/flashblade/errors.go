package flashblade

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrAuthentication = errors.New("authentication failed")
	ErrNotLoggedIn    = errors.New("no management session")
)

// APIError is a non-2xx response from the management API.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// Is maps the response onto the sentinel kinds callers branch on.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAlreadyExists:
		if e.StatusCode == http.StatusConflict {
			return true
		}
		for _, msg := range e.Messages {
			if strings.Contains(strings.ToLower(msg), "already exists") {
				return true
			}
		}
		return false
	case ErrAuthentication:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	default:
		return false
	}
}
