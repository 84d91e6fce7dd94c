package crm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuthentication marks every failed CRM call. ErrCredentialsRejected is
// the subset where the CRM refused the account's OAuth credentials even
// after one refresh.
var (
	ErrAuthentication      = errors.New("crm request failed")
	ErrCredentialsRejected = fmt.Errorf("%w: credentials rejected", ErrAuthentication)
)

const maxErrorBody = 512

// APIError is a non-2xx response from the CRM.
type APIError struct {
	StatusCode int
	Body       string
}

func newAPIError(status int, body []byte) *APIError {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return &APIError{StatusCode: status, Body: text}
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("crm api: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("crm api: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return ErrAuthentication
}
