package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/meszmate/chatkit/internal/rest"
	"github.com/meszmate/chatkit/internal/xmpp"
)

var (
	// ErrNotInitialized reports that the session was constructed without the
	// required application credentials.
	ErrNotInitialized = errors.New("chat: client not initialized")

	// ErrNotConnected reports an operation attempted while the stream is not
	// ready.
	ErrNotConnected = errors.New("chat: not connected")

	// ErrNotFound reports an unknown dialog or message id.
	ErrNotFound = errors.New("chat: not found")

	// ErrTimeout reports a request that did not complete in time.
	ErrTimeout = errors.New("chat: request timed out")

	// ErrReceiptTimeout reports an acknowledgment that did not arrive in time.
	ErrReceiptTimeout = errors.New("chat: receipt wait timed out")

	// ErrTransportDropped reports a connection lost after establishment.
	ErrTransportDropped = errors.New("chat: transport dropped")
)

// ConnectionError reports a transport or auth failure while establishing the
// stream.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("chat: connection failed: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// ValidationError reports malformed request parameters.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}

// APIError reports a request the platform rejected for reasons other than
// missing resources or bad parameters.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat: api error %d: %s", e.StatusCode, e.Message)
}

// mapRESTError converts collaborator errors into the public taxonomy.
func mapRESTError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &ValidationError{Field: "request", Reason: apiErr.Message}
		}
		return &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}

// mapStreamError converts connection-manager errors into the public taxonomy.
func mapStreamError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, xmpp.ErrNotConnected) {
		return ErrNotConnected
	}
	if errors.Is(err, xmpp.ErrTransportDropped) {
		return fmt.Errorf("%w: %v", ErrTransportDropped, err)
	}
	return err
}
