package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/meszmate/chatkit/internal/rest"
	"github.com/meszmate/chatkit/internal/xmpp"
)

func TestMapRESTErrorNotFound(t *testing.T) {
	err := mapRESTError(&rest.APIError{StatusCode: http.StatusNotFound, Message: "Not found"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMapRESTErrorParameterRejection(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnprocessableEntity} {
		err := mapRESTError(&rest.APIError{StatusCode: code, Message: "name is too long"})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("status %d: expected ValidationError, got %v", code, err)
		}
		if verr.Reason != "name is too long" {
			t.Fatalf("status %d: unexpected reason %q", code, verr.Reason)
		}
	}
}

func TestMapRESTErrorServerFailure(t *testing.T) {
	err := mapRESTError(&rest.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected public APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Message != "boom" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	// The internal type must not leak through the public surface.
	var internalErr *rest.APIError
	if errors.As(err, &internalErr) {
		t.Fatalf("internal error type leaked: %v", err)
	}
}

func TestMapRESTErrorTimeout(t *testing.T) {
	err := mapRESTError(fmt.Errorf("request: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMapRESTErrorNil(t *testing.T) {
	if err := mapRESTError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestMapStreamError(t *testing.T) {
	if err := mapStreamError(xmpp.ErrNotConnected); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	wrapped := fmt.Errorf("%w: connection reset", xmpp.ErrTransportDropped)
	if err := mapStreamError(wrapped); !errors.Is(err, ErrTransportDropped) {
		t.Fatalf("expected ErrTransportDropped, got %v", err)
	}
	if err := mapStreamError(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
