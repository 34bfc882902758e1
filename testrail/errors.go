package testrail

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FaultKind classifies a remote failure for retry purposes.
type FaultKind int

const (
	// PermanentFault covers bad requests, auth failures, unknown cases and
	// anything else the caller must not retry.
	PermanentFault FaultKind = iota
	// TransientServerFault is server-side lock contention.
	TransientServerFault
	// RateLimited means the server explicitly asked us to back off.
	RateLimited
)

func (k FaultKind) String() string {
	switch k {
	case TransientServerFault:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

var (
	ErrNotFound        = errors.New("not found")
	ErrEmptyPlanEntry  = errors.New("plan entry needs at least one case when include_all is false")
	ErrMissingResponse = errors.New("missing field in response")
)

// APIError is a non-2xx response from the TestRail API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Kind       FaultKind
	notFound   bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("testrail %s returned HTTP %d (%q)", e.Op, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match API errors describing a missing object.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.notFound
}

func newAPIError(op string, status int, message string) *APIError {
	e := &APIError{
		Op:         op,
		StatusCode: status,
		Message:    message,
		Kind:       PermanentFault,
	}
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = RateLimited
	case status == http.StatusInternalServerError && strings.Contains(lower, "deadlock"):
		e.Kind = TransientServerFault
	}
	if status == http.StatusNotFound ||
		(status == http.StatusBadRequest && strings.Contains(lower, "not a valid")) {
		e.notFound = true
	}
	return e
}

// KindOf classifies err. Anything that is not an APIError is permanent.
func KindOf(err error) FaultKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return PermanentFault
}
