// Package resilience defines the error taxonomy shared by the ingestion
// components and a small retry helper for out-of-band deliveries.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Outcome sentinels shared by every component that talks to the Places API.
// Callers match them with errors.Is; the wrapping message carries context.
var (
	// ErrRateLimited means the local call gate refused the request. Back off
	// and retry later; it is never a permanent failure.
	ErrRateLimited = eris.New("rate limited")

	// ErrNotFound means upstream has no record for the id or reference.
	ErrNotFound = eris.New("not found")

	// ErrTransientNetwork covers connection failures, timeouts and non-200s.
	ErrTransientNetwork = eris.New("transient network failure")

	// ErrMalformedResponse means the upstream body could not be parsed.
	ErrMalformedResponse = eris.New("malformed response")

	// ErrConfiguration means the operation is administratively disabled or
	// missing a required setting. It is surfaced to the operator, never skipped.
	ErrConfiguration = eris.New("configuration error")
)

// Error kinds used in logs, diagnostics and failure records.
const (
	KindRateLimited       = "rate_limited"
	KindNotFound          = "not_found"
	KindTransientNetwork  = "transient_network"
	KindMalformedResponse = "malformed_response"
	KindConfiguration     = "configuration"
	KindPermanent         = "permanent"
)

// NewConfigError returns an error matching ErrConfiguration with the given detail.
func NewConfigError(detail string) error {
	return eris.Wrap(ErrConfiguration, detail)
}

// TransientError marks a failure worth another attempt later. StatusCode
// is the upstream HTTP status, or 0 when no response arrived.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransientNetwork) match any TransientError.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransientNetwork
}

// NewTransientError wraps err as transient. Pass 0 when there is no status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// retryableErrnos are socket failures a fresh connection usually clears.
var retryableErrnos = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.EPIPE,
}

// transientMessages match errors from the HTTP stack that arrive as plain
// strings with their type lost.
var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is worth retrying: a TransientError or
// ErrTransientNetwork anywhere in the chain, a malformed upstream body, a
// network timeout, a reset socket or a known transient message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	var netErr net.Error
	switch {
	case errors.As(err, &te),
		errors.Is(err, ErrTransientNetwork),
		errors.Is(err, ErrMalformedResponse):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	}

	for _, errno := range retryableErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(transientMessages, func(p string) bool {
		return strings.Contains(msg, p)
	})
}

// IsTransientHTTPStatus reports whether an upstream status is worth
// retrying. Other 4xx and 5xx statuses are permanent.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ClassifyError maps an error onto one of the Kind constants.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case IsTransient(err):
		return KindTransientNetwork
	default:
		return KindPermanent
	}
}

// ItemDiagnostic records why one item of a batch failed.
type ItemDiagnostic struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// NewItemDiagnostic builds a diagnostic entry from an item failure.
func NewItemDiagnostic(index int, id string, err error) ItemDiagnostic {
	return ItemDiagnostic{
		Index:  index,
		ID:     id,
		Kind:   ClassifyError(err),
		Reason: err.Error(),
	}
}

// BatchError reports a batch in which some or all items failed. It always
// carries counts and per-item detail instead of a bare failure flag.
// Causes holds the item errors so errors.Is and ClassifyError see through
// the batch to a rate limit or transient failure underneath.
type BatchError struct {
	Op     string           `json:"op"`
	Total  int              `json:"total"`
	Failed int              `json:"failed"`
	Items  []ItemDiagnostic `json:"items"`
	Causes []error          `json:"-"`
}

// Unwrap exposes the item errors to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error { return e.Causes }

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d items failed", e.Op, e.Failed, e.Total)
	for i, item := range e.Items {
		if i == 3 {
			fmt.Fprintf(&b, " (+%d more)", len(e.Items)-3)
			break
		}
		fmt.Fprintf(&b, "; [%d] %s: %s", item.Index, item.ID, item.Reason)
	}
	return b.String()
}
