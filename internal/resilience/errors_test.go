package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("invalid input: missing field"), false},
		{"explicit transient", NewTransientError(errors.New("server overloaded"), 503), true},
		{"wrapped transient", fmt.Errorf("api call failed: %w", NewTransientError(errors.New("busy"), 429)), true},
		{"eris wrapped transient", eris.Wrap(NewTransientError(errors.New("busy"), 502), "google: search text"), true},
		{"network sentinel", eris.Wrap(ErrTransientNetwork, "photo download"), true},
		{"malformed body", eris.Wrap(ErrMalformedResponse, "decode details"), true},
		{"connection reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"broken pipe errno", fmt.Errorf("write: %w", syscall.EPIPE), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"dns not found without timeout", &net.DNSError{Err: "server misbehaving"}, false},
		{"tls message", errors.New("net/http: TLS handshake timeout"), true},
		{"io timeout message", errors.New("read tcp 10.0.0.1:443: i/o timeout"), true},
		{"idle connection message", errors.New("server closed idle connection"), true},
		{"not found", eris.Wrap(ErrNotFound, "details"), false},
		{"rate limited", eris.Wrap(ErrRateLimited, "search"), false},
		{"config", NewConfigError("photos.max_per_business is 0"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409, 422, 501} {
		assert.False(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
}

func TestTransientError(t *testing.T) {
	inner := errors.New("bad gateway")
	te := NewTransientError(inner, 502)

	assert.Equal(t, "bad gateway", te.Error())
	assert.Equal(t, 502, te.StatusCode)
	assert.ErrorIs(t, te, inner)
	assert.ErrorIs(t, te, ErrTransientNetwork)
	assert.NotErrorIs(t, te, ErrNotFound)
}

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("google.key is required")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "google.key is required")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"rate limited", fmt.Errorf("places: search: %w", ErrRateLimited), KindRateLimited},
		{"not found", fmt.Errorf("details: %w", ErrNotFound), KindNotFound},
		{"malformed", fmt.Errorf("decode: %w", ErrMalformedResponse), KindMalformedResponse},
		{"config", NewConfigError("missing key"), KindConfiguration},
		{"transient error", NewTransientError(errors.New("503"), 503), KindTransientNetwork},
		{"connection reset", errors.New("connection reset by peer"), KindTransientNetwork},
		{"permanent error", errors.New("invalid input"), KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestBatchError_Message(t *testing.T) {
	be := &BatchError{
		Op:     "photos: refresh",
		Total:  5,
		Failed: 5,
		Items: []ItemDiagnostic{
			NewItemDiagnostic(0, "ref-a", errors.New("status 500")),
			NewItemDiagnostic(1, "ref-b", ErrRateLimited),
			NewItemDiagnostic(2, "ref-c", errors.New("too small")),
			NewItemDiagnostic(3, "ref-d", errors.New("too small")),
			NewItemDiagnostic(4, "ref-e", errors.New("too small")),
		},
	}

	msg := be.Error()
	for _, want := range []string{"5 of 5 items failed", "ref-a", "ref-b", "(+2 more)"} {
		assert.Contains(t, msg, want)
	}
	assert.NotContains(t, msg, "ref-d")
	assert.Equal(t, KindRateLimited, be.Items[1].Kind)
	assert.Equal(t, KindPermanent, be.Items[2].Kind)
}

func TestBatchError_UnwrapsCauses(t *testing.T) {
	denied := eris.Wrap(ErrRateLimited, "places: photo media ref-b")
	be := &BatchError{
		Op:     "photos: refresh",
		Total:  2,
		Failed: 2,
		Items: []ItemDiagnostic{
			NewItemDiagnostic(1, "ref-a", errors.New("too small")),
			NewItemDiagnostic(2, "ref-b", denied),
		},
		Causes: []error{errors.New("too small"), denied},
	}

	assert.ErrorIs(t, be, ErrRateLimited)
	assert.Equal(t, KindRateLimited, ClassifyError(be))

	none := &BatchError{Op: "photos: refresh", Total: 1, Failed: 1}
	assert.NotErrorIs(t, none, ErrRateLimited)
	assert.Equal(t, KindPermanent, ClassifyError(none))
}
