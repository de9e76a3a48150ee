package resilience

import (
	"context"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", eris.New("bad request"), false},
		{"503", &StatusError{StatusCode: 503}, true},
		{"wrapped 429", eris.Wrap(&StatusError{StatusCode: 429, Body: "slow down"}, "gateway"), true},
		{"400", &StatusError{StatusCode: 400}, false},
		{"timeout", timeoutErr{}, true},
		{"conn refused", eris.Wrap(syscall.ECONNREFUSED, "dial"), true},
		{"canceled", context.Canceled, false},
		{"deadline", eris.Wrap(context.DeadlineExceeded, "status"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "status 502: Bad Gateway", (&StatusError{StatusCode: 502}).Error())
	assert.Equal(t, "status 404: no such job", (&StatusError{StatusCode: 404, Body: "no such job"}).Error())
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 400, 401, 404, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "code %d", code)
	}
}
