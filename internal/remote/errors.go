package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed server call.
type ErrorKind int

const (
	// KindNetwork means the request never produced a response.
	KindNetwork ErrorKind = iota
	// KindStatus means the server answered with a non-2xx status.
	KindStatus
	// KindDecode means the response body could not be decoded.
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned for every failed server call.
type Error struct {
	Kind    ErrorKind
	Op      string // "GET /api/v1/server/info"
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		msg := e.Message
		if msg == "" {
			msg = http.StatusText(e.Status)
		}
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, msg)
	default:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindStatus && re.Status == http.StatusNotFound
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindNetwork
}
