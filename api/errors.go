package api

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a non-2xx answer from the platform API.
type Error struct {
	Op     string
	Status int
	Body   string
}

func (e *Error) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

type Kind int

const (
	KindNone Kind = iota
	KindTransport
	KindNotFound
	KindUnauthorized
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "unexpected"
}

// transportError marks failures that happened before any response arrived.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Classify sorts an error into the client's failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	}
	var te *transportError
	if errors.As(err, &te) {
		return KindTransport
	}
	var ae *Error
	if errors.As(err, &ae) {
		return KindTransport
	}
	return KindUnexpected
}
