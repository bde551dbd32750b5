package client

import (
	"errors"
	"fmt"
)

// Codes shared by live acks and fallback responses.
const (
	CodeValidation = "validation"
	CodeForbidden  = "forbidden"
	CodeNotFound   = "not_found"
	CodeTransient  = "transient"
)

var (
	ErrNotConnected = errors.New("client: live channel not connected")
	ErrAckTimeout   = errors.New("client: ack timeout")
	ErrJoinRejected = errors.New("client: join rejected")
	ErrClosed       = errors.New("client: closed")
)

// RequestError is a rejection reported by the server on either path.
type RequestError struct {
	Code   string
	Reason string
	Status int
}

func (e *RequestError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("client: %s", e.Code)
	}
	return fmt.Sprintf("client: %s: %s", e.Code, e.Reason)
}

// Retryable reports whether err may succeed on the other path or a later attempt.
func Retryable(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Code == CodeTransient
	}
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrAckTimeout)
}
