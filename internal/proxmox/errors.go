package proxmox

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget indicates the configured cluster address cannot be
	// parsed into a usable URL
	ErrInvalidTarget = errors.New("invalid cluster address")

	// ErrNoEntities indicates the cluster listing returned no guests
	ErrNoEntities = errors.New("no guests found")
)

// RequestError is a non-2xx response from the cluster API
type RequestError struct {
	Code int
	Body string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("cluster request failed: status %d: %s", e.Code, e.Body)
}

// DecodeError is a response body that could not be decoded into the
// expected shape
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
