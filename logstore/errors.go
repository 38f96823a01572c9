package logstore

import (
	"errors"
	"fmt"
)

// targets for the IsXYError helpers
var (
	notFoundErr   *NotFoundError
	badRequestErr *BadRequestError
	badKeyErr     *InvalidKeyError
)

// NotFoundError indicates that the log holds no live value for a key.
type NotFoundError struct {
	key string
}

func NewNotFoundError(key string) error {
	return &NotFoundError{key}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no value for key %q", e.key)
}

func IsNotFoundError(err error) bool {
	return errors.As(err, &notFoundErr)
}

// BadRequestError indicates a record the log refuses to write.
type BadRequestError struct {
	reason string
}

func NewBadRequestError(reason string) error {
	return &BadRequestError{reason}
}

func (b *BadRequestError) Error() string {
	return "invalid write request: " + b.reason
}

func IsBadRequestError(err error) bool {
	return errors.As(err, &badRequestErr)
}

// InvalidKeyError indicates a stored key that does not decode to a user id.
type InvalidKeyError struct {
	key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("key %q is not a user id", e.key)
}

func IsInvalidKeyError(err error) bool {
	return errors.As(err, &badKeyErr)
}
