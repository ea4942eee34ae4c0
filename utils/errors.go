package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

type panicError struct {
	value interface{}
}

func (pe panicError) Error() string {
	return fmt.Sprintf("panic in parallel work: %v", pe.value)
}
