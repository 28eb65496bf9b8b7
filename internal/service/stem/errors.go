package stem

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoaded           = errors.New("stem is not loaded")
	ErrNotRegistered       = errors.New("stem account is not registered")
	ErrInvalidPrecondition = errors.New("invalid precondition")
)

func precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPrecondition, fmt.Sprintf(format, args...))
}
