package backends

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates the backend did not answer within the
	// configured deadline.
	ErrTimeout = errors.New("backend timeout")

	// ErrUnavailable indicates the backend refused or failed the request.
	ErrUnavailable = errors.New("backend unavailable")
)

// classify maps a transport error to one of the typed backend errors,
// preserving the original as wrapped context.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
