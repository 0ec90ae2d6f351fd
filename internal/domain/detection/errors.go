package detection

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrTimeout           = errors.New("timeout")
	ErrTransport         = errors.New("transport failure")
	ErrBadResponse       = errors.New("bad response")
	ErrBufferOverflow    = errors.New("buffer overflow")
	ErrDeliveryExhausted = errors.New("delivery exhausted")
	ErrNotFound          = errors.New("not found")
)

// Stage names one remote inference call.
type Stage string

const (
	StageVehicles   Stage = "vehicles"
	StagePlate      Stage = "license_plate"
	StageAttributes Stage = "attributes"
)

// StageError records which stage failed. It unwraps to one of the sentinel
// errors above.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Classify maps a raw transport error onto ErrTimeout or ErrTransport,
// keeping the original error in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrBadResponse) || errors.Is(err, ErrInvalidInput) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// Kind returns the sentinel an error was classified as, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrInvalidInput, ErrTimeout, ErrTransport, ErrBadResponse,
		ErrBufferOverflow, ErrDeliveryExhausted, ErrNotFound,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
