package dispatch

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/qiwigo/internal/event"
)

var (
	// ErrHandler matches every contained handler or filter failure.
	ErrHandler = errors.New("dispatch: handler failed")

	// ErrFrozen is returned when registering on a frozen dispatcher.
	ErrFrozen = errors.New("dispatch: dispatcher is frozen")
)

// HandlerError records a handler or filter failure during one dispatch.
type HandlerError struct {
	Handler     string
	Kind        event.Kind
	DeliveryKey string
	Err         error

	// Panic holds the recovered value when the handler panicked.
	Panic any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("dispatch: handler %q panicked on %s event: %v", e.Handler, e.Kind, e.Panic)
	}
	return fmt.Sprintf("dispatch: handler %q failed on %s event: %v", e.Handler, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHandler}
	}
	return []error{ErrHandler, e.Err}
}
