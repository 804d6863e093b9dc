package mirror

import (
	"errors"
	"fmt"
)

// ErrNoPrincipal is returned by writes issued while nobody is signed in.
var ErrNoPrincipal = errors.New("no signed-in principal")

// SubscriptionError is a failure reported by a live listener.
type SubscriptionError struct {
	Collection string
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Collection, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
