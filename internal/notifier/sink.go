package notifier

import (
	"context"
	"errors"
	"fmt"
)

// Sink delivers a rendered message to a target (a channel id, chat id or topic key).
type Sink interface {
	Name() string
	Send(ctx context.Context, target, text string) error
}

// ErrNoTarget means the machine's organization has no delivery target configured.
var ErrNoTarget = errors.New("no delivery target configured")

// SinkError reports a failed delivery, including malformed provider responses.
type SinkError struct {
	Sink   string
	Status int
	Err    error
}

func (e *SinkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Sink, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
