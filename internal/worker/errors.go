package worker

import (
	"errors"
	"fmt"
)

// ErrBatchTooLarge means a task asked for more samples than its
// generator's batch ceiling allows; attempting it risks exhausting
// worker memory mid-batch.
var ErrBatchTooLarge = errors.New("batch size exceeds generator ceiling")

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks an error as non-retriable: redelivery cannot change
// the outcome, so the message should be dead-lettered immediately.
func Terminal(format string, args ...any) error {
	return &terminalError{err: fmt.Errorf(format, args...)}
}

func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
