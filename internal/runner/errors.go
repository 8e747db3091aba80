package runner

import "fmt"

// NumericInstabilityError reports a step whose loss or gradients stayed
// non-finite through every permitted retry. Fatal once raised; individual
// retries are logged, not errored.
type NumericInstabilityError struct {
	Step     int64
	Attempts int
	Err      error
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("numeric instability at step %d after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *NumericInstabilityError) Unwrap() error { return e.Err }
