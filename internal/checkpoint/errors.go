package checkpoint

import "fmt"

// IncompatibleCheckpointError reports a resume attempt against a record
// whose manifest this build or configuration cannot accept. Fatal, pre-run.
type IncompatibleCheckpointError struct {
	Ref    string
	Reason string
}

func (e *IncompatibleCheckpointError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("incompatible checkpoint: %s", e.Reason)
	}
	return fmt.Sprintf("incompatible checkpoint %q: %s", e.Ref, e.Reason)
}

// StorageError reports a durable read or write failure. Fatal for the
// writer; peers observe it through the barrier they wait on.
type StorageError struct {
	Op  string
	Ref string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("checkpoint storage: %s %q: %v", e.Op, e.Ref, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
