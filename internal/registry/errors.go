package registry

import (
	"fmt"
	"strings"
)

// DuplicateRegistrationError reports a second registration for a key that
// already exists. The registry is write-once per key.
type DuplicateRegistrationError struct {
	Category string
	Type     string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("registry: %s type %q already registered", e.Category, e.Type)
}

// UnknownTypeError reports a build request for a type nobody registered.
type UnknownTypeError struct {
	Category string
	Type     string
	Known    []string
}

func (e *UnknownTypeError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("registry: unknown %s type %q (no types registered in category)", e.Category, e.Type)
	}
	return fmt.Sprintf("registry: unknown %s type %q (registered: %s)", e.Category, e.Type, strings.Join(e.Known, ", "))
}
