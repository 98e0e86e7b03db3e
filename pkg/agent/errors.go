package agent

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotFoundError reports a resolution stage that came back empty. It carries
// the user-facing input so failures can be reported against what the caller
// actually asked for.
type NotFoundError struct {
	Resource string
	Input    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s found for %q", e.Resource, e.Input)
}

// IsNotFound reports whether err (or its cause) is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}
