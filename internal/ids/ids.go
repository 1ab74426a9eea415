// Package ids issues identifiers for queued tasks and HTTP requests.
package ids

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// New returns a time-sortable KSUID.
func New() string {
	return ksuid.New().String()
}

// NewTaskID prefixes a KSUID with the task type, e.g. "derive-2Ak...".
func NewTaskID(kind string) string {
	return fmt.Sprintf("%s-%s", kind, New())
}

func NewRequestID() string {
	return uuid.NewString()
}
