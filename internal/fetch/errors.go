package fetch

import (
	"errors"
	"fmt"
)

// ErrUpstreamTimeout is returned when the upstream fetch exceeds its
// deadline. The in-flight network operation is aborted.
var ErrUpstreamTimeout = errors.New("upstream fetch timed out")

// UpstreamError reports a non-2xx upstream response. It is not retried
// automatically; a new inbound request is the only retry mechanism.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream unavailable (status %d)", e.Status)
}
