package apod

import "fmt"

// FetchError reports a failed batch request to the upstream API. The viewer
// surfaces it with a manual retry; nothing retries automatically.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("apod %s: HTTP %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("apod %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
