package predictor

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx answer from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Error: %d %s", e.Code, e.Body)
}

// MalformedError is a 2xx answer whose body does not match the fixed schema.
type MalformedError struct {
	Body string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed prediction response: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Detail renders err as the text shown in the inline error panel:
// status code plus body, the raw body of a malformed answer, or the
// message of anything else.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Error()
	}
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return malformed.Body
	}
	return err.Error()
}
