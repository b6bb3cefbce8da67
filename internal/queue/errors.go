package queue

import (
	"errors"
	"fmt"
)

// ServerError is a definitive rejection from the server: the request made it
// there and came back with a non-2xx status. It is terminal for the event —
// retrying would just fail again. Every other dispatch error is treated as a
// network failure and sends the queue into offline mode instead.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected event: status %d: %s", e.Status, e.Body)
}

// IsServerError reports whether err is a server rejection rather than a
// network failure.
func IsServerError(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr)
}
