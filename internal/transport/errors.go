package transport

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent marks an inbound push frame that cannot be parsed.
// It is never surfaced past the connection read loop; frames that
// produce it are dropped so unrelated traffic cannot kill the channel.
var ErrMalformedEvent = errors.New("malformed push event")

// ErrEmptyPeerID is returned when an operation is called without a peer.
var ErrEmptyPeerID = errors.New("peer id must not be empty")

// NetworkError wraps any failed request/response exchange: connection
// errors, timeouts and non-success statuses alike.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err is (or wraps) a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
