// Package publish delivers per-interval top talker messages to downstream
// consumers.
package publish

import (
	"errors"

	"Go2TopTalk/internal/message"
)

// ErrQueueFull is returned by a publisher that cannot accept another message
// without blocking.
var ErrQueueFull = errors.New("publish queue full")

// Publisher accepts messages from the scheduler. Publish must not block on
// downstream I/O; a message that cannot be accepted is rejected with an
// error and dropped by the caller.
type Publisher interface {
	Name() string
	Publish(msg *message.TopTalk) error
	Close() error
}
