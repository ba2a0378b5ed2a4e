// Package queue carries work items (artifact names) between the upload
// gateway and the OCR worker.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")
	// ErrNotInflight means the delivery was already settled or was taken
	// back by the queue (for example after a lost connection).
	ErrNotInflight = errors.New("delivery is not in flight")
	// ErrConnectionLost means the broker connection went away.
	ErrConnectionLost = errors.New("broker connection lost")
)

// Delivery is one received work item. It stays unacknowledged, and will be
// redelivered, until Ack or Nack is called.
type Delivery interface {
	Body() string
	Redelivered() bool
	Ack() error
	Nack(requeue bool) error
}

type Publisher interface {
	Publish(ctx context.Context, name string) error
}

type Consumer interface {
	// Consume starts delivering work items. The channel is closed when ctx
	// ends or the underlying connection goes away.
	Consume(ctx context.Context) (<-chan Delivery, error)
}
