// Package remote abstracts the shared real-time key-value store that the
// farm controller and this client both read and write. Each key holds one
// JSON document replaced wholesale on every change.
package remote

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("remote: channel closed")
)

// Channel is the minimal contract this client needs from the store.
//
// Subscribe returns a stream of whole-document snapshots for a key with
// last-value-wins semantics: a consumer that falls behind sees the newest
// pending snapshot, never a backlog. The returned func releases the
// subscription; calling it more than once is harmless.
//
// Write publishes a whole document to a key and reports the outcome. There
// is no ordering guarantee between writes and no read-after-write guarantee:
// confirmation arrives, if at all, through the subscription.
type Channel interface {
	Subscribe(path string) (<-chan []byte, func(), error)
	Write(ctx context.Context, path string, payload []byte) error
	Close()
}

// deliver pushes a snapshot into a capacity-1 stream, replacing any pending
// value so the consumer always observes the latest one.
func deliver(stream chan []byte, payload []byte) {
	for {
		select {
		case stream <- payload:
			return
		default:
		}
		select {
		case <-stream:
		default:
		}
	}
}
