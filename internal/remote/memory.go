package remote

import (
	"context"
	"fmt"
	"sync"
)

// MemoryChannel is an in-process Channel with the same semantics as the
// MQTT implementation: retained last value per key, per-subscriber
// conflation, fire-and-forget writes. It backs the offline demo mode and
// the package tests.
type MemoryChannel struct {
	mu       sync.Mutex
	closed   bool
	retained map[string][]byte
	subs     map[string]map[uint64]chan []byte
	nextID   uint64

	// failWrites maps a path to an error injected on Write. Tests only.
	failWrites map[string]error

	// writes records every accepted Write in order. Tests only.
	writes []WriteRecord
}

// WriteRecord is one accepted write, kept for test inspection.
type WriteRecord struct {
	Path    string
	Payload []byte
}

// NewMemoryChannel creates an empty in-memory channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		retained:   make(map[string][]byte),
		subs:       make(map[string]map[uint64]chan []byte),
		failWrites: make(map[string]error),
	}
}

// Subscribe opens a stream for a key. The retained value, if any, is
// delivered immediately.
func (c *MemoryChannel) Subscribe(path string) (<-chan []byte, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	if c.subs[path] == nil {
		c.subs[path] = make(map[uint64]chan []byte)
	}
	c.nextID++
	id := c.nextID
	stream := make(chan []byte, 1)
	c.subs[path][id] = stream
	if v, ok := c.retained[path]; ok {
		stream <- v
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[path], id)
		})
	}
	return stream, cancel, nil
}

// Write stores the value and delivers it to every subscriber of the key.
func (c *MemoryChannel) Write(_ context.Context, path string, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := c.failWrites[path]; err != nil {
		c.mu.Unlock()
		return fmt.Errorf("write %s: %w", path, err)
	}
	c.retained[path] = payload
	c.writes = append(c.writes, WriteRecord{Path: path, Payload: payload})
	streams := make([]chan []byte, 0, len(c.subs[path]))
	for _, s := range c.subs[path] {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		deliver(s, payload)
	}
	return nil
}

// Close marks the channel closed. Idempotent.
func (c *MemoryChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Push injects a snapshot as if a peer had written it, without recording it
// in the write log. Tests and the offline demo feeder use this.
func (c *MemoryChannel) Push(path string, payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retained[path] = payload
	streams := make([]chan []byte, 0, len(c.subs[path]))
	for _, s := range c.subs[path] {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		deliver(s, payload)
	}
}

// FailWrites injects an error for all subsequent writes to path. A nil err
// clears the injection.
func (c *MemoryChannel) FailWrites(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failWrites, path)
		return
	}
	c.failWrites[path] = err
}

// Writes returns a copy of the accepted writes in order.
func (c *MemoryChannel) Writes() []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WriteRecord, len(c.writes))
	copy(out, c.writes)
	return out
}
