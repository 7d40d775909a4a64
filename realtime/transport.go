/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Transport adapts a pair of store paths into a blocking message transport
// for media signaling: each side writes under the other's read path. The
// written child is deleted after delivery so signals do not replay on
// reconnect.
type Transport struct {
	client    *Client
	readPath  string
	writePath string

	msgs chan []byte
	sub  *Subscription

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewTransport subscribes to readPath and returns a transport that reads
// messages written there and writes messages under writePath.
func (c *Client) NewTransport(readPath, writePath string) (*Transport, error) {
	t := &Transport{
		client:    c,
		readPath:  readPath,
		writePath: writePath,
		msgs:      make(chan []byte, 16),
		done:      make(chan struct{}),
	}
	sub, err := c.SubscribeValues(readPath, func(key string, value json.RawMessage) {
		if err := c.Delete(readPath + "/" + key); err != nil {
			c.logger.Printf("realtime: consuming signal %s: %v", key, err)
		}
		select {
		case t.msgs <- value:
		case <-t.done:
		}
	})
	if err != nil {
		return nil, err
	}
	t.sub = sub
	return t, nil
}

// ReadMessage blocks until a signaling message arrives or the transport is
// closed.
func (t *Transport) ReadMessage() ([]byte, error) {
	select {
	case msg := <-t.msgs:
		return msg, nil
	case <-t.done:
		return nil, fmt.Errorf("transport closed")
	}
}

// WriteMessage appends a signaling message under the write path.
func (t *Transport) WriteMessage(data []byte) error {
	return t.client.Put(t.writePath, data)
}

// Close cancels the subscription and unblocks readers. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	t.sub.Cancel()
	return nil
}
