/*
Copyright © 2026 the cubedsphere authors.
This file is part of cubedsphere.

cubedsphere is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

cubedsphere is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with cubedsphere.  If not, see <http://www.gnu.org/licenses/>.
*/

package cubedsphere

import (
	"context"
	"fmt"
	"sync"
)

// Transport moves bytes between the ranks of a process group. It is
// provided by the surrounding runtime; this package never launches
// processes or discovers peers itself.
type Transport interface {
	// Rank returns the id of the calling rank.
	Rank() int

	// Size returns the number of ranks in the group.
	Size() int

	// Send starts delivering data to rank dest under the given tag.
	// The transport takes ownership of data. Delivery failures are
	// reported by the returned Request.
	Send(ctx context.Context, dest, tag int, data []byte) (Request, error)

	// Receive blocks until a message with the given tag arrives from
	// rank src. Messages with the same source and tag are received in
	// the order they were sent.
	Receive(ctx context.Context, src, tag int) ([]byte, error)
}

// Request is a send that may still be in progress.
type Request interface {
	// Wait blocks until the send completes and returns any delivery error.
	Wait(ctx context.Context) error
}

// Completed is a Request that has already finished with the given error.
type Completed struct{ Err error }

// Wait returns r.Err.
func (r Completed) Wait(context.Context) error { return r.Err }

type mailKey struct{ src, tag int }

// Mailbox queues incoming messages by source and tag. It can be shared by
// any number of goroutines.
type Mailbox struct {
	mu     sync.Mutex
	boxes  map[mailKey]*mailQueue
	failed map[int]error // by source
	closed error
}

type mailQueue struct {
	msgs  [][]byte
	ready chan struct{} // closed and replaced when a message arrives or a source fails
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		boxes:  make(map[mailKey]*mailQueue),
		failed: make(map[int]error),
	}
}

func (m *Mailbox) queue(k mailKey) *mailQueue {
	q, ok := m.boxes[k]
	if !ok {
		q = &mailQueue{ready: make(chan struct{})}
		m.boxes[k] = q
	}
	return q
}

func (q *mailQueue) wake() {
	close(q.ready)
	q.ready = make(chan struct{})
}

// Put adds a message from src with the given tag.
func (m *Mailbox) Put(src, tag int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(mailKey{src, tag})
	q.msgs = append(q.msgs, data)
	q.wake()
}

// Fail records that no more messages will arrive from src. Takes from src
// that are waiting, or that find nothing queued later on, return err.
// Only the first failure of a source is kept.
func (m *Mailbox) Fail(src int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.failed[src]; ok {
		return
	}
	m.failed[src] = err
	for k, q := range m.boxes {
		if k.src == src {
			q.wake()
		}
	}
}

// Close is like Fail for every source.
func (m *Mailbox) Close(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed != nil {
		return
	}
	m.closed = err
	for _, q := range m.boxes {
		q.wake()
	}
}

// Take removes and returns the oldest message from src with the given tag,
// waiting for one to arrive if necessary. Messages that arrived before src
// failed are still returned.
func (m *Mailbox) Take(ctx context.Context, src, tag int) ([]byte, error) {
	for {
		m.mu.Lock()
		q := m.queue(mailKey{src, tag})
		if len(q.msgs) > 0 {
			data := q.msgs[0]
			q.msgs[0] = nil
			q.msgs = q.msgs[1:]
			m.mu.Unlock()
			return data, nil
		}
		if err, ok := m.failed[src]; ok {
			m.mu.Unlock()
			return nil, err
		}
		if m.closed != nil {
			err := m.closed
			m.mu.Unlock()
			return nil, err
		}
		ready := q.ready
		m.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// LocalNetwork connects ranks that run as goroutines in the same process.
type LocalNetwork struct {
	mu     sync.Mutex
	boxes  []*Mailbox
	failed map[int]bool
}

// NewLocalNetwork creates a network of size ranks.
func NewLocalNetwork(size int) *LocalNetwork {
	n := &LocalNetwork{
		boxes:  make([]*Mailbox, size),
		failed: make(map[int]bool),
	}
	for i := range n.boxes {
		n.boxes[i] = NewMailbox()
	}
	return n
}

// Endpoint returns the transport used by the given rank.
func (n *LocalNetwork) Endpoint(rank int) Transport {
	return &localTransport{net: n, rank: rank}
}

// Fail marks a rank as crashed: from now on every message to or from it
// fails, and ranks waiting for a message from it stop waiting.
func (n *LocalNetwork) Fail(rank int) {
	n.mu.Lock()
	n.failed[rank] = true
	n.mu.Unlock()
	err := fmt.Errorf("rank %d has failed", rank)
	for r, box := range n.boxes {
		if r == rank {
			box.Close(err)
		} else {
			box.Fail(rank, err)
		}
	}
}

func (n *LocalNetwork) isFailed(rank int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failed[rank]
}

type localTransport struct {
	net  *LocalNetwork
	rank int
}

func (t *localTransport) Rank() int { return t.rank }
func (t *localTransport) Size() int { return len(t.net.boxes) }

func (t *localTransport) Send(ctx context.Context, dest, tag int, data []byte) (Request, error) {
	if dest < 0 || dest >= len(t.net.boxes) {
		return nil, fmt.Errorf("%w: rank %d: no such destination rank %d", ErrTransport, t.rank, dest)
	}
	if t.net.isFailed(dest) || t.net.isFailed(t.rank) {
		return nil, fmt.Errorf("%w: rank %d: rank %d is unreachable", ErrTransport, t.rank, dest)
	}
	t.net.boxes[dest].Put(t.rank, tag, data)
	return Completed{}, nil
}

func (t *localTransport) Receive(ctx context.Context, src, tag int) ([]byte, error) {
	if src < 0 || src >= len(t.net.boxes) {
		return nil, fmt.Errorf("%w: rank %d: no such source rank %d", ErrTransport, t.rank, src)
	}
	if t.net.isFailed(src) || t.net.isFailed(t.rank) {
		return nil, fmt.Errorf("%w: rank %d: rank %d is unreachable", ErrTransport, t.rank, src)
	}
	data, err := t.net.boxes[t.rank].Take(ctx, src, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: rank %d: receiving tag %d from rank %d: %v", ErrTransport, t.rank, tag, src, err)
	}
	return data, nil
}
