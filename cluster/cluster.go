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

// Package cluster provides a halo exchange transport for ranks that run as
// separate processes, passing messages as RPC calls over HTTP.
package cluster

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/cubedsphere"
)

// Empty is used for passing content-less messages.
type Empty struct{}

// Message is a halo message sent from one rank to another.
type Message struct {
	Src, Tag int
	Data     []byte
}

// Hello is exchanged when a rank connects to a peer.
type Hello struct {
	Rank int

	// Config is a hash of the run configuration, which must be the same
	// on every rank.
	Config string
}

// Service receives messages for a Peer. It should not be interacted with
// directly, but it is exported to meet RPC requirements.
type Service struct {
	peer *Peer
}

// Deliver queues msg for the receiving rank. It meets the requirements for
// use with rpc.Call.
func (s *Service) Deliver(msg *Message, _ *Empty) error {
	if msg.Src < 0 || msg.Src >= len(s.peer.addrs) {
		return fmt.Errorf("cluster: rank %d: message from unknown rank %d", s.peer.rank, msg.Src)
	}
	s.peer.box.Put(msg.Src, msg.Tag, msg.Data)
	return nil
}

// Hello checks that the calling rank was started with the same
// configuration and replies with this rank's id. It meets the
// requirements for use with rpc.Call.
func (s *Service) Hello(in *Hello, out *Hello) error {
	if in.Config != s.peer.ConfigHash {
		return fmt.Errorf("cluster: rank %d has configuration %s but rank %d has %s",
			s.peer.rank, s.peer.ConfigHash, in.Rank, in.Config)
	}
	out.Rank = s.peer.rank
	out.Config = s.peer.ConfigHash
	return nil
}

// Watch blocks until the peer is closed. Each connected rank keeps one
// Watch call pending so that it notices when this rank goes away. It meets
// the requirements for use with rpc.Call.
func (s *Service) Watch(_ *Empty, _ *Empty) error {
	<-s.peer.closing
	return fmt.Errorf("cluster: rank %d is shutting down", s.peer.rank)
}

// Peer is the endpoint of one rank. It implements cubedsphere.Transport.
type Peer struct {
	rank  int
	addrs []string
	box   *cubedsphere.Mailbox

	// ConfigHash identifies the run configuration. It must be set before
	// Serve and Connect are called.
	ConfigHash string

	// DialTimeout is how long Connect keeps retrying a peer that is not
	// yet listening. The default is one minute.
	DialTimeout time.Duration

	Log logrus.FieldLogger

	mu      sync.Mutex
	clients []*rpc.Client
	server  *http.Server
	conns   []net.Conn // accepted; RPC connections outlive the HTTP server

	closing   chan struct{}
	closeOnce sync.Once
	watchers  sync.WaitGroup
}

// NewPeer returns the endpoint of the given rank in a group whose members
// listen at addrs, in rank order.
func NewPeer(rank int, addrs []string) (*Peer, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("%w: cluster: rank %d is outside a group of %d", cubedsphere.ErrConfig, rank, len(addrs))
	}
	p := &Peer{
		rank:        rank,
		addrs:       addrs,
		box:         cubedsphere.NewMailbox(),
		DialTimeout: time.Minute,
		Log:         logrus.StandardLogger(),
		clients:     make([]*rpc.Client, len(addrs)),
		closing:     make(chan struct{}),
	}
	srv := rpc.NewServer()
	if err := srv.RegisterName("Mailbox", &Service{peer: p}); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, srv)
	p.server = &http.Server{Handler: mux}
	return p, nil
}

// Rank returns the rank of p.
func (p *Peer) Rank() int { return p.rank }

// Size returns the number of ranks in the group.
func (p *Peer) Size() int { return len(p.addrs) }

// Serve accepts messages on l until Close is called.
func (p *Peer) Serve(l net.Listener) error {
	p.Log.WithFields(logrus.Fields{"rank": p.rank, "addr": l.Addr().String()}).Info("listening")
	if err := p.server.Serve(&trackingListener{Listener: l, p: p}); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("cluster: rank %d: %v", p.rank, err)
	}
	return nil
}

// ListenAndServe listens at the address of p's rank and calls Serve.
func (p *Peer) ListenAndServe() error {
	l, err := net.Listen("tcp", p.addrs[p.rank])
	if err != nil {
		return fmt.Errorf("%w: cluster: rank %d: %v", cubedsphere.ErrTransport, p.rank, err)
	}
	return p.Serve(l)
}

// Connect dials every other rank, retrying with exponential backoff while
// they start up, and checks that they share p's configuration.
func (p *Peer) Connect(ctx context.Context) error {
	for r, addr := range p.addrs {
		if r == p.rank {
			continue
		}
		var client *rpc.Client
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = p.DialTimeout
		err := backoff.RetryNotify(
			func() error {
				var err error
				client, err = rpc.DialHTTPPath("tcp", addr, rpc.DefaultRPCPath)
				return err
			},
			backoff.WithContext(b, ctx),
			func(err error, d time.Duration) {
				p.Log.WithFields(logrus.Fields{"rank": p.rank, "peer": r}).Infof("%v: retrying in %v", err, d)
			},
		)
		if err != nil {
			return fmt.Errorf("%w: cluster: rank %d: dialing rank %d at %s: %v", cubedsphere.ErrTransport, p.rank, r, addr, err)
		}
		var reply Hello
		if err := client.Call("Mailbox.Hello", &Hello{Rank: p.rank, Config: p.ConfigHash}, &reply); err != nil {
			client.Close()
			return fmt.Errorf("%w: %v", cubedsphere.ErrConfig, err)
		}
		if reply.Rank != r {
			client.Close()
			return fmt.Errorf("%w: cluster: %s answered as rank %d, not %d", cubedsphere.ErrConfig, addr, reply.Rank, r)
		}
		p.mu.Lock()
		p.clients[r] = client
		p.mu.Unlock()
		p.watch(r, client)
	}
	return nil
}

// watch fails the mailbox for rank r once the connection to it is lost.
func (p *Peer) watch(r int, client *rpc.Client) {
	call := client.Go("Mailbox.Watch", &Empty{}, &Empty{}, make(chan *rpc.Call, 1))
	p.watchers.Add(1)
	go func() {
		defer p.watchers.Done()
		<-call.Done
		p.Log.WithFields(logrus.Fields{"rank": p.rank, "peer": r}).Debugf("connection lost: %v", call.Error)
		p.box.Fail(r, fmt.Errorf("connection to rank %d lost: %v", r, call.Error))
	}()
}

func (p *Peer) client(r int) (*rpc.Client, error) {
	if r < 0 || r >= len(p.addrs) {
		return nil, fmt.Errorf("%w: cluster: rank %d: no such rank %d", cubedsphere.ErrTransport, p.rank, r)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients[r] == nil {
		return nil, fmt.Errorf("%w: cluster: rank %d is not connected to rank %d", cubedsphere.ErrTransport, p.rank, r)
	}
	return p.clients[r], nil
}

// Send starts an RPC call delivering data to rank dest.
func (p *Peer) Send(ctx context.Context, dest, tag int, data []byte) (cubedsphere.Request, error) {
	if dest == p.rank {
		p.box.Put(p.rank, tag, data)
		return cubedsphere.Completed{}, nil
	}
	c, err := p.client(dest)
	if err != nil {
		return nil, err
	}
	msg := &Message{Src: p.rank, Tag: tag, Data: data}
	call := c.Go("Mailbox.Deliver", msg, &Empty{}, make(chan *rpc.Call, 1))
	return &callRequest{call: call, p: p, dest: dest}, nil
}

// Receive waits for a message from rank src with the given tag.
func (p *Peer) Receive(ctx context.Context, src, tag int) ([]byte, error) {
	if src < 0 || src >= len(p.addrs) {
		return nil, fmt.Errorf("%w: cluster: rank %d: no such rank %d", cubedsphere.ErrTransport, p.rank, src)
	}
	data, err := p.box.Take(ctx, src, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: cluster: rank %d: receiving tag %d from rank %d: %v",
			cubedsphere.ErrTransport, p.rank, tag, src, err)
	}
	return data, nil
}

// Close closes the connections to the other ranks and stops serving.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() { close(p.closing) })
	p.mu.Lock()
	for i, c := range p.clients {
		if c != nil {
			c.Close()
			p.clients[i] = nil
		}
	}
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
	err := p.server.Close()
	p.mu.Unlock()
	p.watchers.Wait()
	return err
}

type trackingListener struct {
	net.Listener
	p *Peer
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.p.mu.Lock()
		l.p.conns = append(l.p.conns, c)
		l.p.mu.Unlock()
	}
	return c, err
}

// callRequest is a Send whose RPC call may still be in progress.
type callRequest struct {
	call *rpc.Call
	p    *Peer
	dest int

	done bool
	err  error
}

func (r *callRequest) Wait(ctx context.Context) error {
	if r.done {
		return r.err
	}
	select {
	case <-r.call.Done:
		r.done = true
		if r.call.Error != nil {
			r.err = fmt.Errorf("%w: cluster: rank %d: delivering to rank %d: %v",
				cubedsphere.ErrTransport, r.p.rank, r.dest, r.call.Error)
			r.p.box.Fail(r.dest, r.err)
		}
		return r.err
	case <-ctx.Done():
		return fmt.Errorf("%w: cluster: rank %d: delivering to rank %d: %v",
			cubedsphere.ErrTransport, r.p.rank, r.dest, ctx.Err())
	}
}
