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

	"github.com/sirupsen/logrus"
)

// State is the stage of an exchange round.
type State int

// Exchange round states.
const (
	Idle State = iota
	Posted
	InFlight
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Posted:
		return "posted"
	case InFlight:
		return "in flight"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Exchanger carries out halo exchange rounds for one rank.
type Exchanger struct {
	desc    *Descriptor
	tr      Transport
	round   uint64
	pending *Handle

	// Log receives a debug message for each round. It defaults to the
	// logrus standard logger.
	Log logrus.FieldLogger
}

// NewExchanger returns an exchanger that moves halo data for the rank
// described by desc over tr.
func NewExchanger(desc *Descriptor, tr Transport) (*Exchanger, error) {
	if desc == nil || desc.Domain == nil {
		return nil, fmt.Errorf("%w: exchanger: nil descriptor", ErrConfig)
	}
	if tr == nil {
		return nil, fmt.Errorf("%w: exchanger: nil transport", ErrConfig)
	}
	if tr.Rank() != desc.Domain.Rank {
		return nil, fmt.Errorf("%w: exchanger: transport is rank %d but descriptor is for rank %d",
			ErrConfig, tr.Rank(), desc.Domain.Rank)
	}
	for _, t := range append(append([]Transfer{}, desc.Sends...), desc.Recvs...) {
		if t.Peer >= tr.Size() {
			return nil, fmt.Errorf("%w: exchanger: peer rank %d is outside of the %d-rank communicator",
				ErrConfig, t.Peer, tr.Size())
		}
	}
	return &Exchanger{desc: desc, tr: tr, Log: logrus.StandardLogger()}, nil
}

// Descriptor returns the descriptor the exchanger was built with.
func (e *Exchanger) Descriptor() *Descriptor { return e.desc }

// Handle is an exchange round that has been started and not yet
// finished. It can only be created by Start and can only be finished once.
type Handle struct {
	ex     *Exchanger
	round  uint64
	width  int
	fields []*Field
	vector bool
	sends  []Request
	state  State
}

// State returns the stage the round has reached.
func (h *Handle) State() State { return h.state }

// Exchange fills the halos of fields, up to the given width, with their
// neighbors' interior values. It returns once every halo cell is fresh.
func (e *Exchanger) Exchange(ctx context.Context, width int, fields ...*Field) error {
	h, err := e.Start(ctx, width, fields...)
	if err != nil {
		return err
	}
	return e.Finish(ctx, h)
}

// ExchangeVector is like Exchange for the two components of a vector
// field, which are rotated as they cross tile edges.
func (e *Exchanger) ExchangeVector(ctx context.Context, width int, u, v *Field) error {
	h, err := e.StartVector(ctx, width, u, v)
	if err != nil {
		return err
	}
	return e.Finish(ctx, h)
}

// Start packs the halo data of fields and sends it to the neighbors. The
// caller may then do work that does not read the halos or write the
// fields before calling Finish. Only one round can be in flight at a
// time: Start fails with ErrMisuse until the returned handle is finished.
func (e *Exchanger) Start(ctx context.Context, width int, fields ...*Field) (*Handle, error) {
	return e.start(ctx, width, false, fields)
}

// StartVector is like Start for the two components of a vector field.
func (e *Exchanger) StartVector(ctx context.Context, width int, u, v *Field) (*Handle, error) {
	if err := u.conforms(e.desc.Domain, v); err != nil {
		return nil, err
	}
	return e.start(ctx, width, true, []*Field{u, v})
}

func (e *Exchanger) check(width int, fields []*Field) error {
	d := e.desc.Domain
	if e.pending != nil {
		return fmt.Errorf("%w: rank %d: round %d has not been finished", ErrMisuse, d.Rank, e.pending.round)
	}
	if width < 0 || width > d.Halo {
		return fmt.Errorf("%w: rank %d: halo width %d is outside of [0, %d]", ErrMisuse, d.Rank, width, d.Halo)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: rank %d: no fields to exchange", ErrMisuse, d.Rank)
	}
	seen := make(map[*Field]bool)
	for _, f := range fields {
		if err := f.conforms(d, nil); err != nil {
			return err
		}
		if f.inFlight {
			return fmt.Errorf("%w: rank %d: field %q is already part of an unfinished exchange",
				ErrMisuse, d.Rank, f.Name)
		}
		if seen[f] {
			return fmt.Errorf("%w: rank %d: field %q is listed twice", ErrMisuse, d.Rank, f.Name)
		}
		seen[f] = true
	}
	return nil
}

func (e *Exchanger) start(ctx context.Context, width int, vector bool, fields []*Field) (*Handle, error) {
	if err := e.check(width, fields); err != nil {
		return nil, err
	}
	e.round++
	h := &Handle{
		ex:     e,
		round:  e.round,
		width:  width,
		fields: fields,
		vector: vector,
	}
	for _, f := range fields {
		f.inFlight = true
	}
	e.pending = h

	// Pack everything before anything is sent.
	msgs := make([][]byte, len(e.desc.Sends))
	for i := range e.desc.Sends {
		t := &e.desc.Sends[i]
		if t.Len(width) == 0 {
			continue
		}
		buf := t.Pack(make([]float64, 0, t.BufferLen(width, fields...)), width, fields...)
		msgs[i] = encodeMessage(e.header(h, t.Direction, len(buf)), buf)
	}
	h.state = Posted

	for i, msg := range msgs {
		if msg == nil {
			continue
		}
		t := &e.desc.Sends[i]
		req, err := e.tr.Send(ctx, t.Peer, int(t.Direction), msg)
		if err != nil {
			h.release()
			return nil, fmt.Errorf("%w: rank %d: round %d: sending %v halo to rank %d: %v",
				ErrTransport, e.desc.Domain.Rank, h.round, t.Direction, t.Peer, err)
		}
		h.sends = append(h.sends, req)
	}
	h.state = InFlight
	e.Log.WithFields(logrus.Fields{
		"rank":   e.desc.Domain.Rank,
		"round":  h.round,
		"width":  width,
		"fields": len(fields),
		"sends":  len(h.sends),
	}).Debug("halo exchange started")
	return h, nil
}

func (e *Exchanger) header(h *Handle, dir Direction, count int) header {
	return header{
		Round:     h.round,
		Direction: uint16(dir),
		Width:     uint16(h.width),
		Count:     uint32(count),
	}
}

// release returns the fields to the caller.
func (h *Handle) release() {
	for _, f := range h.fields {
		f.inFlight = false
	}
	if h.ex.pending == h {
		h.ex.pending = nil
	}
	h.state = Complete
}

// Finish waits for the round started by h to complete and writes the
// received values into the halos. Receives are processed in direction
// order, so the result does not depend on the order in which messages
// arrive. The sends are watched at the same time, and any transport
// failure on either side ends the round with a fatal error.
func (e *Exchanger) Finish(ctx context.Context, h *Handle) error {
	if h == nil || h.ex == nil {
		return fmt.Errorf("%w: finish called without a matching start", ErrMisuse)
	}
	if h.ex != e {
		return fmt.Errorf("%w: finish called on an exchanger that did not start the round", ErrMisuse)
	}
	if h.state != InFlight {
		return fmt.Errorf("%w: rank %d: round %d is %v and cannot be finished",
			ErrMisuse, e.desc.Domain.Rank, h.round, h.state)
	}
	defer h.release()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	sent := make(chan error, 1)
	go func() {
		err := e.waitSends(ctx, h)
		if err != nil {
			cancel(err)
		}
		sent <- err
	}()
	if err := e.receive(ctx, h); err != nil {
		cancel(err)
		// A failed send cancels the receives, so report the send.
		if serr := <-sent; serr != nil && context.Cause(ctx) == serr {
			return serr
		}
		return err
	}
	if err := <-sent; err != nil {
		return err
	}
	e.Log.WithFields(logrus.Fields{
		"rank":  e.desc.Domain.Rank,
		"round": h.round,
	}).Debug("halo exchange finished")
	return nil
}

func (e *Exchanger) receive(ctx context.Context, h *Handle) error {
	rank := e.desc.Domain.Rank
	for i := range e.desc.Recvs {
		t := &e.desc.Recvs[i]
		n := t.BufferLen(h.width, h.fields...)
		if t.Len(h.width) == 0 {
			continue
		}
		msg, err := e.tr.Receive(ctx, t.Peer, int(t.Direction))
		if err != nil {
			return fmt.Errorf("%w: rank %d: round %d: receiving %v halo from rank %d: %v",
				ErrTransport, rank, h.round, t.Direction, t.Peer, err)
		}
		buf, err := decodeMessage(msg, e.header(h, t.Direction, n))
		if err != nil {
			return fmt.Errorf("rank %d: round %d: %v halo from rank %d: %w", rank, h.round, t.Direction, t.Peer, err)
		}
		if h.vector {
			err = t.UnpackVector(buf, h.width, h.fields[0], h.fields[1])
		} else {
			err = t.Unpack(buf, h.width, h.fields...)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Exchanger) waitSends(ctx context.Context, h *Handle) error {
	for _, req := range h.sends {
		if err := req.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rank %d: round %d: %v", ErrTransport, e.desc.Domain.Rank, h.round, err)
		}
	}
	return nil
}
