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
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.WarnLevel)
	goleak.VerifyTestMain(m)
}

// runRanks runs fn concurrently for every rank of p over an in-process
// network. wrap, if not nil, decorates each rank's transport.
func runRanks(t *testing.T, p *Partitioner, wrap func(Transport) Transport,
	fn func(ctx context.Context, ex *Exchanger) error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	net := NewLocalNetwork(p.Size())
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < p.Size(); rank++ {
		desc, err := p.Descriptor(rank)
		require.NoError(t, err)
		tr := net.Endpoint(rank)
		if wrap != nil {
			tr = wrap(tr)
		}
		ex, err := NewExchanger(desc, tr)
		require.NoError(t, err)
		g.Go(func() error { return fn(ctx, ex) })
	}
	return g.Wait()
}

// cellID identifies tile cell (i, j) at extra-axis position k.
func cellID(p *Partitioner, tile, i, j, k int) float64 {
	n := p.TileExtent()
	return float64(((tile*n+i)*n+j)*10 + k)
}

// fillIDs sets every interior cell of f to its cellID and every halo cell
// to -1.
func fillIDs(p *Partitioner, d *RankDomain, f *Field) {
	for i := range f.Data.Elements {
		f.Data.Elements[i] = -1
	}
	f.FillInterior(func(i, j int, k []int) float64 {
		kk := 0
		if len(k) > 0 {
			kk = k[0]
		}
		return cellID(p, d.Tile, d.I0+i, d.J0+j, kk)
	})
}

// checkHalo checks that the halo of f, up to the given width, holds the
// cellIDs of the cells that the topology says it mirrors, and that deeper
// halo cells are untouched.
func checkHalo(p *Partitioner, d *RankDomain, f *Field, width int) error {
	nk := f.Stride()
	for i := -d.Halo; i < d.Nx+d.Halo; i++ {
		for j := -d.Halo; j < d.Ny+d.Halo; j++ {
			if i >= 0 && i < d.Nx && j >= 0 && j < d.Ny {
				continue
			}
			fresh := d.depth(i, j) < width
			t, ti, tj, _, _ := p.topo.resolve(d.Tile, d.I0+i, d.J0+j, p.tileExtent)
			for k := 0; k < nk; k++ {
				want := -1.
				if fresh {
					want = cellID(p, t, ti, tj, k)
				}
				if got := f.Cell(i, j)[k]; got != want {
					return fmt.Errorf("rank %d cell (%d, %d, %d): got %g, want %g", d.Rank, i, j, k, got, want)
				}
			}
		}
	}
	return nil
}

// expectedEdgeNeighbors lists, for the 24 ranks of a decomposition with two
// ranks along each tile edge, the west, south, east and north neighbors.
var expectedEdgeNeighbors = [24][4]int{
	{19, 22, 1, 2}, {0, 23, 4, 3}, {18, 0, 3, 10}, {2, 1, 6, 8},
	{1, 23, 5, 6}, {4, 21, 13, 7}, {3, 4, 7, 8}, {6, 5, 12, 9},
	{3, 6, 9, 10}, {8, 7, 12, 11}, {2, 8, 11, 18}, {10, 9, 14, 16},
	{9, 7, 13, 14}, {12, 5, 21, 15}, {11, 12, 15, 16}, {14, 13, 20, 17},
	{11, 14, 17, 18}, {16, 15, 20, 19}, {10, 16, 19, 2}, {18, 17, 22, 0},
	{17, 15, 21, 22}, {20, 13, 5, 23}, {19, 20, 23, 0}, {22, 21, 4, 1},
}

func TestExchangeRankIDs(t *testing.T) {
	p := mustPartitioner(t, 8, 2, 1)
	err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
		d := ex.Descriptor().Domain
		f := NewField("rank", d)
		f.FillInterior(func(int, int, []int) float64 { return float64(d.Rank) })
		if err := ex.Exchange(ctx, 1, f); err != nil {
			return err
		}
		want := expectedEdgeNeighbors[d.Rank]
		for j := 0; j < d.Ny; j++ {
			if got := f.At(-1, j); got != float64(want[West]) {
				return fmt.Errorf("rank %d west halo (-1, %d) = %g, want %d", d.Rank, j, got, want[West])
			}
			if got := f.At(d.Nx, j); got != float64(want[East]) {
				return fmt.Errorf("rank %d east halo (%d, %d) = %g, want %d", d.Rank, d.Nx, j, got, want[East])
			}
		}
		for i := 0; i < d.Nx; i++ {
			if got := f.At(i, -1); got != float64(want[South]) {
				return fmt.Errorf("rank %d south halo (%d, -1) = %g, want %d", d.Rank, i, got, want[South])
			}
			if got := f.At(i, d.Ny); got != float64(want[North]) {
				return fmt.Errorf("rank %d north halo (%d, %d) = %g, want %d", d.Rank, i, d.Ny, got, want[North])
			}
		}
		if d.Rank == 0 {
			// south-west (a cube vertex), south-east, north-east, north-west
			corners := map[[2]int]float64{{-1, -1}: 19, {4, -1}: 23, {4, 4}: 3, {-1, 4}: 18}
			for ij, want := range corners {
				if got := f.At(ij[0], ij[1]); got != want {
					return fmt.Errorf("rank 0 corner %v = %g, want %g", ij, got, want)
				}
			}
		}
		for c, n := range d.Corners {
			ij := [4][2]int{{-1, -1}, {d.Nx, -1}, {d.Nx, d.Ny}, {-1, d.Ny}}[c]
			if got := f.At(ij[0], ij[1]); got != float64(n.Rank) {
				return fmt.Errorf("rank %d corner %d = %g, want %d", d.Rank, c, got, n.Rank)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestExchangeCellIDs(t *testing.T) {
	for _, c := range partitionConfigs {
		t.Run(fmt.Sprintf("N%d_R%d_H%d", c[0], c[1], c[2]), func(t *testing.T) {
			p := mustPartitioner(t, c[0], c[1], c[2])
			err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
				d := ex.Descriptor().Domain
				f := NewField("ids", d, 3)
				fillIDs(p, d, f)
				if err := ex.Exchange(ctx, d.Halo, f); err != nil {
					return err
				}
				return checkHalo(p, d, f, d.Halo)
			})
			require.NoError(t, err)
		})
	}
}

func TestExchangePartialWidth(t *testing.T) {
	p := mustPartitioner(t, 9, 3, 3)
	for width := 0; width <= 3; width++ {
		err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
			d := ex.Descriptor().Domain
			f := NewField("ids", d)
			fillIDs(p, d, f)
			if err := ex.Exchange(ctx, width, f); err != nil {
				return err
			}
			return checkHalo(p, d, f, width)
		})
		require.NoError(t, err, "width %d", width)
	}
}

func TestExchangeIdempotent(t *testing.T) {
	p := mustPartitioner(t, 8, 2, 2)
	err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
		d := ex.Descriptor().Domain
		f := NewField("ids", d, 2)
		fillIDs(p, d, f)
		if err := ex.Exchange(ctx, 2, f); err != nil {
			return err
		}
		first := append([]float64(nil), f.Data.Elements...)
		if err := ex.Exchange(ctx, 2, f); err != nil {
			return err
		}
		for i, v := range f.Data.Elements {
			if v != first[i] {
				return fmt.Errorf("rank %d element %d changed from %g to %g", d.Rank, i, first[i], v)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// shuffleTransport delivers each message after a random delay, so messages
// arrive in a different order on every run.
type shuffleTransport struct {
	Transport
	mu  sync.Mutex
	rnd *rand.Rand
}

type doneRequest struct {
	done chan struct{}
	err  error
}

func (r *doneRequest) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *shuffleTransport) Send(ctx context.Context, dest, tag int, data []byte) (Request, error) {
	s.mu.Lock()
	delay := time.Duration(s.rnd.Intn(2000)) * time.Microsecond
	s.mu.Unlock()
	r := &doneRequest{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		time.Sleep(delay)
		req, err := s.Transport.Send(ctx, dest, tag, data)
		if err == nil {
			err = req.Wait(ctx)
		}
		r.err = err
	}()
	return r, nil
}

func TestExchangeArrivalOrder(t *testing.T) {
	p := mustPartitioner(t, 4, 1, 2)
	results := make([][]string, 3)
	for run := range results {
		results[run] = make([]string, p.Size())
		seed := int64(run)
		var mu sync.Mutex
		err := runRanks(t, p, func(tr Transport) Transport {
			return &shuffleTransport{Transport: tr, rnd: rand.New(rand.NewSource(seed + int64(tr.Rank())))}
		}, func(ctx context.Context, ex *Exchanger) error {
			d := ex.Descriptor().Domain
			f := NewField("ids", d)
			fillIDs(p, d, f)
			g := NewField("rank", d)
			g.FillInterior(func(i, j int, _ []int) float64 { return float64(d.Rank*100 + i*10 + j) })
			if err := ex.Exchange(ctx, 2, f, g); err != nil {
				return err
			}
			mu.Lock()
			results[run][d.Rank] = fmt.Sprint(f.Data.Elements, g.Data.Elements)
			mu.Unlock()
			return checkHalo(p, d, f, 2)
		})
		require.NoError(t, err)
	}
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, results[0], results[2])
}

func TestExchangeOneRankPerTile(t *testing.T) {
	p := mustPartitioner(t, 4, 1, 1)
	for rank := 0; rank < p.Size(); rank++ {
		desc, err := p.Descriptor(rank)
		require.NoError(t, err)
		for _, tr := range append(desc.Sends, desc.Recvs...) {
			assert.NotEqual(t, rank, tr.Peer)
		}
		assert.Len(t, desc.Recvs, NumDirections)
	}
	err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
		d := ex.Descriptor().Domain
		f := NewField("ids", d)
		fillIDs(p, d, f)
		if err := ex.Exchange(ctx, 1, f); err != nil {
			return err
		}
		return checkHalo(p, d, f, 1)
	})
	require.NoError(t, err)
}

func TestExchangeZeroHalo(t *testing.T) {
	p := mustPartitioner(t, 2, 1, 0)
	err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
		d := ex.Descriptor().Domain
		f := NewField("f", d)
		return ex.Exchange(ctx, 0, f)
	})
	require.NoError(t, err)
}

func TestExchangeVector(t *testing.T) {
	p := mustPartitioner(t, 6, 1, 2)
	err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
		d := ex.Descriptor().Domain
		u, v := NewField("u", d), NewField("v", d)
		// A uniform eastward vector on every tile.
		u.FillInterior(func(int, int, []int) float64 { return 1 })
		if err := ex.ExchangeVector(ctx, 2, u, v); err != nil {
			return err
		}
		rots := make([]Rotation, 0, 8)
		for _, e := range Edges {
			rots = append(rots, d.Edges[e].Rotation)
		}
		// Every corner is a cube vertex, so these include the fold.
		for _, c := range d.Corners {
			rots = append(rots, c.Rotation)
		}
		for dir, rot := range rots {
			wu, wv := rotateVector(rot, 1, 0)
			reg := d.HaloRegion(Direction(dir), 2)
			for i := reg.I0; i < reg.I1; i++ {
				for j := reg.J0; j < reg.J1; j++ {
					if u.At(i, j) != wu || v.At(i, j) != wv {
						return fmt.Errorf("rank %d %v halo (%d, %d) = (%g, %g), want (%g, %g)",
							d.Rank, Direction(dir), i, j, u.At(i, j), v.At(i, j), wu, wv)
					}
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestExchangeOverlap(t *testing.T) {
	p := mustPartitioner(t, 8, 2, 2)
	err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
		d := ex.Descriptor().Domain
		f := NewField("ids", d)
		fillIDs(p, d, f)
		h, err := ex.Start(ctx, 1, f)
		if err != nil {
			return err
		}
		if h.State() != InFlight {
			return fmt.Errorf("state after start is %v", h.State())
		}
		if !f.InFlight() {
			return fmt.Errorf("field is not marked in flight")
		}
		// Interior work while the round is in flight.
		sum := f.InteriorSum()
		if err := ex.Finish(ctx, h); err != nil {
			return err
		}
		if h.State() != Complete || f.InFlight() {
			return fmt.Errorf("round not complete after finish: %v", h.State())
		}
		if f.InteriorSum() != sum {
			return fmt.Errorf("interior changed during exchange")
		}
		return checkHalo(p, d, f, 1)
	})
	require.NoError(t, err)
}

func TestExchangeMisuse(t *testing.T) {
	p := mustPartitioner(t, 4, 1, 1)
	net := NewLocalNetwork(p.Size())
	desc, err := p.Descriptor(0)
	require.NoError(t, err)
	ex, err := NewExchanger(desc, net.Endpoint(0))
	require.NoError(t, err)
	ctx := context.Background()
	f := NewField("f", desc.Domain)

	err = ex.Finish(ctx, nil)
	assert.True(t, errors.Is(err, ErrMisuse), "finish without start: %v", err)
	err = ex.Finish(ctx, &Handle{})
	assert.True(t, errors.Is(err, ErrMisuse), "finish of a zero handle: %v", err)

	_, err = ex.Start(ctx, 2, f)
	assert.True(t, errors.Is(err, ErrMisuse), "width larger than the halo: %v", err)
	_, err = ex.Start(ctx, 1)
	assert.True(t, errors.Is(err, ErrMisuse), "no fields: %v", err)
	_, err = ex.Start(ctx, 1, f, f)
	assert.True(t, errors.Is(err, ErrMisuse), "duplicate field: %v", err)

	big := NewField("big", &RankDomain{Nx: 5, Ny: 5, Halo: 1})
	_, err = ex.Start(ctx, 1, big)
	assert.True(t, errors.Is(err, ErrMisuse), "wrong shape: %v", err)

	h, err := ex.Start(ctx, 1, f)
	require.NoError(t, err)
	_, err = ex.Start(ctx, 1, f)
	assert.True(t, errors.Is(err, ErrMisuse), "field in flight: %v", err)

	desc1, err := p.Descriptor(1)
	require.NoError(t, err)
	ex1, err := NewExchanger(desc1, net.Endpoint(1))
	require.NoError(t, err)
	err = ex1.Finish(ctx, h)
	assert.True(t, errors.Is(err, ErrMisuse), "finish on another exchanger: %v", err)

	// Nobody else sends, so finishing times out, which is fatal.
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = ex.Finish(tctx, h)
	assert.True(t, errors.Is(err, ErrTransport), "timeout: %v", err)
	assert.False(t, f.InFlight())

	err = ex.Finish(ctx, h)
	assert.True(t, errors.Is(err, ErrMisuse), "double finish: %v", err)

	_, err = NewExchanger(desc, net.Endpoint(1))
	assert.True(t, errors.Is(err, ErrConfig), "rank mismatch: %v", err)
}

func TestExchangePeerFailure(t *testing.T) {
	p := mustPartitioner(t, 4, 1, 1)
	net := NewLocalNetwork(p.Size())
	net.Fail(1)
	desc, err := p.Descriptor(0)
	require.NoError(t, err)
	ex, err := NewExchanger(desc, net.Endpoint(0))
	require.NoError(t, err)
	f := NewField("f", desc.Domain)
	err = ex.Exchange(context.Background(), 1, f)
	assert.True(t, errors.Is(err, ErrTransport), "got %v", err)
	assert.False(t, f.InFlight())
}

func TestExchangeNeighborFailsDuringRound(t *testing.T) {
	p := mustPartitioner(t, 4, 1, 1)
	net := NewLocalNetwork(p.Size())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := make([]error, p.Size())
	var wg sync.WaitGroup
	begin := time.Now()
	for rank := 0; rank < p.Size(); rank++ {
		if rank == 1 {
			continue // crashes before sending anything
		}
		desc, err := p.Descriptor(rank)
		require.NoError(t, err)
		ex, err := NewExchanger(desc, net.Endpoint(rank))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[rank] = ex.Exchange(ctx, 1, NewField("f", desc.Domain))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	net.Fail(1)
	wg.Wait()
	assert.Less(t, time.Since(begin), 5*time.Second)
	// Tile 1 borders every tile but the opposite one, tile 4.
	for _, rank := range []int{0, 2, 3, 5} {
		assert.True(t, errors.Is(errs[rank], ErrTransport), "rank %d: got %v", rank, errs[rank])
	}
}

func TestExchangeOneRoundAtATime(t *testing.T) {
	p := mustPartitioner(t, 8, 2, 1)
	err := runRanks(t, p, nil, func(ctx context.Context, ex *Exchanger) error {
		d := ex.Descriptor().Domain
		u, v := NewField("u", d), NewField("v", d)
		fillIDs(p, d, u)
		fillIDs(p, d, v)
		hu, err := ex.Start(ctx, 1, u)
		if err != nil {
			return err
		}
		if _, err := ex.Start(ctx, 1, v); !errors.Is(err, ErrMisuse) {
			return fmt.Errorf("rank %d: second start with a round in flight: got %v", d.Rank, err)
		}
		if v.InFlight() {
			return fmt.Errorf("rank %d: rejected field is marked in flight", d.Rank)
		}
		if err := ex.Finish(ctx, hu); err != nil {
			return err
		}
		hv, err := ex.Start(ctx, 1, v)
		if err != nil {
			return err
		}
		if err := ex.Finish(ctx, hv); err != nil {
			return err
		}
		if err := checkHalo(p, d, u, 1); err != nil {
			return err
		}
		return checkHalo(p, d, v, 1)
	})
	require.NoError(t, err)
}

func TestExchangeMalformedMessage(t *testing.T) {
	p := mustPartitioner(t, 4, 1, 1)
	net := NewLocalNetwork(p.Size())
	desc, err := p.Descriptor(0)
	require.NoError(t, err)
	ex, err := NewExchanger(desc, net.Endpoint(0))
	require.NoError(t, err)
	// Deliver a truncated message for every expected receive.
	for _, r := range desc.Recvs {
		msg := encodeMessage(header{Round: 1, Direction: uint16(r.Direction), Width: 1, Count: 1}, []float64{1})
		_, err := net.Endpoint(r.Peer).Send(context.Background(), 0, int(r.Direction), msg[:len(msg)-3])
		require.NoError(t, err)
	}
	f := NewField("f", desc.Domain)
	err = ex.Exchange(context.Background(), 1, f)
	assert.True(t, errors.Is(err, ErrTransport), "got %v", err)
}
