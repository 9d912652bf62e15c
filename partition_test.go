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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// partitionConfigs are (N, R, H) decompositions used across tests.
var partitionConfigs = [][3]int{
	{4, 1, 1},
	{8, 2, 1},
	{6, 2, 2},
	{9, 3, 3},
	{8, 4, 2},
	{12, 2, 0},
}

func mustPartitioner(t testing.TB, n, r, h int) *Partitioner {
	t.Helper()
	p, err := NewPartitioner(CubeSphere(), n, r, h, NumTiles*r*r)
	require.NoError(t, err)
	return p
}

func TestNewPartitionerErrors(t *testing.T) {
	for _, test := range []struct {
		name          string
		n, r, h, size int
	}{
		{name: "no ranks", n: 8, r: 0, h: 1, size: 0},
		{name: "negative halo", n: 8, r: 2, h: -1, size: 24},
		{name: "not divisible", n: 9, r: 2, h: 1, size: 24},
		{name: "size mismatch", n: 8, r: 2, h: 1, size: 23},
		{name: "halo too wide", n: 8, r: 4, h: 3, size: 96},
		{name: "empty tile", n: 0, r: 1, h: 0, size: 6},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewPartitioner(CubeSphere(), test.n, test.r, test.h, test.size)
			assert.True(t, errors.Is(err, ErrConfig), "got error %v", err)
		})
	}
	_, err := NewPartitioner(nil, 8, 2, 1, 24)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestDomain(t *testing.T) {
	p := mustPartitioner(t, 8, 2, 1)
	d, err := p.Domain(7)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Tile)
	assert.Equal(t, 4, d.I0)
	assert.Equal(t, 4, d.J0)
	assert.Equal(t, 4, d.Nx)
	assert.Equal(t, 4, d.Ny)

	_, err = p.Domain(24)
	assert.True(t, errors.Is(err, ErrConfig))
	_, err = p.Domain(-1)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestNeighborSymmetry(t *testing.T) {
	for _, c := range partitionConfigs {
		t.Run(fmt.Sprintf("N%d_R%d_H%d", c[0], c[1], c[2]), func(t *testing.T) {
			p := mustPartitioner(t, c[0], c[1], c[2])
			for rank := 0; rank < p.Size(); rank++ {
				a, err := p.Domain(rank)
				require.NoError(t, err)
				for _, e := range Edges {
					n := a.Edges[e]
					if n.Rank == rank {
						t.Fatalf("rank %d is its own %v neighbor", rank, e)
					}
					b, err := p.Domain(n.Rank)
					require.NoError(t, err)
					back := b.Edges[n.Edge]
					if back.Rank != rank || back.Edge != e {
						t.Errorf("rank %d %v neighbor is rank %d (its %v), whose %v neighbor is rank %d (its %v)",
							rank, e, n.Rank, n.Edge, n.Edge, back.Rank, back.Edge)
					}
					if (n.Rotation+back.Rotation)%4 != 0 {
						t.Errorf("rank %d %v: rotations %d° and %d° are not inverse",
							rank, e, n.Rotation.Degrees(), back.Rotation.Degrees())
					}
				}
			}
		})
	}
}

func TestCornerNeighbors(t *testing.T) {
	p := mustPartitioner(t, 8, 2, 1)
	d, err := p.Domain(0)
	require.NoError(t, err)
	// south-west, south-east, north-east, north-west. The south-west
	// corner folds a quarter turn back onto the west crossing.
	want := []CornerNeighbor{
		{Rank: 19, Tile: 4, Rotation: 0, Vertex: true},
		{Rank: 23, Tile: 5, Rotation: 0},
		{Rank: 3, Tile: 0, Rotation: 0},
		{Rank: 18, Tile: 4, Rotation: 3},
	}
	for c, w := range want {
		assert.Equal(t, w, d.Corners[c], "corner %d", c)
	}

	// With one rank per tile, every corner is a cube vertex.
	p = mustPartitioner(t, 4, 1, 1)
	for rank := 0; rank < p.Size(); rank++ {
		d, err := p.Domain(rank)
		require.NoError(t, err)
		for c, n := range d.Corners {
			assert.True(t, n.Vertex, "rank %d corner %d", rank, c)
			assert.NotEqual(t, rank, n.Rank)
		}
	}
}

func TestDescriptorMatchesNeighbors(t *testing.T) {
	for _, c := range partitionConfigs {
		t.Run(fmt.Sprintf("N%d_R%d_H%d", c[0], c[1], c[2]), func(t *testing.T) {
			p := mustPartitioner(t, c[0], c[1], c[2])
			descs := make([]*Descriptor, p.Size())
			for rank := range descs {
				var err error
				descs[rank], err = p.Descriptor(rank)
				require.NoError(t, err)
			}
			for rank, desc := range descs {
				for _, s := range desc.Sends {
					var match *Transfer
					for i, r := range descs[s.Peer].Recvs {
						if r.Peer == rank && r.Direction == s.Direction {
							match = &descs[s.Peer].Recvs[i]
						}
					}
					if match == nil {
						t.Fatalf("rank %d sends %v to rank %d, which does not expect it", rank, s.Direction, s.Peer)
					}
					assert.Equal(t, match.Depths, s.Depths, "rank %d -> %d %v", rank, s.Peer, s.Direction)
					assert.Equal(t, match.Rotation, s.Rotation)
				}
				nrecv := 0
				for _, r := range desc.Recvs {
					nrecv += len(r.Cells)
				}
				d := desc.Domain
				assert.Equal(t, (d.Nx+2*d.Halo)*(d.Ny+2*d.Halo)-d.Nx*d.Ny, nrecv)
			}
		})
	}
}

func TestTransferLen(t *testing.T) {
	p := mustPartitioner(t, 9, 3, 3)
	desc, err := p.Descriptor(4) // the center of tile 0
	require.NoError(t, err)
	require.Len(t, desc.Recvs, NumDirections)
	for _, r := range desc.Recvs {
		corner := r.Direction >= DirSouthWest
		for w := 0; w <= 3; w++ {
			want := 3 * w
			if corner {
				want = w * w
			}
			assert.Equal(t, want, r.Len(w), "%v width %d", r.Direction, w)
		}
	}
}
