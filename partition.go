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
	"fmt"
	"sort"
)

// Direction identifies one of the eight halo regions surrounding a rank
// domain. The edge directions share their numbering with Edge.
type Direction int

// Halo directions. Corners are numbered counterclockwise from the
// south-west.
const (
	DirWest Direction = iota
	DirSouth
	DirEast
	DirNorth
	DirSouthWest
	DirSouthEast
	DirNorthEast
	DirNorthWest
)

// NumDirections is the number of halo regions around a rank domain.
const NumDirections = 8

var directionNames = [NumDirections]string{"west", "south", "east", "north",
	"south-west", "south-east", "north-east", "north-west"}

func (d Direction) String() string {
	if d < 0 || d >= NumDirections {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Region is a half-open rectangle [I0, I1) × [J0, J1) of cells in a rank's
// local coordinates, where (0, 0) is the first interior cell.
type Region struct {
	I0, I1, J0, J1 int
}

// Empty returns whether the region contains no cells.
func (r Region) Empty() bool { return r.I1 <= r.I0 || r.J1 <= r.J0 }

// Size returns the number of cells in the region.
func (r Region) Size() int {
	if r.Empty() {
		return 0
	}
	return (r.I1 - r.I0) * (r.J1 - r.J0)
}

// Neighbor is a rank adjacent to one edge of a rank domain.
type Neighbor struct {
	Rank int
	Tile int

	// Edge is the edge of the neighbor's domain that faces this one.
	Edge Edge

	// Rotation maps the neighbor's axes onto this domain's axes.
	Rotation Rotation
}

// CornerNeighbor is the rank that supplies one corner of a rank domain's
// halo.
type CornerNeighbor struct {
	Rank     int
	Tile     int
	Rotation Rotation

	// Vertex is true when the corner is one of the eight cube vertices,
	// where only three tiles meet and the corner is folded onto one of
	// the two edge-neighbor tiles.
	Vertex bool
}

// RankDomain is the part of a tile owned by one rank.
type RankDomain struct {
	Rank   int
	Tile   int
	I0, J0 int // offset of the first interior cell within the tile
	Nx, Ny int // interior extents
	Halo   int

	Edges   [4]Neighbor       // indexed by Edge
	Corners [4]CornerNeighbor // south-west, south-east, north-east, north-west
}

// Interior returns the region of cells owned by the domain.
func (d *RankDomain) Interior() Region {
	return Region{I0: 0, I1: d.Nx, J0: 0, J1: d.Ny}
}

// HaloRegion returns the halo cells in the given direction for a halo of
// the given width.
func (d *RankDomain) HaloRegion(dir Direction, width int) Region {
	nx, ny, h := d.Nx, d.Ny, width
	switch dir {
	case DirWest:
		return Region{-h, 0, 0, ny}
	case DirSouth:
		return Region{0, nx, -h, 0}
	case DirEast:
		return Region{nx, nx + h, 0, ny}
	case DirNorth:
		return Region{0, nx, ny, ny + h}
	case DirSouthWest:
		return Region{-h, 0, -h, 0}
	case DirSouthEast:
		return Region{nx, nx + h, -h, 0}
	case DirNorthEast:
		return Region{nx, nx + h, ny, ny + h}
	case DirNorthWest:
		return Region{-h, 0, ny, ny + h}
	}
	panic(fmt.Errorf("cubedsphere: invalid direction %d", dir))
}

// depth returns how far the halo cell (i, j) lies outside the interior.
// Corner cells take the larger of the two distances.
func (d *RankDomain) depth(i, j int) int {
	di, dj := 0, 0
	if i < 0 {
		di = -i
	} else if i >= d.Nx {
		di = i - d.Nx + 1
	}
	if j < 0 {
		dj = -j
	} else if j >= d.Ny {
		dj = j - d.Ny + 1
	}
	if di > dj {
		return di - 1
	}
	return dj - 1
}

// Cell returns the horizontal offset of local cell (i, j) in the
// halo-padded layout used by Field.
func (d *RankDomain) Cell(i, j int) int {
	return (i+d.Halo)*(d.Ny+2*d.Halo) + j + d.Halo
}

// Partitioner splits each of the six tiles into R×R rank domains of equal
// size. It is a pure function of its configuration, so every rank builds an
// identical copy without communicating.
type Partitioner struct {
	topo         *Topology
	tileExtent   int // cells along each tile edge
	ranksPerEdge int
	halo         int
	sub          int // cells along each rank domain edge
}

// NewPartitioner validates the decomposition of tiles with tileExtent cells
// per edge into ranksPerEdge×ranksPerEdge domains per tile, each with the
// given halo width, run on commSize ranks.
func NewPartitioner(topo *Topology, tileExtent, ranksPerEdge, halo, commSize int) (*Partitioner, error) {
	if topo == nil {
		return nil, fmt.Errorf("%w: partition: nil topology", ErrConfig)
	}
	if ranksPerEdge < 1 {
		return nil, fmt.Errorf("%w: partition: ranks per tile edge=%d but should be >= 1", ErrConfig, ranksPerEdge)
	}
	if halo < 0 {
		return nil, fmt.Errorf("%w: partition: halo width=%d but should be >= 0", ErrConfig, halo)
	}
	if tileExtent < 1 {
		return nil, fmt.Errorf("%w: partition: tile extent=%d but should be >= 1", ErrConfig, tileExtent)
	}
	if tileExtent%ranksPerEdge != 0 {
		return nil, fmt.Errorf("%w: partition: tile extent %d is not divisible by %d ranks per tile edge",
			ErrConfig, tileExtent, ranksPerEdge)
	}
	if want := NumTiles * ranksPerEdge * ranksPerEdge; commSize != want {
		return nil, fmt.Errorf("%w: partition: %d ranks per tile edge require %d ranks but the communicator has %d",
			ErrConfig, ranksPerEdge, want, commSize)
	}
	sub := tileExtent / ranksPerEdge
	if halo > sub {
		return nil, fmt.Errorf("%w: partition: halo width %d is larger than the rank domain extent %d",
			ErrConfig, halo, sub)
	}
	return &Partitioner{
		topo:         topo,
		tileExtent:   tileExtent,
		ranksPerEdge: ranksPerEdge,
		halo:         halo,
		sub:          sub,
	}, nil
}

// Size returns the number of ranks in the decomposition.
func (p *Partitioner) Size() int { return NumTiles * p.ranksPerEdge * p.ranksPerEdge }

// Halo returns the halo width.
func (p *Partitioner) Halo() int { return p.halo }

// TileExtent returns the number of cells along each tile edge.
func (p *Partitioner) TileExtent() int { return p.tileExtent }

// RanksPerEdge returns the number of ranks along each tile edge.
func (p *Partitioner) RanksPerEdge() int { return p.ranksPerEdge }

// Topology returns the tile adjacency the partitioner was built with.
func (p *Partitioner) Topology() *Topology { return p.topo }

func (p *Partitioner) checkRank(rank int) error {
	if rank < 0 || rank >= p.Size() {
		return fmt.Errorf("%w: partition: rank %d is outside of [0, %d)", ErrConfig, rank, p.Size())
	}
	return nil
}

// owner returns the rank that owns tile cell (i, j) and the cell's
// position within that rank's domain.
func (p *Partitioner) owner(tile, i, j int) (rank, li, lj int) {
	I, J := i/p.sub, j/p.sub
	rank = tile*p.ranksPerEdge*p.ranksPerEdge + J*p.ranksPerEdge + I
	return rank, i - I*p.sub, j - J*p.sub
}

// source finds the rank and local cell that supply the value of local cell
// (i, j) of the given domain.
func (p *Partitioner) source(d *RankDomain, i, j int) (rank, li, lj int, rot Rotation, vertex bool) {
	t, ti, tj, rot, vertex := p.topo.resolve(d.Tile, d.I0+i, d.J0+j, p.tileExtent)
	rank, li, lj = p.owner(t, ti, tj)
	return rank, li, lj, rot, vertex
}

// Domain returns the domain owned by the given rank.
func (p *Partitioner) Domain(rank int) (*RankDomain, error) {
	if err := p.checkRank(rank); err != nil {
		return nil, err
	}
	perTile := p.ranksPerEdge * p.ranksPerEdge
	d := &RankDomain{
		Rank: rank,
		Tile: rank / perTile,
		I0:   (rank % perTile % p.ranksPerEdge) * p.sub,
		J0:   (rank % perTile / p.ranksPerEdge) * p.sub,
		Nx:   p.sub,
		Ny:   p.sub,
		Halo: p.halo,
	}
	mid := p.sub / 2
	for _, e := range Edges {
		var i, j int
		atTileEdge := false
		switch e {
		case West:
			i, j, atTileEdge = -1, mid, d.I0 == 0
		case South:
			i, j, atTileEdge = mid, -1, d.J0 == 0
		case East:
			i, j, atTileEdge = d.Nx, mid, d.I0+d.Nx == p.tileExtent
		case North:
			i, j, atTileEdge = mid, d.Ny, d.J0+d.Ny == p.tileExtent
		}
		r, _, _, rot, _ := p.source(d, i, j)
		n := Neighbor{Rank: r, Tile: r / perTile, Edge: e.Opposite(), Rotation: rot}
		if atTileEdge {
			n.Edge = p.topo.NeighborOf(d.Tile, e).Edge
		}
		d.Edges[e] = n
	}
	for c, ij := range [4][2]int{{-1, -1}, {d.Nx, -1}, {d.Nx, d.Ny}, {-1, d.Ny}} {
		r, _, _, rot, vertex := p.source(d, ij[0], ij[1])
		d.Corners[c] = CornerNeighbor{Rank: r, Tile: r / perTile, Rotation: rot, Vertex: vertex}
	}
	return d, nil
}

// Transfer is one message of an exchange round: the cells one rank sends
// to fill one halo direction of another rank. The receiving rank places
// the values into Cells in order; the sending rank reads them from its own
// Cells in the same order, which is how rotations across tile edges are
// carried out.
type Transfer struct {
	// Peer is the destination rank for a send and the source rank for
	// a receive.
	Peer int

	// Direction is the halo direction being filled at the receiving rank.
	// It doubles as the message tag.
	Direction Direction

	// Rotation maps the sender's axes onto the receiver's axes.
	Rotation Rotation

	Cells  []int // horizontal cell offsets in the halo-padded layout
	Depths []int // halo depth of each cell at the receiver
}

// Len returns the number of cells that take part in an exchange of the
// given width.
func (t *Transfer) Len(width int) int {
	n := 0
	for _, d := range t.Depths {
		if d < width {
			n++
		}
	}
	return n
}

// Descriptor holds everything a rank needs to carry out a halo exchange.
// It is built once and never modified.
type Descriptor struct {
	Domain *RankDomain
	Recvs  []Transfer // in direction order
	Sends  []Transfer // in (peer, direction) order
}

// receives computes the transfers that fill the halo of domain d.
func (p *Partitioner) receives(d *RankDomain) []Transfer {
	var out []Transfer
	for dir := Direction(0); dir < NumDirections; dir++ {
		r := d.HaloRegion(dir, d.Halo)
		first := len(out)
		for i := r.I0; i < r.I1; i++ {
			for j := r.J0; j < r.J1; j++ {
				src, _, _, rot, _ := p.source(d, i, j)
				var t *Transfer
				for k := first; k < len(out); k++ {
					if out[k].Peer == src {
						t = &out[k]
						break
					}
				}
				if t == nil {
					out = append(out, Transfer{Peer: src, Direction: dir, Rotation: rot})
					t = &out[len(out)-1]
				}
				t.Cells = append(t.Cells, d.Cell(i, j))
				t.Depths = append(t.Depths, d.depth(i, j))
			}
		}
	}
	return out
}

// sends computes the transfers from domain d to fill the halos of its
// neighbors, by looking at which cells each neighbor expects from d.
func (p *Partitioner) sends(d *RankDomain) ([]Transfer, error) {
	peers := make(map[int]struct{})
	for _, n := range d.Edges {
		peers[n.Rank] = struct{}{}
	}
	for _, n := range d.Corners {
		peers[n.Rank] = struct{}{}
	}
	delete(peers, d.Rank)
	var out []Transfer
	for peer := range peers {
		pd, err := p.Domain(peer)
		if err != nil {
			return nil, err
		}
		for dir := Direction(0); dir < NumDirections; dir++ {
			r := pd.HaloRegion(dir, pd.Halo)
			t := Transfer{Peer: peer, Direction: dir}
			for i := r.I0; i < r.I1; i++ {
				for j := r.J0; j < r.J1; j++ {
					src, li, lj, rot, _ := p.source(pd, i, j)
					if src != d.Rank {
						continue
					}
					t.Rotation = rot
					t.Cells = append(t.Cells, d.Cell(li, lj))
					t.Depths = append(t.Depths, pd.depth(i, j))
				}
			}
			if len(t.Cells) > 0 {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Direction < out[j].Direction
	})
	return out, nil
}

// Descriptor builds the exchange descriptor for the given rank.
func (p *Partitioner) Descriptor(rank int) (*Descriptor, error) {
	d, err := p.Domain(rank)
	if err != nil {
		return nil, err
	}
	sends, err := p.sends(d)
	if err != nil {
		return nil, err
	}
	desc := &Descriptor{Domain: d, Recvs: p.receives(d), Sends: sends}
	if err := desc.Verify(); err != nil {
		return nil, err
	}
	return desc, nil
}

// Verify checks that every received cell lies in the halo and is filled
// exactly once, that every sent cell lies in the interior, and that no
// rank exchanges with itself.
func (desc *Descriptor) Verify() error {
	d := desc.Domain
	interior := d.Interior()
	filled := make(map[int]bool)
	check := func(kind string, ts []Transfer, wantInterior bool) error {
		for _, t := range ts {
			if t.Peer == d.Rank {
				return fmt.Errorf("%w: descriptor: rank %d %s to itself (%v)", ErrConfig, d.Rank, kind, t.Direction)
			}
			if len(t.Cells) != len(t.Depths) {
				return fmt.Errorf("%w: descriptor: rank %d %s %v has %d cells but %d depths",
					ErrConfig, d.Rank, kind, t.Direction, len(t.Cells), len(t.Depths))
			}
			for k, c := range t.Cells {
				i, j := c/(d.Ny+2*d.Halo)-d.Halo, c%(d.Ny+2*d.Halo)-d.Halo
				in := i >= interior.I0 && i < interior.I1 && j >= interior.J0 && j < interior.J1
				if in != wantInterior || t.Depths[k] < 0 || t.Depths[k] >= d.Halo {
					return fmt.Errorf("%w: descriptor: rank %d %s %v: cell (%d, %d) at depth %d is out of place",
						ErrConfig, d.Rank, kind, t.Direction, i, j, t.Depths[k])
				}
				if !wantInterior {
					if filled[c] {
						return fmt.Errorf("%w: descriptor: rank %d halo cell (%d, %d) is filled twice",
							ErrConfig, d.Rank, i, j)
					}
					filled[c] = true
				}
			}
		}
		return nil
	}
	if err := check("sends", desc.Sends, true); err != nil {
		return err
	}
	if err := check("receives", desc.Recvs, false); err != nil {
		return err
	}
	if want := (d.Nx+2*d.Halo)*(d.Ny+2*d.Halo) - d.Nx*d.Ny; len(filled) != want {
		return fmt.Errorf("%w: descriptor: rank %d fills %d of %d halo cells", ErrConfig, d.Rank, len(filled), want)
	}
	return nil
}
