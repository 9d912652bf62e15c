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

import "fmt"

// NumTiles is the number of tiles that make up the cube sphere.
const NumTiles = 6

// Edge identifies one side of a tile. Edges are numbered
// counterclockwise starting from the west edge; this numbering is
// the canonical one used to break ties at cube vertices.
type Edge int

// The four edges of a tile.
const (
	West Edge = iota
	South
	East
	North
)

// Edges lists all edges in canonical order.
var Edges = [4]Edge{West, South, East, North}

func (e Edge) String() string {
	switch e {
	case West:
		return "west"
	case South:
		return "south"
	case East:
		return "east"
	case North:
		return "north"
	default:
		return fmt.Sprintf("Edge(%d)", int(e))
	}
}

// Opposite returns the edge across the tile from e.
func (e Edge) Opposite() Edge { return (e + 2) % 4 }

// Rotation is a number of counterclockwise quarter turns that maps the
// axes of a sending tile onto the axes of the receiving tile.
type Rotation int

// Degrees returns the rotation angle in degrees: 0, 90, 180 or 270.
func (r Rotation) Degrees() int { return int(r) * 90 }

// Inverse returns the rotation that undoes r.
func (r Rotation) Inverse() Rotation { return (4 - r) % 4 }

// Link describes what lies across one tile edge.
type Link struct {
	Tile     int      // neighbor tile
	Edge     Edge     // edge of the neighbor tile that faces back
	Rotation Rotation // from the neighbor's axes to ours
}

// Topology is the static adjacency of the six cube-sphere tiles. It is a
// plain lookup table indexed by tile and edge.
type Topology struct {
	links [NumTiles][4]Link
}

// linkRotation returns the rotation for data that crosses our edge e coming
// from the neighbor's edge ne: the neighbor's outward normal at ne must map
// onto our inward normal at e.
func linkRotation(e, ne Edge) Rotation {
	return Rotation((int(e) + 2 - int(ne) + 8) % 4)
}

// NewTopology creates a topology from a table of [tile][edge] = (neighbor
// tile, neighbor edge) pairs. Rotations are derived from the edge pairs.
// The table must be reciprocal: if tile a's edge e faces tile b's edge f,
// then tile b's edge f must face tile a's edge e.
func NewTopology(table [NumTiles][4][2]int) (*Topology, error) {
	t := new(Topology)
	for tile := 0; tile < NumTiles; tile++ {
		for _, e := range Edges {
			nt, ne := table[tile][e][0], Edge(table[tile][e][1])
			if nt < 0 || nt >= NumTiles || ne < West || ne > North {
				return nil, fmt.Errorf("%w: topology: tile %d %v edge links to invalid tile %d edge %d",
					ErrConfig, tile, e, nt, ne)
			}
			if nt == tile {
				return nil, fmt.Errorf("%w: topology: tile %d %v edge links to itself", ErrConfig, tile, e)
			}
			t.links[tile][e] = Link{Tile: nt, Edge: ne, Rotation: linkRotation(e, ne)}
		}
	}
	for tile := 0; tile < NumTiles; tile++ {
		for _, e := range Edges {
			l := t.links[tile][e]
			back := t.links[l.Tile][l.Edge]
			if back.Tile != tile || back.Edge != e {
				return nil, fmt.Errorf("%w: topology: tile %d %v edge links to tile %d %v edge, "+
					"which links back to tile %d %v edge", ErrConfig, tile, e, l.Tile, l.Edge, back.Tile, back.Edge)
			}
		}
	}
	return t, nil
}

// CubeSphere returns the standard six-tile cube-sphere topology. Tiles
// 0, 1, 3 and 4 ring the equator, tile 2 covers the north pole and tile 5
// the south pole. Even tiles pass their east edge straight to the next tile
// and their north edge, rotated, to the tile after that; odd tiles do the
// opposite.
func CubeSphere() *Topology {
	var table [NumTiles][4][2]int
	for tile := 0; tile < NumTiles; tile++ {
		if tile%2 == 0 {
			table[tile][West] = [2]int{(tile + 4) % NumTiles, int(North)}
			table[tile][South] = [2]int{(tile + 5) % NumTiles, int(North)}
			table[tile][East] = [2]int{(tile + 1) % NumTiles, int(West)}
			table[tile][North] = [2]int{(tile + 2) % NumTiles, int(West)}
		} else {
			table[tile][West] = [2]int{(tile + 5) % NumTiles, int(East)}
			table[tile][South] = [2]int{(tile + 4) % NumTiles, int(East)}
			table[tile][East] = [2]int{(tile + 2) % NumTiles, int(South)}
			table[tile][North] = [2]int{(tile + 1) % NumTiles, int(South)}
		}
	}
	t, err := NewTopology(table)
	if err != nil {
		panic(err) // The table above is fixed.
	}
	return t
}

// NeighborOf returns what lies across the given edge of the given tile.
func (t *Topology) NeighborOf(tile int, e Edge) Link {
	return t.links[tile][e]
}

// VertexOwner returns which of the two edges meeting at a tile corner
// supplies the corner halo values when the corner is a cube vertex. xe must
// be West or East and ye must be South or North. Of the two neighbor tiles
// across those edges, the one whose (tile, facing edge) pair sorts first
// owns the corner.
func (t *Topology) VertexOwner(tile int, xe, ye Edge) Edge {
	a, b := t.links[tile][xe], t.links[tile][ye]
	if a.Tile < b.Tile || (a.Tile == b.Tile && a.Edge < b.Edge) {
		return xe
	}
	return ye
}

// alongCCW converts the position s along edge e, measured in the tile's own
// i or j direction, into a position measured counterclockwise around the
// tile boundary.
func alongCCW(e Edge, s, n int) int {
	if e == West || e == North {
		return n - 1 - s
	}
	return s
}

// cross maps a ghost cell at depth d beyond edge e of a tile with extent n,
// at position s along that edge, onto the interior cell of the neighbor
// tile. Adjacent tiles traverse a shared edge in opposite counterclockwise
// directions.
func (t *Topology) cross(tile int, e Edge, d, s, n int) (int, int, int, Rotation) {
	l := t.links[tile][e]
	// alongCCW is its own inverse.
	s2 := alongCCW(l.Edge, n-1-alongCCW(e, s, n), n)
	var i, j int
	switch l.Edge {
	case West:
		i, j = d, s2
	case East:
		i, j = n-1-d, s2
	case South:
		i, j = s2, d
	case North:
		i, j = s2, n-1-d
	}
	return l.Tile, i, j, l.Rotation
}

// resolve finds the tile cell that a (possibly out-of-range) cell position
// (i, j) on the given tile of extent n refers to. Positions beyond one edge
// cross into the neighbor tile. Positions beyond two edges at once lie
// past a cube vertex and are folded across the edge chosen by VertexOwner.
// vertex reports whether that fold happened, in which case rot includes
// the fold's quarter turn.
func (t *Topology) resolve(tile, i, j, n int) (rt, ri, rj int, rot Rotation, vertex bool) {
	inI := i >= 0 && i < n
	inJ := j >= 0 && j < n
	switch {
	case inI && inJ:
		return tile, i, j, 0, false
	case inJ:
		if i < 0 {
			rt, ri, rj, rot = t.cross(tile, West, -1-i, j, n)
		} else {
			rt, ri, rj, rot = t.cross(tile, East, i-n, j, n)
		}
		return rt, ri, rj, rot, false
	case inI:
		if j < 0 {
			rt, ri, rj, rot = t.cross(tile, South, -1-j, i, n)
		} else {
			rt, ri, rj, rot = t.cross(tile, North, j-n, i, n)
		}
		return rt, ri, rj, rot, false
	}

	xe, di := East, i-n
	if i < 0 {
		xe, di = West, -1-i
	}
	ye, dj := North, j-n
	if j < 0 {
		ye, dj = South, -1-j
	}
	// The fold turns the corner a quarter about the vertex. Vectors turn
	// with it, on top of the owner edge's rotation.
	turn := 1
	if (xe == West) != (ye == South) {
		turn = -1
	}
	var si, sj int
	if t.VertexOwner(tile, xe, ye) == xe {
		si, sj = ghost(xe, dj, n), inward(ye, di, n)
	} else {
		si, sj = inward(xe, dj, n), ghost(ye, di, n)
		turn = -turn
	}
	rt, ri, rj, rot, _ = t.resolve(tile, si, sj, n)
	return rt, ri, rj, (rot + Rotation(turn+4)) % 4, true
}

// ghost returns the coordinate of the ghost cell at depth d beyond edge e.
func ghost(e Edge, d, n int) int {
	if e == West || e == South {
		return -1 - d
	}
	return n + d
}

// inward returns the coordinate k cells in from edge e.
func inward(e Edge, k, n int) int {
	if e == West || e == South {
		return k
	}
	return n - 1 - k
}
