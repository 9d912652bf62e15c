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

	"github.com/ctessum/sparse"
)

// Field is an array over a rank domain plus its halo. The first two axes
// are horizontal (i, j); any further axes (vertical level, tracer, ...)
// follow, so all values belonging to one horizontal cell are contiguous.
//
// The interior is always authoritative. The halo is stale until the next
// exchange that includes the field completes.
type Field struct {
	Name string
	Data *sparse.DenseArray // shape: [Nx+2·Halo, Ny+2·Halo, extra...]

	Nx, Ny, Halo int

	stride   int // values per horizontal cell
	inFlight bool
}

// NewField allocates a zeroed field over domain d with the given extra
// (non-horizontal) axis lengths.
func NewField(name string, d *RankDomain, extra ...int) *Field {
	shape := append([]int{d.Nx + 2*d.Halo, d.Ny + 2*d.Halo}, extra...)
	stride := 1
	for _, n := range extra {
		stride *= n
	}
	return &Field{
		Name:   name,
		Data:   sparse.ZerosDense(shape...),
		Nx:     d.Nx,
		Ny:     d.Ny,
		Halo:   d.Halo,
		stride: stride,
	}
}

// Stride returns the number of values stored for each horizontal cell.
func (f *Field) Stride() int { return f.stride }

// Extra returns the lengths of the non-horizontal axes.
func (f *Field) Extra() []int { return f.Data.Shape[2:] }

func (f *Field) index(i, j int, k []int) int {
	return f.Data.Index1d(append([]int{i + f.Halo, j + f.Halo}, k...)...)
}

// At returns the value at local cell (i, j), where (0, 0) is the first
// interior cell and negative indices reach into the halo, and at
// position k along the extra axes.
func (f *Field) At(i, j int, k ...int) float64 {
	return f.Data.Elements[f.index(i, j, k)]
}

// SetAt sets the value at local cell (i, j) and extra-axis position k.
func (f *Field) SetAt(v float64, i, j int, k ...int) {
	// DenseArray.Set ignores zeros, so write the element directly.
	f.Data.Elements[f.index(i, j, k)] = v
}

// Cell returns the values of all extra-axis positions at local cell (i, j).
// The returned slice aliases the field's storage.
func (f *Field) Cell(i, j int) []float64 {
	c := (i+f.Halo)*(f.Ny+2*f.Halo) + j + f.Halo
	return f.Data.Elements[c*f.stride : (c+1)*f.stride]
}

// FillInterior sets every interior value to fn(i, j, k).
func (f *Field) FillInterior(fn func(i, j int, k []int) float64) {
	extra := f.Extra()
	k := make([]int, len(extra))
	for i := 0; i < f.Nx; i++ {
		for j := 0; j < f.Ny; j++ {
			vals := f.Cell(i, j)
			for n := range vals {
				// Unravel n into extra-axis positions.
				r := n
				for a := len(extra) - 1; a >= 0; a-- {
					k[a] = r % extra[a]
					r /= extra[a]
				}
				vals[n] = fn(i, j, k)
			}
		}
	}
}

// InteriorSum returns the sum of all interior values.
func (f *Field) InteriorSum() float64 {
	var sum float64
	for i := 0; i < f.Nx; i++ {
		for j := 0; j < f.Ny; j++ {
			for _, v := range f.Cell(i, j) {
				sum += v
			}
		}
	}
	return sum
}

// InFlight reports whether the field is part of an exchange round that has
// been started but not finished.
func (f *Field) InFlight() bool { return f.inFlight }

// conforms checks that f was allocated for domain d and matches ref's extra
// axes, if ref is not nil.
func (f *Field) conforms(d *RankDomain, ref *Field) error {
	if f == nil {
		return fmt.Errorf("%w: nil field", ErrMisuse)
	}
	if f.Nx != d.Nx || f.Ny != d.Ny || f.Halo != d.Halo {
		return fmt.Errorf("%w: field %q has extents %dx%d with halo %d but rank %d domain is %dx%d with halo %d",
			ErrMisuse, f.Name, f.Nx, f.Ny, f.Halo, d.Rank, d.Nx, d.Ny, d.Halo)
	}
	if ref != nil && f.stride != ref.stride {
		return fmt.Errorf("%w: field %q has %d values per cell but field %q has %d",
			ErrMisuse, f.Name, f.stride, ref.Name, ref.stride)
	}
	return nil
}
