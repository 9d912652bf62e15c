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

// BufferLen returns the number of values Pack produces for the given
// fields and halo width.
func (t *Transfer) BufferLen(width int, fields ...*Field) int {
	n := t.Len(width)
	total := 0
	for _, f := range fields {
		total += n * f.stride
	}
	return total
}

// Pack appends the transfer's cells of each field to buf, field by field,
// and returns the extended buffer. Only cells with a halo depth less than
// width are included. A transfer with no such cells appends nothing.
func (t *Transfer) Pack(buf []float64, width int, fields ...*Field) []float64 {
	for _, f := range fields {
		for k, c := range t.Cells {
			if t.Depths[k] >= width {
				continue
			}
			buf = append(buf, f.Data.Elements[c*f.stride:(c+1)*f.stride]...)
		}
	}
	return buf
}

// Unpack copies buf, as produced by Pack on the sending rank, into the
// transfer's halo cells of each field. It returns an error if buf does not
// have exactly the expected length.
func (t *Transfer) Unpack(buf []float64, width int, fields ...*Field) error {
	if want := t.BufferLen(width, fields...); len(buf) != want {
		return fmt.Errorf("%w: unpack %v from rank %d: buffer has %d values but %d are needed",
			ErrTransport, t.Direction, t.Peer, len(buf), want)
	}
	pos := 0
	for _, f := range fields {
		for k, c := range t.Cells {
			if t.Depths[k] >= width {
				continue
			}
			pos += copy(f.Data.Elements[c*f.stride:(c+1)*f.stride], buf[pos:pos+f.stride])
		}
	}
	return nil
}

// UnpackVector is like Unpack for the two components of a vector field,
// packed as (u, v). The components are rotated from the sender's axes onto
// the receiver's. Rotations only swap and negate components, so the result
// is exact.
func (t *Transfer) UnpackVector(buf []float64, width int, u, v *Field) error {
	if err := t.Unpack(buf, width, u, v); err != nil {
		return err
	}
	if t.Rotation == 0 {
		return nil
	}
	for k, c := range t.Cells {
		if t.Depths[k] >= width {
			continue
		}
		us := u.Data.Elements[c*u.stride : (c+1)*u.stride]
		vs := v.Data.Elements[c*v.stride : (c+1)*v.stride]
		for n := range us {
			us[n], vs[n] = rotateVector(t.Rotation, us[n], vs[n])
		}
	}
	return nil
}

// rotateVector turns the vector (u, v) counterclockwise by r quarter turns.
func rotateVector(r Rotation, u, v float64) (float64, float64) {
	switch r % 4 {
	case 1:
		return -v, u
	case 2:
		return -u, -v
	case 3:
		return v, -u
	}
	return u, v
}
