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

package cubedsphereutil

import (
	"fmt"

	"github.com/spatialmodel/cubedsphere"
)

// Diffusion returns an explicit five-point diffusion stencil with
// nondimensional diffusivity kappa (κΔt/Δx²), which is stable for
// kappa <= 0.25. It reads fields[0] and writes fields[1], each vertical
// level separately, and needs a halo of width 1.
//
// The stencil treats every cell as having the same area, so the sum of a
// field over the whole cube is conserved.
func Diffusion(kappa float64) cubedsphere.StencilFunc {
	return func(_ *cubedsphere.RankDomain, r cubedsphere.Region, fields []*cubedsphere.Field) error {
		if len(fields) != 2 {
			return fmt.Errorf("cubedsphereutil: diffusion needs 2 fields but got %d", len(fields))
		}
		in, out := fields[0], fields[1]
		for i := r.I0; i < r.I1; i++ {
			for j := r.J0; j < r.J1; j++ {
				c := in.Cell(i, j)
				w, e := in.Cell(i-1, j), in.Cell(i+1, j)
				s, n := in.Cell(i, j-1), in.Cell(i, j+1)
				o := out.Cell(i, j)
				for k := range o {
					o[k] = c[k] + kappa*((w[k]-c[k])+(e[k]-c[k])+(s[k]-c[k])+(n[k]-c[k]))
				}
			}
		}
		return nil
	}
}
