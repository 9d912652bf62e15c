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

package eta

import (
	"fmt"
	"os"

	"github.com/ctessum/cdf"
)

// WriteNetCDF writes the coefficients to w along with the interface and
// layer pressures at surface pressure ps. The file can be read back with
// Load.
func (c *Coefficients) WriteNetCDF(w *os.File, ps float64) error {
	h := cdf.NewHeader([]string{"interface", "layer"}, []int{len(c.A), c.Levels()})
	h.AddAttribute("", "comment", "hybrid sigma-pressure vertical coordinate")
	h.AddAttribute("", "reference_pressure", []float64{c.RefPressure})
	h.AddAttribute("", "surface_pressure", []float64{ps})
	h.AddAttribute("", "ks", []int32{int32(c.KS())})

	vars := []struct {
		name, dim, description, units string
		data                          []float64
	}{
		{"ak", "interface", "pressure coefficient", "Pa", c.A},
		{"bk", "interface", "sigma coefficient", "1", c.B},
		{"pressure", "interface", "interface pressure at surface_pressure", "Pa", c.Pressure(ps)},
		{"mid_pressure", "layer", "mean layer pressure at surface_pressure", "Pa", c.MidPressure(ps)},
	}
	for _, v := range vars {
		h.AddVariable(v.name, []string{v.dim}, []float64{0})
		h.AddAttribute(v.name, "description", v.description)
		h.AddAttribute(v.name, "units", v.units)
	}
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("eta: creating netcdf file: %v", err)
	}
	for _, v := range vars {
		wr := f.Writer(v.name, []int{0}, []int{len(v.data)})
		if _, err := wr.Write(v.data); err != nil {
			return fmt.Errorf("eta: writing variable %s to netcdf file: %v", v.name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}
