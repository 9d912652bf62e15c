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

package hash

import (
	"math"
	"testing"
)

func TestFloats(t *testing.T) {
	a := []float64{1, 2, math.NaN()}
	if Floats(a) != Floats([]float64{1, 2, math.NaN()}) {
		t.Error("equal arrays hash differently")
	}
	if Floats([]float64{0}) == Floats([]float64{math.Copysign(0, -1)}) {
		t.Error("0 and -0 hash equally")
	}
	if Floats(a) == Floats(a[:2]) {
		t.Error("prefix hashes equally")
	}
}

func TestHash(t *testing.T) {
	type cfg struct {
		N, R int
		Opts map[string]string
	}
	a := &cfg{N: 8, R: 2, Opts: map[string]string{"x": "1", "y": "2"}}
	b := &cfg{N: 8, R: 2, Opts: map[string]string{"y": "2", "x": "1"}}
	if Hash(a) != Hash(b) {
		t.Error("equal values hash differently")
	}
	b.R = 3
	if Hash(a) == Hash(b) {
		t.Error("different values hash equally")
	}
}
