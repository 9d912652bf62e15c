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

// Package eta loads and validates the hybrid sigma-pressure vertical
// coordinate of a cube-sphere model. Interface k of a column has pressure
// p_k = a_k + b_k·ps, where ps is the surface pressure.
package eta

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrConfigMissing indicates that the coefficient file is not set or does
	// not exist.
	ErrConfigMissing = errors.New("eta: coefficient file missing")

	// ErrInvalidCoefficients indicates a malformed coefficient file or
	// coefficients that do not describe a valid vertical grid.
	ErrInvalidCoefficients = errors.New("eta: invalid coefficients")
)

// DefaultReferencePressure [Pa] is the surface pressure used to check the
// coefficients when no other is given.
const DefaultReferencePressure = 1.0e5

// Coefficients are the validated hybrid coefficients of a vertical grid.
type Coefficients struct {
	// A [Pa] and B [-] hold one value per layer interface, from the
	// first interface to the last.
	A, B []float64

	// RefPressure [Pa] is the surface pressure the coefficients were
	// validated against.
	RefPressure float64
}

type config struct {
	refPressure float64
	aName       string
	bName       string
}

// Option configures New and Load.
type Option func(*config)

// WithReferencePressure sets the surface pressure [Pa] at which derived
// interface pressures must be strictly increasing.
func WithReferencePressure(ps float64) Option {
	return func(c *config) { c.refPressure = ps }
}

// WithVariableNames sets the names under which Load looks for the a and b
// coefficients. The defaults are "ak" and "bk".
func WithVariableNames(a, b string) Option {
	return func(c *config) { c.aName, c.bName = a, b }
}

func newConfig(opts []Option) *config {
	c := &config{refPressure: DefaultReferencePressure, aName: "ak", bName: "bk"}
	for _, o := range opts {
		o(c)
	}
	return c
}

// New validates a and b as the coefficients of a grid with the given
// number of layers. The slices are copied.
func New(a, b []float64, levels int, opts ...Option) (*Coefficients, error) {
	return newCoefficients(a, b, levels, newConfig(opts))
}

func newCoefficients(a, b []float64, levels int, cfg *config) (*Coefficients, error) {
	if levels < 1 {
		return nil, fmt.Errorf("%w: %d levels", ErrInvalidCoefficients, levels)
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d a values but %d b values", ErrInvalidCoefficients, len(a), len(b))
	}
	if len(a) != levels+1 {
		return nil, fmt.Errorf("%w: %d levels need %d interfaces but there are %d",
			ErrInvalidCoefficients, levels, levels+1, len(a))
	}
	if !finite(a) || !finite(b) {
		return nil, fmt.Errorf("%w: coefficients must be finite", ErrInvalidCoefficients)
	}
	ps := cfg.refPressure
	if math.IsNaN(ps) || math.IsInf(ps, 0) || ps <= 0 {
		return nil, fmt.Errorf("%w: reference pressure %g", ErrInvalidCoefficients, ps)
	}
	c := &Coefficients{
		A:           append([]float64(nil), a...),
		B:           append([]float64(nil), b...),
		RefPressure: ps,
	}
	p := c.Pressure(ps)
	for k := 1; k < len(p); k++ {
		if !(p[k] > p[k-1]) {
			return nil, fmt.Errorf("%w: pressure at interface %d (%g Pa) is not greater than at interface %d (%g Pa)",
				ErrInvalidCoefficients, k, p[k], k-1, p[k-1])
		}
	}
	return c, nil
}

func finite(x []float64) bool {
	if floats.HasNaN(x) {
		return false
	}
	return !math.IsInf(floats.Max(x), 1) && !math.IsInf(floats.Min(x), -1)
}

// Levels returns the number of layers.
func (c *Coefficients) Levels() int { return len(c.A) - 1 }

// KS returns the number of pure-pressure layers at the start of the
// column, those whose bounding interfaces all have b = 0.
func (c *Coefficients) KS() int {
	if c.B[0] != 0 {
		return 0
	}
	ks := 0
	for ks < c.Levels() && c.B[ks+1] == 0 {
		ks++
	}
	return ks
}

// PTop returns the pressure [Pa] of the first interface when it does not
// depend on the surface pressure, which is the model top in the usual
// top-down ordering.
func (c *Coefficients) PTop() float64 { return c.A[0] }

// Pressure returns the interface pressures [Pa] for surface pressure ps.
func (c *Coefficients) Pressure(ps float64) []float64 {
	return floats.AddScaledTo(make([]float64, len(c.A)), c.A, ps, c.B)
}

// MidPressure returns the mean pressure [Pa] of each layer for surface
// pressure ps.
func (c *Coefficients) MidPressure(ps float64) []float64 {
	p := c.Pressure(ps)
	mid := make([]float64, len(p)-1)
	for k := range mid {
		mid[k] = (p[k] + p[k+1]) / 2
	}
	return mid
}

// Eta returns the interface pressures at the reference pressure divided by
// the reference pressure.
func (c *Coefficients) Eta() []float64 {
	e := c.Pressure(c.RefPressure)
	floats.Scale(1/c.RefPressure, e)
	return e
}
