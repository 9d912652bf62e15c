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
	"fmt"
	"sort"
)

// DomainManipulator is a function that operates on the state of one rank.
type DomainManipulator func(ctx context.Context, s *Simulation) error

// Simulation holds the state of one rank of a model run.
type Simulation struct {
	Domain    *RankDomain
	Exchanger *Exchanger

	// Fields holds the rank's fields by name.
	Fields map[string]*Field

	// Step is the number of completed time steps.
	Step int

	// Done is set by a RunFunc to end the run.
	Done bool

	// InitFuncs are run once by Init.
	InitFuncs []DomainManipulator

	// RunFuncs are run in order once per time step until Done is set.
	RunFuncs []DomainManipulator

	// CleanupFuncs are run once by Cleanup.
	CleanupFuncs []DomainManipulator
}

// NewSimulation returns a simulation for the rank served by ex.
func NewSimulation(ex *Exchanger) *Simulation {
	return &Simulation{
		Domain:    ex.Descriptor().Domain,
		Exchanger: ex,
		Fields:    make(map[string]*Field),
	}
}

// Init runs the InitFuncs.
func (s *Simulation) Init(ctx context.Context) error {
	for _, f := range s.InitFuncs {
		if err := f(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Run runs the RunFuncs until one of them sets Done or ctx is canceled.
func (s *Simulation) Run(ctx context.Context) error {
	if len(s.RunFuncs) == 0 {
		return fmt.Errorf("cubedsphere: simulation has no RunFuncs")
	}
	for !s.Done {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cubedsphere: rank %d: step %d: %w", s.Domain.Rank, s.Step, err)
		}
		for _, f := range s.RunFuncs {
			if err := f(ctx, s); err != nil {
				return err
			}
		}
		s.Step++
	}
	return nil
}

// Cleanup runs the CleanupFuncs.
func (s *Simulation) Cleanup(ctx context.Context) error {
	for _, f := range s.CleanupFuncs {
		if err := f(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Field returns the field with the given name.
func (s *Simulation) Field(name string) (*Field, error) {
	f, ok := s.Fields[name]
	if !ok {
		return nil, fmt.Errorf("cubedsphere: rank %d has no field %q", s.Domain.Rank, name)
	}
	return f, nil
}

func (s *Simulation) fields(names []string) ([]*Field, error) {
	out := make([]*Field, len(names))
	for i, n := range names {
		f, err := s.Field(n)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// FieldNames returns the names of all fields in sorted order.
func (s *Simulation) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for n := range s.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Shrink returns r with width cells removed from each side.
func (r Region) Shrink(width int) Region {
	return Region{I0: r.I0 + width, I1: r.I1 - width, J0: r.J0 + width, J1: r.J1 - width}
}

// Ring returns the cells of r that are not in r.Shrink(width), as
// non-overlapping strips. If nothing is left after shrinking, the ring is
// r itself.
func (r Region) Ring(width int) []Region {
	if width <= 0 {
		return nil
	}
	in := r.Shrink(width)
	if in.Empty() {
		return []Region{r}
	}
	return []Region{
		{I0: r.I0, I1: in.I0, J0: r.J0, J1: r.J1},   // west
		{I0: in.I1, I1: r.I1, J0: r.J0, J1: r.J1},   // east
		{I0: in.I0, I1: in.I1, J0: r.J0, J1: in.J0}, // south
		{I0: in.I0, I1: in.I1, J0: in.J1, J1: r.J1}, // north
	}
}
