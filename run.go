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
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/cubedsphere/internal/hash"
)

// StencilFunc computes output values for the cells of region r of a rank
// domain from the given fields. It may read halo cells up to the stencil's
// width outside of r, and it must only write cells inside r.
type StencilFunc func(d *RankDomain, r Region, fields []*Field) error

// AddField returns a function that allocates a zeroed field with the given
// extra axes.
func AddField(name string, extra ...int) DomainManipulator {
	return func(_ context.Context, s *Simulation) error {
		if _, ok := s.Fields[name]; ok {
			return fmt.Errorf("cubedsphere: rank %d already has a field %q", s.Domain.Rank, name)
		}
		s.Fields[name] = NewField(name, s.Domain, extra...)
		return nil
	}
}

// InitializeField returns a function that sets the interior of the named
// field from fn, which is given the domain, the local cell indices and the
// extra-axis position.
func InitializeField(name string, fn func(d *RankDomain, i, j int, k []int) float64) DomainManipulator {
	return func(_ context.Context, s *Simulation) error {
		f, err := s.Field(name)
		if err != nil {
			return err
		}
		f.FillInterior(func(i, j int, k []int) float64 { return fn(s.Domain, i, j, k) })
		return nil
	}
}

// ExchangeHalos returns a function that runs a blocking halo exchange of
// the given width on the named fields.
func ExchangeHalos(width int, names ...string) DomainManipulator {
	return func(ctx context.Context, s *Simulation) error {
		fields, err := s.fields(names)
		if err != nil {
			return err
		}
		return s.Exchanger.Exchange(ctx, width, fields...)
	}
}

// Calculations returns a function that runs stencil over the interior of
// the domain. The fields passed to the stencil are the named ones, in
// order.
func Calculations(stencil StencilFunc, names ...string) DomainManipulator {
	return func(_ context.Context, s *Simulation) error {
		fields, err := s.fields(names)
		if err != nil {
			return err
		}
		return stencil(s.Domain, s.Domain.Interior(), fields)
	}
}

// OverlappedCalculations returns a function that exchanges the halos of
// the exchange fields while computing the part of the domain that does not
// depend on them. The stencil is first run on the cells at least width
// cells from the domain edge, then, once the exchange has finished, on the
// remaining ring of cells.
func OverlappedCalculations(width int, exchange []string, stencil StencilFunc, names ...string) DomainManipulator {
	return func(ctx context.Context, s *Simulation) error {
		xfields, err := s.fields(exchange)
		if err != nil {
			return err
		}
		fields, err := s.fields(names)
		if err != nil {
			return err
		}
		h, err := s.Exchanger.Start(ctx, width, xfields...)
		if err != nil {
			return err
		}
		interior := s.Domain.Interior()
		if inner := interior.Shrink(width); !inner.Empty() {
			if err := stencil(s.Domain, inner, fields); err != nil {
				// The round must still be completed before returning.
				if ferr := s.Exchanger.Finish(ctx, h); ferr != nil {
					return ferr
				}
				return err
			}
		}
		if err := s.Exchanger.Finish(ctx, h); err != nil {
			return err
		}
		for _, r := range interior.Ring(width) {
			if err := stencil(s.Domain, r, fields); err != nil {
				return err
			}
		}
		return nil
	}
}

// Swap returns a function that exchanges the storage of two fields, for
// stencils that read one field and write another.
func Swap(a, b string) DomainManipulator {
	return func(_ context.Context, s *Simulation) error {
		fa, err := s.Field(a)
		if err != nil {
			return err
		}
		fb, err := s.Field(b)
		if err != nil {
			return err
		}
		if fa.InFlight() || fb.InFlight() {
			return fmt.Errorf("%w: swapping fields %q and %q during an exchange", ErrMisuse, a, b)
		}
		if err := fb.conforms(s.Domain, fa); err != nil {
			return err
		}
		fa.Data, fb.Data = fb.Data, fa.Data
		return nil
	}
}

// NumStepsCheck returns a function that sets the Done flag once
// numSteps steps have been run.
func NumStepsCheck(numSteps int) DomainManipulator {
	return func(_ context.Context, s *Simulation) error {
		if s.Step+1 >= numSteps {
			s.Done = true
		}
		return nil
	}
}

// Log returns a function that writes step status messages to log.
func Log(log logrus.FieldLogger) DomainManipulator {
	startTime := time.Now()
	stepTime := time.Now()
	return func(_ context.Context, s *Simulation) error {
		log.WithFields(logrus.Fields{
			"rank":      s.Domain.Rank,
			"step":      s.Step + 1,
			"walltime":  time.Since(startTime).Round(time.Millisecond),
			"Δwalltime": time.Since(stepTime).Round(time.Microsecond),
		}).Info("step")
		stepTime = time.Now()
		return nil
	}
}

// Checksum returns a function that logs a hash of the full contents,
// halo included, of each named field. Identical hashes across runs show
// that the results are reproducible.
func Checksum(log logrus.FieldLogger, names ...string) DomainManipulator {
	return func(_ context.Context, s *Simulation) error {
		fields, err := s.fields(names)
		if err != nil {
			return err
		}
		for _, f := range fields {
			log.WithFields(logrus.Fields{
				"rank":  s.Domain.Rank,
				"step":  s.Step + 1,
				"field": f.Name,
				"hash":  hash.Floats(f.Data.Elements),
			}).Info("checksum")
		}
		return nil
	}
}
