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
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/cubedsphere"
	"github.com/spatialmodel/cubedsphere/cluster"
	"github.com/spatialmodel/cubedsphere/eta"
	"github.com/spatialmodel/cubedsphere/internal/hash"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

const (
	tracer     = "tracer"
	tracerNext = "tracer_next"
)

// RankResult summarizes the run of one rank.
type RankResult struct {
	Rank int

	// InitialMass and FinalMass are the pressure-weighted sums of the
	// tracer over the rank's interior cells before the first step and
	// after the last.
	InitialMass, FinalMass float64

	// Checksum is a hash of the final tracer field, halo included.
	Checksum string
}

// Result holds the results of every rank of a run, in rank order.
type Result []RankResult

// Mass returns the total tracer mass before and after the run.
func (r Result) Mass() (initial, final float64) {
	in, out := make([]float64, len(r)), make([]float64, len(r))
	for i, rr := range r {
		in[i], out[i] = rr.InitialMass, rr.FinalMass
	}
	return floats.Sum(in), floats.Sum(out)
}

// NewSimulation returns a tracer diffusion simulation for the rank served
// by ex. The tracer starts as a blob in the middle of tile 0, scaled in
// each layer by the layer's mean pressure.
func NewSimulation(ex *cubedsphere.Exchanger, c *RunConfig, coef *eta.Coefficients, log logrus.FieldLogger) *cubedsphere.Simulation {
	s := cubedsphere.NewSimulation(ex)
	s.InitFuncs = []cubedsphere.DomainManipulator{
		cubedsphere.AddField(tracer, c.Grid.Levels),
		cubedsphere.AddField(tracerNext, c.Grid.Levels),
		cubedsphere.InitializeField(tracer, initialTracer(c.Grid.TileExtent, coef)),
	}
	diffuse := Diffusion(c.Diffusivity)
	if c.Overlap {
		s.RunFuncs = []cubedsphere.DomainManipulator{
			cubedsphere.OverlappedCalculations(1, []string{tracer}, diffuse, tracer, tracerNext),
		}
	} else {
		s.RunFuncs = []cubedsphere.DomainManipulator{
			cubedsphere.ExchangeHalos(1, tracer),
			cubedsphere.Calculations(diffuse, tracer, tracerNext),
		}
	}
	s.RunFuncs = append(s.RunFuncs,
		cubedsphere.Swap(tracer, tracerNext),
		cubedsphere.Log(log),
		cubedsphere.NumStepsCheck(c.Steps),
	)
	s.CleanupFuncs = []cubedsphere.DomainManipulator{
		cubedsphere.Checksum(log, tracer),
	}
	return s
}

func initialTracer(n int, coef *eta.Coefficients) func(d *cubedsphere.RankDomain, i, j int, k []int) float64 {
	mid := coef.MidPressure(coef.RefPressure)
	center, width := float64(n-1)/2, float64(n)/4
	return func(d *cubedsphere.RankDomain, i, j int, k []int) float64 {
		if d.Tile != 0 {
			return 0
		}
		x, y := float64(d.I0+i)-center, float64(d.J0+j)-center
		return math.Exp(-(x*x+y*y)/(width*width)) * mid[k[0]] / coef.RefPressure
	}
}

// mass returns the sum over the interior of f weighted by the pressure
// thickness of each layer.
func mass(f *cubedsphere.Field, coef *eta.Coefficients) float64 {
	p := coef.Pressure(coef.RefPressure)
	dp := make([]float64, len(p)-1)
	floats.SubTo(dp, p[1:], p[:len(p)-1])
	levels := make([]float64, len(dp))
	for i := 0; i < f.Nx; i++ {
		for j := 0; j < f.Ny; j++ {
			floats.Add(levels, f.Cell(i, j))
		}
	}
	return floats.Dot(levels, dp)
}

// runRank runs the simulation of one rank from start to finish.
func runRank(ctx context.Context, ex *cubedsphere.Exchanger, c *RunConfig, coef *eta.Coefficients, log logrus.FieldLogger) (*RankResult, error) {
	s := NewSimulation(ex, c, coef, log)
	res := &RankResult{Rank: s.Domain.Rank}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	f, err := s.Field(tracer)
	if err != nil {
		return nil, err
	}
	res.InitialMass = mass(f, coef)
	if err := s.Run(ctx); err != nil {
		return nil, err
	}
	if err := s.Cleanup(ctx); err != nil {
		return nil, err
	}
	if f, err = s.Field(tracer); err != nil {
		return nil, err
	}
	res.FinalMass = mass(f, coef)
	res.Checksum = hash.Floats(f.Data.Elements)
	return res, nil
}

// RunLocal runs every rank of the simulation described by c as a goroutine
// of this process.
func RunLocal(ctx context.Context, c *RunConfig, log logrus.FieldLogger) (Result, error) {
	p, err := c.Grid.Partitioner()
	if err != nil {
		return nil, err
	}
	coef, err := c.LoadEta(ctx, log)
	if err != nil {
		return nil, err
	}
	net := cubedsphere.NewLocalNetwork(p.Size())
	result := make(Result, p.Size())
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < p.Size(); rank++ {
		desc, err := p.Descriptor(rank)
		if err != nil {
			return nil, err
		}
		ex, err := cubedsphere.NewExchanger(desc, net.Endpoint(rank))
		if err != nil {
			return nil, err
		}
		ex.Log = log
		g.Go(func() error {
			r, err := runRank(ctx, ex, c, coef, log)
			if err != nil {
				return err
			}
			result[rank] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Worker runs rank c.Rank of the simulation described by c, exchanging
// halos with the other ranks listed in c.Hostfile over RPC.
func Worker(ctx context.Context, c *RunConfig, log logrus.FieldLogger) (*RankResult, error) {
	p, err := c.Grid.Partitioner()
	if err != nil {
		return nil, err
	}
	addrs, err := cluster.ReadHostfile(c.Hostfile)
	if err != nil {
		return nil, err
	}
	if len(addrs) != p.Size() {
		return nil, fmt.Errorf("%w: cubedsphereutil: hostfile %s lists %d ranks but the grid needs %d",
			cubedsphere.ErrConfig, c.Hostfile, len(addrs), p.Size())
	}
	coef, err := c.LoadEta(ctx, log)
	if err != nil {
		return nil, err
	}
	desc, err := p.Descriptor(c.Rank)
	if err != nil {
		return nil, err
	}

	peer, err := cluster.NewPeer(c.Rank, addrs)
	if err != nil {
		return nil, err
	}
	peer.ConfigHash = c.Hash()
	peer.Log = log
	if c.DialTimeout > 0 {
		peer.DialTimeout = c.DialTimeout
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- peer.ListenAndServe() }()
	defer peer.Close()

	if err := peer.Connect(ctx); err != nil {
		select {
		case serr := <-serveErr:
			if serr != nil {
				return nil, serr
			}
		default:
		}
		return nil, err
	}
	ex, err := cubedsphere.NewExchanger(desc, peer)
	if err != nil {
		return nil, err
	}
	ex.Log = log
	return runRank(ctx, ex, c, coef, log)
}
