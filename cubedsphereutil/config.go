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
	"os"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/cubedsphere"
	"github.com/spatialmodel/cubedsphere/eta"
	"github.com/spatialmodel/cubedsphere/internal/hash"
	"github.com/spf13/cast"
)

// GridConfig holds the grid decomposition settings.
type GridConfig struct {
	TileExtent   int // Cells along each tile edge (N)
	RanksPerEdge int // Ranks along each tile edge (R)
	Halo         int // Halo width (H)
	Levels       int // Vertical layers
}

// RunConfig holds the settings of a model run.
type RunConfig struct {
	Grid GridConfig

	EtaFile           string
	ReferencePressure float64

	Steps       int
	Overlap     bool
	Diffusivity float64

	Hostfile    string
	Rank        int
	DialTimeout time.Duration
}

// GetGridConfig unmarshals the grid settings from a viper configuration.
func GetGridConfig(cfg *viper.Viper) (*GridConfig, error) {
	g := &GridConfig{}
	for _, v := range []struct {
		name string
		dst  *int
	}{
		{"Grid.TileExtent", &g.TileExtent},
		{"Grid.RanksPerEdge", &g.RanksPerEdge},
		{"Grid.Halo", &g.Halo},
		{"Grid.Levels", &g.Levels},
	} {
		i, err := cast.ToIntE(cfg.Get(v.name))
		if err != nil {
			return nil, fmt.Errorf("%w: cubedsphereutil: %s: %v", cubedsphere.ErrConfig, v.name, err)
		}
		*v.dst = i
	}
	if g.Levels < 1 {
		return nil, fmt.Errorf("%w: cubedsphereutil: Grid.Levels=%d but should be >0", cubedsphere.ErrConfig, g.Levels)
	}
	return g, nil
}

// Partitioner returns the decomposition described by g.
func (g *GridConfig) Partitioner() (*cubedsphere.Partitioner, error) {
	return cubedsphere.NewPartitioner(cubedsphere.CubeSphere(), g.TileExtent, g.RanksPerEdge, g.Halo,
		cubedsphere.NumTiles*g.RanksPerEdge*g.RanksPerEdge)
}

// GetRunConfig unmarshals the run settings from a viper configuration.
func GetRunConfig(cfg *viper.Viper) (*RunConfig, error) {
	g, err := GetGridConfig(cfg)
	if err != nil {
		return nil, err
	}
	c := &RunConfig{
		Grid:              *g,
		EtaFile:           os.ExpandEnv(cfg.GetString("Eta.File")),
		ReferencePressure: cfg.GetFloat64("Eta.ReferencePressure"),
		Steps:             cfg.GetInt("Run.Steps"),
		Overlap:           cfg.GetBool("Run.Overlap"),
		Diffusivity:       cfg.GetFloat64("Run.Diffusivity"),
		Hostfile:          os.ExpandEnv(cfg.GetString("Cluster.Hostfile")),
		Rank:              cfg.GetInt("Cluster.Rank"),
		DialTimeout:       cast.ToDuration(cfg.Get("Cluster.DialTimeout")),
	}
	if c.Steps < 1 {
		return nil, fmt.Errorf("%w: cubedsphereutil: Run.Steps=%d but should be >0", cubedsphere.ErrConfig, c.Steps)
	}
	if !(c.Diffusivity >= 0 && c.Diffusivity <= 0.25) {
		return nil, fmt.Errorf("%w: cubedsphereutil: Run.Diffusivity=%g but should be between 0 and 0.25",
			cubedsphere.ErrConfig, c.Diffusivity)
	}
	return c, nil
}

// Hash identifies the settings that every rank of a run must share.
func (c *RunConfig) Hash() string {
	shared := *c
	shared.Rank = 0
	shared.Hostfile = ""
	shared.DialTimeout = 0
	return hash.Hash(shared)
}

// LoadEta fetches and loads the vertical coordinate file.
func (c *RunConfig) LoadEta(ctx context.Context, log logrus.FieldLogger) (*eta.Coefficients, error) {
	if c.EtaFile == "" {
		return nil, fmt.Errorf("%w: cubedsphereutil: Eta.File is not set", eta.ErrConfigMissing)
	}
	var opts []eta.Option
	if c.ReferencePressure != 0 {
		opts = append(opts, eta.WithReferencePressure(c.ReferencePressure))
	}
	path, err := maybeDownload(ctx, c.EtaFile, log)
	if err != nil {
		return nil, err
	}
	return eta.Load(path, c.Grid.Levels, opts...)
}
