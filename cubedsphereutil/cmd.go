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
	"strings"
	"text/tabwriter"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/cubedsphere"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to cubedsphere.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel sets the verbosity of log messages. Options are
              "debug", "info", "warning", and "error".`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.TileExtent",
			usage: `
              Grid.TileExtent specifies the number of grid cells along each
              edge of each of the six cube faces.`,
			shorthand:  "n",
			defaultVal: 48,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.RanksPerEdge",
			usage: `
              Grid.RanksPerEdge specifies the number of ranks along each edge
              of each cube face. The total number of ranks is
              6 × RanksPerEdge². It must divide Grid.TileExtent.`,
			shorthand:  "r",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.Halo",
			usage: `
              Grid.Halo specifies the width of the halo around each rank
              domain, in grid cells. It may not be larger than a rank
              domain.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Grid.Levels",
			usage: `
              Grid.Levels specifies the number of vertical layers.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Eta.File",
			usage: `
              Eta.File specifies the location of a file holding the hybrid
              vertical coordinate coefficients, in netCDF, YAML, or TOML
              format. It can be a local path, an http(s) URL, or a blob
              location (gs://, s3://, or file://). It must be set.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Eta.ReferencePressure",
			usage: `
              Eta.ReferencePressure specifies the surface pressure, in Pa,
              used to calculate reference interface pressures.`,
			defaultVal: 1.0e5,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Run.Steps",
			usage: `
              Run.Steps specifies the number of time steps to run.`,
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags()},
		},
		{
			name: "Run.Overlap",
			usage: `
              Run.Overlap specifies whether to overlap halo exchange with
              computation on the interior of each rank domain.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags()},
		},
		{
			name: "Run.Diffusivity",
			usage: `
              Run.Diffusivity specifies the nondimensional tracer
              diffusivity κΔt/Δx². It must be between 0 and 0.25.`,
			defaultVal: 0.1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags()},
		},
		{
			name: "Cluster.Hostfile",
			usage: `
              Cluster.Hostfile specifies a file listing the host:port RPC
              address of each rank, one per line, in rank order. It can
              contain environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{workerCmd.Flags()},
		},
		{
			name: "Cluster.Rank",
			usage: `
              Cluster.Rank specifies the rank run by this worker.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{workerCmd.Flags()},
		},
		{
			name: "Cluster.DialTimeout",
			usage: `
              Cluster.DialTimeout specifies how long to keep trying to
              connect to the other ranks before giving up.`,
			defaultVal: "1m",
			flagsets:   []*pflag.FlagSet{workerCmd.Flags()},
		},
		{
			name: "rank",
			usage: `
              rank specifies the rank whose exchange plan to print.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{planCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output specifies a netCDF file to write the vertical
              coordinate to.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{etaCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CUBEDSPHERE")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(decomposeCmd)
	Root.AddCommand(planCmd)
	Root.AddCommand(etaCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(workerCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets the log level.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: cubedsphere: problem reading configuration file: %v", cubedsphere.ErrConfig, err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return fmt.Errorf("%w: cubedsphere: %v", cubedsphere.ErrConfig, err)
	}
	logrus.SetLevel(level)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "cubedsphere",
	Short: "Halo exchange for cube-sphere grids.",
	Long: `cubedsphere decomposes a six-tile cube-sphere grid across compute ranks
and exchanges halo cells between them. Use the subcommands specified below to
inspect a decomposition or to run a tracer diffusion model on it, either on
the local machine or as one worker per rank.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'CUBEDSPHERE_var' where 'var'
is the name of the variable to be set, with '.' replaced by '_'.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of cubedsphere.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cubedsphere v%s\n", cubedsphere.Version)
	},
	DisableAutoGenTag: true,
}

// decomposeCmd prints the rank layout of a decomposition.
var decomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Print the rank layout",
	Long: `decompose prints the tile and cell range owned by each rank
of the decomposition given by the Grid settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := GetGridConfig(Cfg)
		if err != nil {
			return err
		}
		p, err := g.Partitioner()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "rank\ttile\ti\tj\tW\tS\tE\tN")
		for rank := 0; rank < p.Size(); rank++ {
			d, err := p.Domain(rank)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t%d\t%d-%d\t%d-%d", d.Rank, d.Tile, d.I0, d.I0+d.Nx-1, d.J0, d.J0+d.Ny-1)
			for _, n := range d.Edges {
				fmt.Fprintf(w, "\t%d", n.Rank)
			}
			fmt.Fprintln(w)
		}
		return w.Flush()
	},
	DisableAutoGenTag: true,
}

// planCmd prints the exchange plan of one rank.
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the exchange plan of a rank",
	Long: `plan prints the messages that the given rank receives and sends
in each halo exchange round, and checks that the plan is consistent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := GetGridConfig(Cfg)
		if err != nil {
			return err
		}
		p, err := g.Partitioner()
		if err != nil {
			return err
		}
		desc, err := p.Descriptor(Cfg.GetInt("rank"))
		if err != nil {
			return err
		}
		if err := desc.Verify(); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "kind\tpeer\tdirection\trotation\tcells")
		for _, t := range desc.Recvs {
			fmt.Fprintf(w, "recv\t%d\t%v\t%d\t%d\n", t.Peer, t.Direction, t.Rotation.Degrees(), t.Len(g.Halo))
		}
		for _, t := range desc.Sends {
			fmt.Fprintf(w, "send\t%d\t%v\t%d\t%d\n", t.Peer, t.Direction, t.Rotation.Degrees(), t.Len(g.Halo))
		}
		return w.Flush()
	},
	DisableAutoGenTag: true,
}

// etaCmd prints the vertical coordinate.
var etaCmd = &cobra.Command{
	Use:   "eta",
	Short: "Print the vertical coordinate",
	Long: `eta loads the hybrid vertical coordinate given by the Eta settings
and prints the interface pressures at the reference surface pressure.
If --output is set, the coordinate is also written to a netCDF file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := &RunConfig{
			EtaFile:           os.ExpandEnv(Cfg.GetString("Eta.File")),
			ReferencePressure: Cfg.GetFloat64("Eta.ReferencePressure"),
		}
		g, err := GetGridConfig(Cfg)
		if err != nil {
			return err
		}
		c.Grid = *g
		coef, err := c.LoadEta(context.Background(), logrus.StandardLogger())
		if err != nil {
			return err
		}
		p := coef.Pressure(coef.RefPressure)
		e := coef.Eta()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "k\ta\tb\tpressure\teta")
		for k := range p {
			fmt.Fprintf(w, "%d\t%g\t%g\t%g\t%.6g\n", k, coef.A[k], coef.B[k], p[k], e[k])
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ptop=%g ks=%d\n", coef.PTop(), coef.KS())

		if out := os.ExpandEnv(Cfg.GetString("output")); out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("cubedsphere: creating eta output file: %v", err)
			}
			if err := coef.WriteNetCDF(f, coef.RefPressure); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// runCmd runs every rank in this process.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the model on the local machine.",
	Long: `run runs a tracer diffusion simulation with every rank of the
decomposition as a goroutine of this process, and prints the tracer mass
before and after the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetRunConfig(Cfg)
		if err != nil {
			return err
		}
		result, err := RunLocal(context.Background(), c, logrus.StandardLogger())
		if err != nil {
			return err
		}
		initial, final := result.Mass()
		fmt.Fprintf(cmd.OutOrStdout(), "ranks=%d steps=%d initial mass=%g final mass=%g\n",
			len(result), c.Steps, initial, final)
		return nil
	},
	DisableAutoGenTag: true,
}

// workerCmd runs a single rank.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a worker for one rank.",
	Long: `worker runs one rank of a tracer diffusion simulation. It listens
for halo data at the address listed for its rank in the hostfile and
sends halo data to the other ranks over RPC. One worker must be started
for each rank.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetRunConfig(Cfg)
		if err != nil {
			return err
		}
		log := logrus.WithField("rank", c.Rank)
		r, err := Worker(context.Background(), c, log)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rank=%d initial mass=%g final mass=%g checksum=%s\n",
			r.Rank, r.InitialMass, r.FinalMass, r.Checksum)
		return nil
	},
	DisableAutoGenTag: true,
}
