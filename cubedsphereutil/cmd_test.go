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
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spatialmodel/cubedsphere"
	"github.com/spatialmodel/cubedsphere/eta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the command line args with the example configuration file
// and returns what it printed.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	Cfg.Set("config", "testdata/config.toml")
	var out bytes.Buffer
	Root.SetOutput(&out)
	Root.SetArgs(args)
	require.NoError(t, Root.Execute())
	return out.String()
}

func TestVersionCmd(t *testing.T) {
	assert.Equal(t, "cubedsphere v"+cubedsphere.Version+"\n", execute(t, "version"))
}

func TestDecomposeCmd(t *testing.T) {
	out := execute(t, "decompose")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 25)
	assert.Equal(t, []string{"rank", "tile", "i", "j", "W", "S", "E", "N"}, strings.Fields(lines[0]))
	// Rank 3 is the north-east block of tile 0.
	assert.Equal(t, []string{"3", "0", "4-7", "4-7"}, strings.Fields(lines[4])[:4])
}

func TestPlanCmd(t *testing.T) {
	out := execute(t, "plan", "--rank=3")
	var recvs, sends int
	for _, l := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(l, "recv"):
			recvs++
		case strings.HasPrefix(l, "send"):
			sends++
		}
	}
	assert.Equal(t, 8, recvs)
	assert.NotZero(t, sends)
}

func TestEtaCmd(t *testing.T) {
	file := filepath.Join(t.TempDir(), "eta.nc")
	out := execute(t, "eta", "--output="+file)
	assert.Contains(t, out, "ptop=0 ks=0")
	lines := strings.Split(out, "\n")
	require.Greater(t, len(lines), 2)
	assert.Equal(t, []string{"k", "a", "b", "pressure", "eta"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "1000", "0.8", "1800", "1.8"}, strings.Fields(lines[2]))

	coef, err := eta.Load(file, 4, eta.WithReferencePressure(1000))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1000, 3000, 6000, 10000}, coef.A)
	assert.Equal(t, []float64{1, 0.8, 0.5, 0.2, 0}, coef.B)
}

func TestRunCmd(t *testing.T) {
	out := execute(t, "run")
	assert.True(t, strings.HasPrefix(out, "ranks=24 steps=3 "), out)

	t.Setenv("CUBEDSPHERE_RUN_STEPS", "2")
	out = execute(t, "run")
	assert.True(t, strings.HasPrefix(out, "ranks=24 steps=2 "), out)
}
