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
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/cdf"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the coefficients of a grid with the given number
// of layers from a local file. The format is chosen by file extension:
// netCDF (.nc, .ncf, .nc4) with one-dimensional variables, or YAML (.yaml,
// .yml) or TOML (.toml) with one array per coefficient.
func Load(path string, levels int, opts ...Option) (*Coefficients, error) {
	cfg := newConfig(opts)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("eta: %v", err)
	}
	var read func(path string, cfg *config) (a, b []float64, err error)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nc", ".ncf", ".nc4":
		read = readNetCDF
	case ".yaml", ".yml":
		read = readYAML
	case ".toml":
		read = readTOML
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidCoefficients, filepath.Ext(path))
	}
	a, b, err := read(path, cfg)
	if err != nil {
		return nil, err
	}
	c, err := newCoefficients(a, b, levels, cfg)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return c, nil
}

func readNetCDF(path string, cfg *config) (a, b []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("eta: %v", err)
	}
	defer f.Close()
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading netcdf file %s: %v", ErrInvalidCoefficients, path, err)
	}
	if a, err = readNCFVar(ff, cfg.aName); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if b, err = readNCFVar(ff, cfg.bName); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, b, nil
}

// readNCFVar reads the one-dimensional variable name, which may be stored
// in single or double precision.
func readNCFVar(ff *cdf.File, name string) ([]float64, error) {
	dims := ff.Header.Lengths(name)
	if len(dims) != 1 {
		return nil, fmt.Errorf("%w: variable %q must exist and have one dimension", ErrInvalidCoefficients, name)
	}
	r := ff.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: reading variable %q: %v", ErrInvalidCoefficients, name, err)
	}
	switch v := buf.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: variable %q has type %T, not float", ErrInvalidCoefficients, name, buf)
	}
}

func readYAML(path string, cfg *config) (a, b []float64, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("eta: %v", err)
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidCoefficients, path, err)
	}
	return fromMap(path, m, cfg)
}

func readTOML(path string, cfg *config) (a, b []float64, err error) {
	var m map[string]interface{}
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidCoefficients, path, err)
	}
	return fromMap(path, m, cfg)
}

func fromMap(path string, m map[string]interface{}, cfg *config) (a, b []float64, err error) {
	if a, err = floatSlice(m, cfg.aName); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if b, err = floatSlice(m, cfg.bName); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, b, nil
}

// floatSlice converts the array stored under key to float64 values. The
// decoders give integers for values written without a decimal point.
func floatSlice(m map[string]interface{}, key string) ([]float64, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing key %q", ErrInvalidCoefficients, key)
	}
	vals, err := cast.ToSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidCoefficients, key, err)
	}
	out := make([]float64, len(vals))
	for i, x := range vals {
		if out[i], err = cast.ToFloat64E(x); err != nil {
			return nil, fmt.Errorf("%w: key %q element %d: %v", ErrInvalidCoefficients, key, i, err)
		}
	}
	return out, nil
}
