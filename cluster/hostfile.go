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

package cluster

import (
	"encoding/csv"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spatialmodel/cubedsphere"
)

// ReadHostfile reads the listening addresses of the ranks of a group from
// the file at path. Each line holds one host:port address; the first line
// is rank 0. Further comma-separated fields are ignored, as are blank
// lines and lines starting with #.
func ReadHostfile(path string) ([]string, error) {
	f, err := os.Open(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("%w: cluster: %v", cubedsphere.ErrConfig, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	lines, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: cluster: reading hostfile %s: %v", cubedsphere.ErrConfig, path, err)
	}
	var addrs []string
	for _, l := range lines {
		addr := strings.TrimSpace(l[0])
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("%w: cluster: hostfile %s: rank %d: %v", cubedsphere.ErrConfig, path, len(addrs), err)
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: cluster: hostfile %s lists no ranks", cubedsphere.ErrConfig, path)
	}
	return addrs, nil
}
