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
	"encoding/binary"
	"fmt"
	"math"
)

// header is the addressing information at the front of every exchange
// message.
type header struct {
	Round     uint64
	Direction uint16
	Width     uint16
	Count     uint32 // number of float64 values that follow
}

const headerLen = 16

// encodeMessage frames values for transport. Values are stored as their
// IEEE 754 bits so the receiver gets them back exactly.
func encodeMessage(h header, values []float64) []byte {
	b := make([]byte, headerLen+8*len(values))
	binary.LittleEndian.PutUint64(b[0:], h.Round)
	binary.LittleEndian.PutUint16(b[8:], h.Direction)
	binary.LittleEndian.PutUint16(b[10:], h.Width)
	binary.LittleEndian.PutUint32(b[12:], uint32(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[headerLen+8*i:], math.Float64bits(v))
	}
	return b
}

// decodeMessage reads a message produced by encodeMessage and checks it
// against the expected header.
func decodeMessage(b []byte, want header) ([]float64, error) {
	if len(b) < headerLen {
		return nil, fmt.Errorf("%w: message of %d bytes is shorter than its header", ErrTransport, len(b))
	}
	h := header{
		Round:     binary.LittleEndian.Uint64(b[0:]),
		Direction: binary.LittleEndian.Uint16(b[8:]),
		Width:     binary.LittleEndian.Uint16(b[10:]),
		Count:     binary.LittleEndian.Uint32(b[12:]),
	}
	if h != want {
		return nil, fmt.Errorf("%w: got message %+v but expected %+v", ErrTransport, h, want)
	}
	if len(b) != headerLen+8*int(h.Count) {
		return nil, fmt.Errorf("%w: message with %d values has %d bytes of data",
			ErrTransport, h.Count, len(b)-headerLen)
	}
	values := make([]float64, h.Count)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[headerLen+8*i:]))
	}
	return values, nil
}
