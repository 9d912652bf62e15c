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

import "errors"

// Error categories. Every error returned by this package wraps exactly one
// of these, so callers can use errors.Is to decide how to react. None of
// them is recoverable within a run.
var (
	// ErrConfig indicates invalid topology or partition parameters.
	ErrConfig = errors.New("cubedsphere: configuration error")

	// ErrTransport indicates that a peer could not be reached or that a
	// message was malformed or truncated.
	ErrTransport = errors.New("cubedsphere: transport error")

	// ErrMisuse indicates a programming error in the use of the exchange
	// API, such as finishing a round that was never started.
	ErrMisuse = errors.New("cubedsphere: misuse")
)
