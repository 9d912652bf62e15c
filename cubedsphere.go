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

// Package cubedsphere decomposes a six-tile cube-sphere grid across
// compute ranks and keeps the halo cells of each rank consistent with the
// interior cells of its neighbors.
//
// A Partitioner assigns every rank a square block of one tile and derives,
// once, a Descriptor listing which cells the rank sends to and receives
// from each neighbor. An Exchanger moves those cells over a Transport
// every time step, either blocking (Exchange) or split into Start and
// Finish so that interior computation can overlap communication.
package cubedsphere

// Version gives the version number.
const Version = "0.1.0"
