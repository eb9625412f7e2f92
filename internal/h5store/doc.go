// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package h5store reads NWB files stored as HDF5 through the HDF5 C
// library. Remote files are spooled to local disk first by the caller.
//
// Values are converted to the backend families on read: integers of any
// width to int64, floats to float64, h5py boolean enums to bool, and
// object references (datasets and attributes such as a region column's
// table) to the absolute path of their target.
package h5store
