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

//go:build !cgo

package h5store

import (
	"fmt"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// Open fails on builds without cgo, where the HDF5 library is unavailable.
func Open(path string, onClose func()) (backend.Store, error) {
	if onClose != nil {
		onClose()
	}
	return nil, fmt.Errorf("hdf5 %s: built without cgo: %w", path, nwberr.ErrUnsupported)
}
