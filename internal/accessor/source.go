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

package accessor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/objstore"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// Source identifies one NWB file, local or remote.
type Source struct {
	Raw string
	Loc objstore.Location
}

// ParseSource normalizes s into a Source.
func ParseSource(s string) (Source, error) {
	loc, err := objstore.ParseLocation(s)
	if err != nil {
		return Source{}, err
	}
	return Source{Raw: s, Loc: loc}, nil
}

// Key is the normalized identity used for caching and reporting.
func (s Source) Key() string { return s.Loc.String() }

func (s Source) String() string { return s.Key() }

var hdf5Signature = []byte("\x89HDF\r\n\x1a\n")

// Detect picks the storage format of loc from its name or from a format
// signature; it never attempts to parse the file as either format.
func Detect(ctx context.Context, client objstore.Client, loc objstore.Location) (backend.Kind, error) {
	if strings.HasSuffix(strings.ToLower(loc.Key), ".zarr") {
		return backend.KindZarr, nil
	}
	for _, marker := range []string{".zmetadata", ".zgroup"} {
		m := loc.Child(marker)
		_, err := client.Size(ctx, m.Bucket, m.Key)
		if err == nil {
			return backend.KindZarr, nil
		}
		if !errors.Is(err, objstore.ErrNotFound) {
			return "", err
		}
	}

	head, err := client.ReadRange(ctx, loc.Bucket, loc.Key, 0, int64(len(hdf5Signature)))
	if err != nil {
		return "", err
	}
	if bytes.Equal(head, hdf5Signature) {
		return backend.KindHDF5, nil
	}
	return "", fmt.Errorf("%s is neither zarr nor hdf5: %w", loc, nwberr.ErrUnsupported)
}
