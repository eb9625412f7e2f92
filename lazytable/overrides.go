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

package lazytable

import (
	"fmt"
	"os"

	"github.com/cardinalhq/lakenwb/internal/schema"
)

// LoadSchemaOverrides reads a YAML override file:
//
//	columns:
//	  amp: {type: float}
//	  waveform: {kind: fixed, type: float, shape: [82]}
//	  spike_times: {kind: ragged, type: float}
//	  electrodes: {kind: ragged, type: int, table: /general/extracellular_ephys/electrodes}
func LoadSchemaOverrides(path string) (Overrides, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema overrides: %w", err)
	}
	defer f.Close()
	ov, err := schema.ParseOverrides(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ov, nil
}
