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

package schema

import (
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"
)

// Override fixes the type of one column for every source.
type Override struct {
	Kind     ColumnKind
	Elem     ElemType
	Shape    []int64
	Depth    int
	RefTable string
}

// Overrides maps column names to their forced type.
type Overrides map[string]Override

func (o Override) spec(name string) ColumnSpec {
	c := ColumnSpec{
		Name:     name,
		Kind:     o.Kind,
		Elem:     o.Elem,
		Data:     name,
		Shape:    slices.Clone(o.Shape),
		RefTable: o.RefTable,
	}
	if o.Kind == Ragged {
		depth := max(o.Depth, 1)
		idx := name
		for range depth {
			idx += indexSuffix
			c.Index = append([]string{idx}, c.Index...)
		}
	}
	return c
}

type overrideFile struct {
	Columns map[string]struct {
		Kind  string  `yaml:"kind"`
		Type  string  `yaml:"type"`
		Shape []int64 `yaml:"shape"`
		Depth int     `yaml:"depth"`
		Table string  `yaml:"table"`
	} `yaml:"columns"`
}

// ParseOverrides reads a YAML document of the form
//
//	columns:
//	  amp: {kind: scalar, type: float}
//	  waveform: {kind: fixed, type: float, shape: [82]}
func ParseOverrides(r io.Reader) (Overrides, error) {
	var f overrideFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode schema overrides: %w", err)
	}

	out := make(Overrides, len(f.Columns))
	for name, c := range f.Columns {
		kind := Scalar
		if c.Kind != "" {
			k, err := ParseColumnKind(c.Kind)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", name, err)
			}
			kind = k
		}
		elem, err := ParseElemType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		if kind == Fixed && len(c.Shape) == 0 {
			return nil, fmt.Errorf("column %s: fixed columns need a shape", name)
		}
		out[name] = Override{Kind: kind, Elem: elem, Shape: c.Shape, Depth: c.Depth, RefTable: c.Table}
	}
	return out, nil
}
