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

package nwberr

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailableKeepsCause(t *testing.T) {
	err := Unavailable("/data/a.nwb", fs.ErrNotExist)

	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	var se *SourceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "/data/a.nwb", se.Source)
	assert.Contains(t, err.Error(), "/data/a.nwb")
}

func TestWrapDoesNotDoubleWrap(t *testing.T) {
	inner := Wrap("s1", "/units", ErrColumnMissing)
	outer := Wrap("s1", "/other", inner)
	assert.Same(t, inner, outer)

	assert.Nil(t, Wrap("s1", "", nil))
}

func TestErrorsList(t *testing.T) {
	var es Errors
	assert.NoError(t, es.Err())

	es.Add("a", ErrSourceUnavailable)
	es.Add("b", Wrap("b", "/units", ErrColumnMissing))
	es.Add("c", nil)

	require.Len(t, es, 2)
	assert.Equal(t, []string{"a", "b"}, es.Sources())
	assert.ErrorIs(t, es.Err(), ErrColumnMissing)
	assert.Equal(t, "/units", es[1].Path)
}

func TestConflictIsGlobal(t *testing.T) {
	err := error(&ConflictError{Column: "amp", Detail: "float vs string", Kind: ErrSchemaConflict})
	assert.True(t, IsGlobal(err))
	assert.ErrorIs(t, err, ErrSchemaConflict)
	assert.False(t, IsGlobal(ErrSourceUnavailable))
}

func TestParseOnMissing(t *testing.T) {
	tests := []struct {
		in      string
		want    OnMissing
		wantErr bool
	}{
		{"raise", Raise, false},
		{"SUPPRESS", Suppress, false},
		{"", Suppress, false},
		{"ignore", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOnMissing(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
