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

package cmd

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/olekukonko/tablewriter"
)

const (
	formatTable = "table"
	formatJSONL = "jsonl"
)

func checkFormat(f string) error {
	switch f {
	case formatTable, formatJSONL:
		return nil
	}
	return fmt.Errorf("unknown output format %q: want %s or %s", f, formatTable, formatJSONL)
}

// writeRecord renders rec as an aligned text table or as one JSON object
// per row.
func writeRecord(w io.Writer, rec arrow.Record, format string) error {
	if format == formatJSONL {
		return array.RecordToJSON(rec, w)
	}

	header := make([]string, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		header[i] = f.Name
	}
	rows := make([][]string, rec.NumRows())
	for r := range rows {
		row := make([]string, rec.NumCols())
		for c, col := range rec.Columns() {
			row[c] = cell(col, r)
		}
		rows[r] = row
	}
	writeTable(w, header, rows)
	return nil
}

func cell(col arrow.Array, i int) string {
	if col.IsNull(i) {
		return "null"
	}
	return col.ValueStr(i)
}

func writeTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(rows)
	table.Render()
}
