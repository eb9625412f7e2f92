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
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakenwb/lazytable"
)

var (
	schemaTable string
	schemaFile  string
)

var schemaCmd = &cobra.Command{
	Use:   "schema SOURCE...",
	Short: "Print the merged schema of a table across files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaTable, "table", "t", "", "table path or name")
	schemaCmd.Flags().StringVar(&schemaFile, "schema-file", "", "YAML file of column type overrides")
	_ = schemaCmd.MarkFlagRequired("table")

	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, sources []string) error {
	ctx, done := handleSignals(cmd.Context())
	defer done()

	cache, err := newCache()
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Warn("Failed to close file cache", slog.Any("error", err))
		}
	}()

	var opts []lazytable.ScanOption
	if schemaFile != "" {
		ov, err := lazytable.LoadSchemaOverrides(schemaFile)
		if err != nil {
			return err
		}
		opts = append(opts, lazytable.WithOverrides(ov))
	}
	lt, err := lazytable.Scan(ctx, cache, sources, schemaTable, opts...)
	if err != nil {
		return err
	}

	var rows [][]string
	for _, c := range lt.Schema().Columns {
		shape := ""
		if len(c.Shape) > 0 {
			shape = fmt.Sprint(c.Shape)
		}
		depth := ""
		if c.Depth() > 0 {
			depth = strconv.Itoa(c.Depth())
		}
		rows = append(rows, []string{
			c.Name, c.Kind.String(), c.Elem.String(), shape, depth,
			strconv.FormatBool(c.Nullable), c.RefTable,
		})
	}
	out := cmd.OutOrStdout()
	writeTable(out, []string{"column", "kind", "type", "shape", "depth", "nullable", "references"}, rows)

	paths := lt.TablePaths()
	var found [][]string
	for _, src := range lt.Sources() {
		p, ok := paths[src]
		if !ok {
			p = "(not found)"
		}
		found = append(found, []string{src, p})
	}
	fmt.Fprintln(out)
	writeTable(out, []string{"source", "table"}, found)
	return nil
}
