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
	"context"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakenwb/internal/accessor"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/lazytable"
	"github.com/cardinalhq/lakenwb/nwberr"
)

var tablesCmd = &cobra.Command{
	Use:   "tables SOURCE",
	Short: "List the tables in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTables,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
}

// withSource opens raw through a fresh cache for the duration of fn.
func withSource(ctx context.Context, raw string, fn func(ctx context.Context, cache *lazytable.Cache, h *accessor.Handle) error) error {
	ctx, done := handleSignals(ctx)
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

	src, err := accessor.ParseSource(raw)
	if err != nil {
		return nwberr.Unavailable(raw, err)
	}
	h, err := cache.Open(ctx, src)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(ctx, cache, h)
}

func runTables(cmd *cobra.Command, args []string) error {
	return withSource(cmd.Context(), args[0], func(ctx context.Context, _ *lazytable.Cache, h *accessor.Handle) error {
		store := h.Store()
		paths, err := schema.FindTables(ctx, store)
		if err != nil {
			return nwberr.Wrap(h.Source().Key(), "", err)
		}
		var rows [][]string
		for _, p := range paths {
			t, err := schema.Infer(ctx, store, p)
			if err != nil {
				slog.Warn("Cannot infer table", slog.String("table", p), slog.Any("error", err))
				rows = append(rows, []string{p, "?", "?"})
				continue
			}
			rows = append(rows, []string{p, strconv.FormatInt(t.Rows, 10), strconv.Itoa(t.Schema.Len())})
		}
		writeTable(cmd.OutOrStdout(), []string{"table", "rows", "columns"}, rows)
		return nil
	})
}
