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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/lakenwb/internal/accessor"
	"github.com/cardinalhq/lakenwb/internal/backend"
	"github.com/cardinalhq/lakenwb/internal/schema"
	"github.com/cardinalhq/lakenwb/lazytable"
	"github.com/cardinalhq/lakenwb/nwberr"
)

var treeCmd = &cobra.Command{
	Use:   "tree SOURCE",
	Short: "List every group and array in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTree,
}

func init() {
	rootCmd.AddCommand(treeCmd)
}

func runTree(cmd *cobra.Command, args []string) error {
	return withSource(cmd.Context(), args[0], func(ctx context.Context, _ *lazytable.Cache, h *accessor.Handle) error {
		nodes, err := schema.ListTree(ctx, h.Store())
		if err != nil {
			return nwberr.Wrap(h.Source().Key(), "", err)
		}
		rows := make([][]string, 0, len(nodes))
		for _, n := range nodes {
			shape := ""
			if n.Type == backend.NodeArray {
				shape = fmt.Sprint(n.Shape)
			}
			rows = append(rows, []string{n.Path, n.Type.String(), shape, n.DType, n.NeurodataType})
		}
		writeTable(cmd.OutOrStdout(), []string{"path", "type", "shape", "dtype", "neurodata_type"}, rows)
		return nil
	})
}
