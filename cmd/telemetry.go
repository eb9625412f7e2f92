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
	"log/slog"
	"os"

	"github.com/google/uuid"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/otel"
)

var (
	tracer = otel.Tracer("github.com/cardinalhq/lakenwb/cmd")

	// queryID tags every log line of one invocation.
	queryID string
)

// setupLogging installs the default slog logger. Logs go to stderr so that
// stdout carries only query output. LAKENWB_LOG_JSON names a file that
// receives a JSON copy of every record.
func setupLogging(servicename string) {
	queryID = uuid.NewString()

	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("LAKENWB_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if p := os.Getenv("LAKENWB_LOG_JSON"); p != "" {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("Cannot open JSON log file", slog.String("path", p), slog.Any("error", err))
		} else {
			handler = slogmulti.Fanout(handler, slog.NewJSONHandler(f, opts))
		}
	}

	slog.SetDefault(slog.New(handler).With(
		slog.String("service", servicename),
		slog.String("queryID", queryID),
	))
}
