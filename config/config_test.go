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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/lakenwb/nwberr"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "suppress", cfg.Query.OnMissing)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ChunkTTL)
	assert.Equal(t, uint64(4096), cfg.Cache.ChunkCapacity)
	assert.Equal(t, 60*time.Second, cfg.Storage.HTTP.Timeout)

	opts := cfg.CollectOptions()
	assert.Equal(t, nwberr.Suppress, opts.OnMissing)
	assert.Zero(t, opts.MaxWorkers)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LAKENWB_QUERY_WORKERS", "3")
	t.Setenv("LAKENWB_QUERY_ON_MISSING", "raise")
	t.Setenv("LAKENWB_QUERY_INCLUDE_ARRAY_COLUMNS", "true")
	t.Setenv("LAKENWB_CACHE_CHUNK_TTL", "90s")
	t.Setenv("LAKENWB_STORAGE_S3_REGION", "us-west-2")
	t.Setenv("LAKENWB_STORAGE_S3_PATH_STYLE", "true")
	t.Setenv("LAKENWB_STORAGE_AZURE_ACCOUNT", "dandi")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Query.Workers)
	require.Equal(t, 90*time.Second, cfg.Cache.ChunkTTL)

	collect := cfg.CollectOptions()
	assert.Equal(t, nwberr.Raise, collect.OnMissing)
	assert.Equal(t, 3, collect.MaxWorkers)
	assert.True(t, collect.IncludeArrayColumns)

	acc := cfg.AccessorOptions()
	assert.Equal(t, "us-west-2", acc.Storage.S3.Region)
	assert.True(t, acc.Storage.S3.PathStyle)
	assert.Equal(t, "dandi", acc.Storage.Azure.Account)
	assert.Equal(t, 90*time.Second, acc.ChunkTTL)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	doc := "query:\n  sequential: true\ncache:\n  spool_dir: /var/tmp/nwb\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(doc), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Query.Sequential)
	assert.Equal(t, "/var/tmp/nwb", cfg.AccessorOptions().SpoolDir)
}

func TestLoadRejectsBadOnMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LAKENWB_QUERY_ON_MISSING", "ignore")

	_, err := Load()
	assert.Error(t, err)
}
