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
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/lakenwb/internal/accessor"
	"github.com/cardinalhq/lakenwb/internal/objstore"
	"github.com/cardinalhq/lakenwb/internal/spool"
	"github.com/cardinalhq/lakenwb/internal/zarrstore"
	"github.com/cardinalhq/lakenwb/lazytable"
	"github.com/cardinalhq/lakenwb/nwberr"
)

// Config aggregates configuration for the application.
type Config struct {
	Query   QueryConfig   `mapstructure:"query"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Storage StorageConfig `mapstructure:"storage"`
}

// QueryConfig holds collect defaults.
type QueryConfig struct {
	// Workers bounds per-source concurrency; 0 means GOMAXPROCS.
	Workers             int    `mapstructure:"workers"`
	Sequential          bool   `mapstructure:"sequential"`
	OnMissing           string `mapstructure:"on_missing"`
	Strict              bool   `mapstructure:"strict"`
	IncludeArrayColumns bool   `mapstructure:"include_array_columns"`
}

type CacheConfig struct {
	ChunkTTL        time.Duration `mapstructure:"chunk_ttl"`
	ChunkCapacity   uint64        `mapstructure:"chunk_capacity"`
	SpoolDir        string        `mapstructure:"spool_dir"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type StorageConfig struct {
	S3    S3Config    `mapstructure:"s3"`
	Azure AzureConfig `mapstructure:"azure"`
	HTTP  HTTPConfig  `mapstructure:"http"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
	Anonymous bool   `mapstructure:"anonymous"`
}

type AzureConfig struct {
	Account   string `mapstructure:"account"`
	Endpoint  string `mapstructure:"endpoint"`
	Anonymous bool   `mapstructure:"anonymous"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Query: QueryConfig{OnMissing: string(nwberr.Suppress)},
		Cache: CacheConfig{
			ChunkTTL:        zarrstore.DefaultChunkTTL,
			ChunkCapacity:   zarrstore.DefaultChunkCapacity,
			CleanupInterval: spool.DefaultCleanupInterval,
		},
		Storage: StorageConfig{
			HTTP: HTTPConfig{Timeout: 60 * time.Second},
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "LAKENWB" and the dot character
// in keys is replaced by an underscore. For example, "query.on_missing"
// becomes "LAKENWB_QUERY_ON_MISSING".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("LAKENWB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if _, err := nwberr.ParseOnMissing(cfg.Query.OnMissing); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AccessorOptions converts the cache and storage sections for the handle
// cache.
func (c *Config) AccessorOptions() accessor.Options {
	return accessor.Options{
		Storage: objstore.Options{
			S3: objstore.S3Options{
				Region:    c.Storage.S3.Region,
				Endpoint:  c.Storage.S3.Endpoint,
				PathStyle: c.Storage.S3.PathStyle,
				Anonymous: c.Storage.S3.Anonymous,
			},
			Azure: objstore.AzureOptions{
				Account:   c.Storage.Azure.Account,
				Endpoint:  c.Storage.Azure.Endpoint,
				Anonymous: c.Storage.Azure.Anonymous,
			},
			HTTPTimeout: c.Storage.HTTP.Timeout,
		},
		ChunkTTL:        c.Cache.ChunkTTL,
		ChunkCapacity:   c.Cache.ChunkCapacity,
		SpoolDir:        c.Cache.SpoolDir,
		CleanupInterval: c.Cache.CleanupInterval,
	}
}

// CollectOptions returns the collect defaults from the query section.
func (c *Config) CollectOptions() lazytable.CollectOptions {
	onMissing, err := nwberr.ParseOnMissing(c.Query.OnMissing)
	if err != nil {
		onMissing = nwberr.Suppress
	}
	return lazytable.CollectOptions{
		OnMissing:           onMissing,
		MaxWorkers:          c.Query.Workers,
		Sequential:          c.Query.Sequential,
		IncludeArrayColumns: c.Query.IncludeArrayColumns,
	}
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
