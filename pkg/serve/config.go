// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package serve

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-sql-driver/mysql"
)

const (
	maxAllowedPacket = 16777216
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type Database struct {
	Name    string   `toml:"name"`
	User    string   `toml:"user"`
	Host    string   `toml:"host"`
	Port    int      `toml:"port"`
	Passwd  string   `toml:"passwd"`
	Timeout Duration `toml:"timeout,omitempty"`
}

func (d *Database) MakeConfig() (*mysql.Config, error) {
	if d.Timeout.Duration == 0 {
		d.Timeout.Duration = 30 * time.Second
	}

	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Passwd
	cfg.DBName = d.Name
	cfg.Net = "tcp"
	cfg.Addr = d.Host + ":" + strconv.Itoa(d.Port)
	cfg.Timeout = d.Timeout.Duration
	cfg.ReadTimeout = d.Timeout.Duration
	cfg.WriteTimeout = d.Timeout.Duration
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	cfg.MaxAllowedPacket = maxAllowedPacket

	return cfg, nil
}

type Cache struct {
	NumCounters int64 `toml:"num_counters"`
	MaxCost     int64 `toml:"max_cost"` // GiB
	BufferItems int64 `toml:"buffer_items"`
}

// Pack bounds the pack decoder: a GiB budget for the in-memory resolved
// cache, the spill directory and whether it is removed after each decode.
type Pack struct {
	PackDecodeMemSize     int64  `toml:"pack_decode_mem_size"`
	PackDecodeCachePath   string `toml:"pack_decode_cache_path"`
	CleanCacheAfterDecode bool   `toml:"clean_cache_after_decode"`
}

func (p *Pack) MemSizeBytes() int64 {
	return p.PackDecodeMemSize << 30
}

type ServerConfig struct {
	DB    *Database `toml:"database,omitempty"`
	Cache *Cache    `toml:"cache,omitempty"`
	Pack  *Pack     `toml:"pack,omitempty"`
}

const (
	MiByte = 1 << 20
)

func NewExpandReader(file string, expandEnv bool) (io.ReadCloser, error) {
	fd, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	if !expandEnv {
		return fd, err
	}
	defer fd.Close() // nolint
	var buf strings.Builder
	if _, err := io.Copy(&buf, io.LimitReader(fd, 64*MiByte)); err != nil {
		return nil, err
	}
	b := strings.NewReader(os.ExpandEnv(buf.String()))
	return io.NopCloser(b), nil
}

func NewServerConfig(file string, expandEnv bool) (*ServerConfig, error) {
	r, err := NewExpandReader(file, expandEnv)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	sc := &ServerConfig{}
	if _, err = toml.NewDecoder(r).Decode(sc); err != nil {
		return nil, err
	}
	if sc.Cache == nil {
		sc.Cache = &Cache{
			NumCounters: 1000000000,
			MaxCost:     20,
			BufferItems: 64,
		}
	}
	if sc.Pack == nil {
		sc.Pack = &Pack{
			PackDecodeMemSize:     4,
			PackDecodeCachePath:   os.TempDir(),
			CleanCacheAfterDecode: true,
		}
	}
	return sc, nil
}
