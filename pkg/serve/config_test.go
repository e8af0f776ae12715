// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package serve

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mono-serve.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
[database]
name = "mono"
user = "mono"
host = "127.0.0.1"
port = 3306
passwd = "${MONO_DB_PASSWD}"
timeout = "10s"

[pack]
pack_decode_mem_size = 2
pack_decode_cache_path = "/tmp/mono-pack-cache"
clean_cache_after_decode = true
`), 0644))
	t.Setenv("MONO_DB_PASSWD", "sesame")

	sc, err := NewServerConfig(file, true)
	require.NoError(t, err)
	assert.Equal(t, "sesame", sc.DB.Passwd)
	assert.Equal(t, 10*time.Second, sc.DB.Timeout.Duration)
	assert.Equal(t, int64(2), sc.Pack.PackDecodeMemSize)
	assert.Equal(t, int64(2)<<30, sc.Pack.MemSizeBytes())
	assert.True(t, sc.Pack.CleanCacheAfterDecode)
	// cache falls back to defaults when omitted
	require.NotNil(t, sc.Cache)
	assert.Equal(t, int64(20), sc.Cache.MaxCost)

	cfg, err := sc.DB.MakeConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3306", cfg.Addr)
	assert.Equal(t, "mono", cfg.DBName)
}

func TestNewServerConfigDefaultsPack(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mono-serve.toml")
	require.NoError(t, os.WriteFile(file, []byte("[database]\nname = \"mono\"\n"), 0644))

	sc, err := NewServerConfig(file, false)
	require.NoError(t, err)
	require.NotNil(t, sc.Pack)
	assert.Equal(t, int64(4), sc.Pack.PackDecodeMemSize)
}
