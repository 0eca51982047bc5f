package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand(t *testing.T, loader *Loader, content, ext string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, loader.RegisterFlags(cmd.Flags(), "", ServerCmdConfig{}, false))

	configPath := filepath.Join(t.TempDir(), "config"+ext)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	require.NoError(t, cmd.Flags().Set("config", configPath))
	return cmd
}

func TestConfigLoader_LoadDefaults(t *testing.T) {
	loader := NewConfigLoader()
	var cfg ServerCmdConfig
	cmd := newCommand(t, loader, "", ".toml")

	require.NoError(t, loader.Load(cmd, &cfg))

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "", cfg.Server.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Server.GracefulShutdown)
	assert.Equal(t, time.Hour, cfg.Server.ReadTimeout)
	assert.Equal(t, float64(1), cfg.Server.UploadRate)
	assert.Equal(t, 10, cfg.Server.UploadBurst)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Share.TTL)
	assert.Equal(t, ByteSize(100<<20), cfg.Share.MaxSize)
	assert.Equal(t, time.Minute, cfg.Share.SweepInterval)
	assert.Equal(t, 4, cfg.Share.SweepWorkers)
	assert.Equal(t, "memory", cfg.Registry.Backend)
	assert.Equal(t, "qdrop:{shares}:", cfg.Registry.RedisPrefix)
	assert.Equal(t, "disk", cfg.Blob.Backend)
	assert.Equal(t, "data", cfg.Blob.Dir)
	assert.Equal(t, "qdrop", cfg.Blob.WebDAV.Root)
	assert.Equal(t, "qdrop", cfg.Blob.SFTP.Root)
	assert.Equal(t, ByteSize(10<<20), cfg.Cache.MaxSize)

	require.NoError(t, loader.Validate())
}

func TestConfigLoader_LoadFromConfigFile(t *testing.T) {
	loader := NewConfigLoader()
	var cfg ServerCmdConfig
	cmd := newCommand(t, loader, `
[server]
port = 9000
graceful-shutdown = "20s"
base-url = "https://drop.example"

[log]
level = "debug"

[share]
ttl = "10m"
max-size = "1GiB"

[registry]
backend = "bolt"
bolt-path = "/var/lib/qdrop/registry.db"

[blob.sftp]
addr = "files:22"
`, ".toml")

	require.NoError(t, loader.Load(cmd, &cfg))

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.GracefulShutdown)
	assert.Equal(t, "https://drop.example", cfg.Server.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10*time.Minute, cfg.Share.TTL)
	assert.Equal(t, ByteSize(1<<30), cfg.Share.MaxSize)
	assert.Equal(t, "bolt", cfg.Registry.Backend)
	assert.Equal(t, "/var/lib/qdrop/registry.db", cfg.Registry.BoltPath)
	assert.Equal(t, "files:22", cfg.Blob.SFTP.Addr)

	// untouched values keep their defaults
	assert.Equal(t, time.Hour, cfg.Server.WriteTimeout)
	assert.Equal(t, 4, cfg.Share.SweepWorkers)
}

func TestConfigLoader_LoadFromYAMLConfigFile(t *testing.T) {
	loader := NewConfigLoader()
	var cfg ServerCmdConfig
	cmd := newCommand(t, loader, `
server:
  port: 9000
share:
  ttl: "1d"
  sweep-workers: 8
blob:
  backend: webdav
  webdav:
    url: "http://dav.local/remote.php"
    user: alice
`, ".yaml")

	require.NoError(t, loader.Load(cmd, &cfg))

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Share.TTL)
	assert.Equal(t, 8, cfg.Share.SweepWorkers)
	assert.Equal(t, "webdav", cfg.Blob.Backend)
	assert.Equal(t, "http://dav.local/remote.php", cfg.Blob.WebDAV.URL)
	assert.Equal(t, "alice", cfg.Blob.WebDAV.User)
	assert.Equal(t, "qdrop", cfg.Blob.WebDAV.Root)
}

func TestConfigLoader_CommandLineFlags(t *testing.T) {
	loader := NewConfigLoader()
	var cfg ServerCmdConfig
	cmd := newCommand(t, loader, "[server]\nport = 9000\n", ".toml")

	require.NoError(t, cmd.Flags().Set("server-port", "9999"))
	require.NoError(t, cmd.Flags().Set("log-level", "warn"))
	require.NoError(t, cmd.Flags().Set("share-ttl", "90s"))
	require.NoError(t, cmd.Flags().Set("share-max-size", "5MiB"))
	require.NoError(t, cmd.Flags().Set("cache-max-size", "31457280"))

	require.NoError(t, loader.Load(cmd, &cfg))

	assert.Equal(t, 9999, cfg.Server.Port, "flags win over the config file")
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Share.TTL)
	assert.Equal(t, ByteSize(5<<20), cfg.Share.MaxSize)
	assert.Equal(t, ByteSize(31457280), cfg.Cache.MaxSize)
}

func TestConfigLoader_Env(t *testing.T) {
	loader := NewConfigLoader()
	var cfg ServerCmdConfig
	cmd := newCommand(t, loader, "[share]\nttl = \"10m\"\n", ".toml")

	t.Setenv("QDROP_SHARE_TTL", "2m")
	t.Setenv("QDROP_REGISTRY_REDIS_ADDR", "localhost:6379")
	t.Setenv("QDROP_SERVER_PORT", "7000")
	t.Setenv("QDROP_UNKNOWN_THING", "x")
	require.NoError(t, cmd.Flags().Set("server-port", "7001"))

	require.NoError(t, loader.Load(cmd, &cfg))

	assert.Equal(t, 2*time.Minute, cfg.Share.TTL, "env wins over the config file")
	assert.Equal(t, "localhost:6379", cfg.Registry.RedisAddr)
	assert.Equal(t, 7001, cfg.Server.Port, "flags win over env")
}

func TestConfigLoader_RequiredFields(t *testing.T) {
	loader := NewConfigLoader()
	var cfg ServerCmdConfig
	cmd := newCommand(t, loader, "[registry]\nbackend = \"redis\"\n", ".toml")

	require.NoError(t, loader.Load(cmd, &cfg))

	err := loader.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required configuration values not set")
	assert.Contains(t, err.Error(), "registry.redis-addr")
}

func TestConfigLoader_InvalidValues(t *testing.T) {
	loader := NewConfigLoader()
	var cfg ServerCmdConfig
	cmd := newCommand(t, loader, `
[log]
level = "loud"

[blob]
backend = "s3"
`, ".toml")

	require.NoError(t, loader.Load(cmd, &cfg))

	err := loader.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "blob.backend")
}

func TestConfigLoader_MissingConfigFile(t *testing.T) {
	loader := NewConfigLoader()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, loader.RegisterFlags(cmd.Flags(), "", ServerCmdConfig{}, false))
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "nope.toml")))

	var cfg ServerCmdConfig
	assert.Error(t, loader.Load(cmd, &cfg))
}

func TestConfigLoader_FlagDefaults(t *testing.T) {
	loader := NewConfigLoader()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, loader.RegisterFlags(cmd.Flags(), "", ServerCmdConfig{}, false))

	tests := map[string]string{
		"server-port":                        "8080",
		"log-level":                          "info",
		"share-ttl":                          "5m0s",
		"share-max-size":                     "100MiB",
		"share-sweep-workers":                "4",
		"registry-backend":                   "memory",
		"blob-webdav-root":                   "qdrop",
		"blob-sftp-key-file":                 "",
		"blob-sftp-insecure-ignore-host-key": "false",
		"server-upload-rate":                 "1",
	}
	for name, want := range tests {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, want, f.DefValue, name)
	}
}

func TestConfigLoader_Keys(t *testing.T) {
	loader := NewConfigLoader()
	require.NoError(t, loader.RegisterFlags((&cobra.Command{}).Flags(), "", ServerCmdConfig{}, true))
	keys := loader.Keys()
	assert.Equal(t, "QDROP_SHARE_MAX_SIZE", keys["share.max-size"])
	assert.Equal(t, "QDROP_BLOB_SFTP_KNOWN_HOSTS", keys["blob.sftp.known-hosts"])
}

func TestByteSize(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.Set("1.5KiB"))
	assert.Equal(t, ByteSize(1536), b)
	assert.Equal(t, "1.5KiB", b.String())
	assert.Error(t, b.Set("lots"))
}
