package config

import (
	"time"

	"github.com/docker/go-units"
)

type ServerConfig struct {
	Port             int           `koanf:"port" default:"8080" validate:"min=1,max=65535" description:"HTTP listen port"`
	BaseURL          string        `koanf:"base-url" validate:"omitempty,url" description:"Public base URL for share links, derived from each request when empty"`
	ReadTimeout      time.Duration `koanf:"read-timeout" default:"1h" description:"HTTP read timeout"`
	WriteTimeout     time.Duration `koanf:"write-timeout" default:"1h" description:"HTTP write timeout"`
	GracefulShutdown time.Duration `koanf:"graceful-shutdown" default:"10s" description:"Time allowed for in-flight requests on shutdown"`
	UploadRate       float64       `koanf:"upload-rate" default:"1" validate:"min=0" description:"Uploads per second allowed per client, 0 disables the limit"`
	UploadBurst      int           `koanf:"upload-burst" default:"10" validate:"min=1" description:"Upload burst allowed per client"`
}

type LoggingConfig struct {
	Level string `koanf:"level" default:"info" validate:"oneof=debug info warn error" description:"Logging level"`
	File  string `koanf:"file" description:"Log file path, rotated when set"`
}

type ShareConfig struct {
	TTL           time.Duration `koanf:"ttl" default:"5m" validate:"required" description:"Lifetime of a share"`
	MaxSize       ByteSize      `koanf:"max-size" default:"100MiB" validate:"min=1" description:"Maximum total size of one upload"`
	SweepInterval time.Duration `koanf:"sweep-interval" default:"1m" validate:"required" description:"Interval between expiry sweeps"`
	SweepWorkers  int           `koanf:"sweep-workers" default:"4" validate:"min=1" description:"Parallel deletions per sweep"`
}

type RegistryConfig struct {
	Backend       string `koanf:"backend" default:"memory" validate:"oneof=memory bolt redis" description:"Share metadata backend: memory, bolt or redis"`
	BoltPath      string `koanf:"bolt-path" default:"qdrop.db" validate:"required_if=Backend bolt" description:"bbolt database file"`
	RedisAddr     string `koanf:"redis-addr" validate:"required_if=Backend redis" description:"Redis address for the redis backend"`
	RedisPassword string `koanf:"redis-password" description:"Redis password"`
	RedisDB       int    `koanf:"redis-db" default:"0" description:"Redis database number"`
	RedisPrefix   string `koanf:"redis-prefix" default:"qdrop:{shares}:" description:"Key prefix, keep the hash tag for cluster deployments"`
}

type WebDAVConfig struct {
	URL      string `koanf:"url" validate:"omitempty,url" description:"WebDAV server URL"`
	User     string `koanf:"user" description:"WebDAV user"`
	Password string `koanf:"password" description:"WebDAV password"`
	Root     string `koanf:"root" default:"qdrop" description:"Directory on the server holding containers"`
}

type SFTPConfig struct {
	Addr       string `koanf:"addr" description:"SFTP server host:port"`
	User       string `koanf:"user" description:"SSH user"`
	Password   string `koanf:"password" description:"SSH password"`
	KeyFile    string `koanf:"key-file" description:"Private key file"`
	KnownHosts string `koanf:"known-hosts" description:"known_hosts file used to verify the server"`
	Root       string `koanf:"root" default:"qdrop" description:"Directory on the server holding containers"`

	InsecureIgnoreHostKey bool `koanf:"insecure-ignore-host-key" default:"false" description:"Skip server host key verification when no known_hosts file is set"`
}

type BlobConfig struct {
	Backend string        `koanf:"backend" default:"disk" validate:"oneof=disk memory webdav sftp" description:"Blob backend: disk, memory, webdav or sftp"`
	Dir     string        `koanf:"dir" default:"data" validate:"required_if=Backend disk" description:"Data directory for the disk backend"`
	Timeout time.Duration `koanf:"timeout" default:"30s" description:"Remote backend operation timeout"`
	WebDAV  WebDAVConfig  `koanf:"webdav"`
	SFTP    SFTPConfig    `koanf:"sftp"`
}

type CacheConfig struct {
	MaxSize   ByteSize `koanf:"max-size" default:"10MiB" description:"In-memory QR cache size"`
	RedisAddr string   `koanf:"redis-addr" description:"Use redis for the QR cache instead of memory"`
	RedisPass string   `koanf:"redis-pass" description:"Redis password for the QR cache"`
}

type ServerCmdConfig struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LoggingConfig  `koanf:"log"`
	Share    ShareConfig    `koanf:"share"`
	Registry RegistryConfig `koanf:"registry"`
	Blob     BlobConfig     `koanf:"blob"`
	Cache    CacheConfig    `koanf:"cache"`
}

// ByteSize is a size in bytes that accepts human units such as "10MiB".
type ByteSize int64

func (b ByteSize) String() string { return units.BytesSize(float64(b)) }

func (b *ByteSize) Set(s string) error {
	v, err := units.RAMInBytes(s)
	if err != nil {
		return err
	}
	*b = ByteSize(v)
	return nil
}

func (b *ByteSize) Type() string { return "size" }

func (b ByteSize) Int64() int64 { return int64(b) }
