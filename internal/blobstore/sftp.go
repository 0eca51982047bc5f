package blobstore

import (
	"context"
	"io"
	"os"
	"path"
	"time"

	"github.com/go-faster/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SFTPConfig struct {
	Addr       string
	User       string
	Password   string
	KeyFile    string
	KnownHosts string
	Root       string
	Timeout    time.Duration

	// InsecureIgnoreHostKey must be set explicitly to connect without a
	// known_hosts file.
	InsecureIgnoreHostKey bool
}

// ErrNoHostKeyCheck is returned when neither a known_hosts file nor
// InsecureIgnoreHostKey is configured.
var ErrNoHostKeyCheck = errors.New("sftp: known_hosts file required unless insecure-ignore-host-key is set")

// SFTP keeps containers as directories on a remote host.
type SFTP struct {
	conn   *ssh.Client
	client *sftp.Client
	root   string
	addr   string
}

var _ Store = (*SFTP)(nil)

func NewSFTP(ctx context.Context, cfg SFTPConfig) (*SFTP, error) {
	sshCfg, err := sshClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		conn   *ssh.Client
		client *sftp.Client
	)
	err = withRetry(ctx, func() error {
		c, err := ssh.Dial("tcp", cfg.Addr, sshCfg)
		if err != nil {
			return err
		}
		sc, err := sftp.NewClient(c)
		if err != nil {
			c.Close()
			return err
		}
		conn, client = c, sc
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect sftp %s", cfg.Addr)
	}

	root := cfg.Root
	if root == "" {
		root = "qdrop"
	}
	root = path.Clean(root)
	if err := client.MkdirAll(root); err != nil {
		client.Close()
		conn.Close()
		return nil, errors.Wrapf(err, "create root %s", root)
	}
	return &SFTP{conn: conn, client: client, root: root, addr: cfg.Addr}, nil
}

func newSFTPWithClient(client *sftp.Client, root, addr string) *SFTP {
	return &SFTP{client: client, root: root, addr: addr}
}

func sshClientConfig(cfg SFTPConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read ssh key")
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.Wrap(err, "parse ssh key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sftp: no password or key file configured")
	}

	var hostKey ssh.HostKeyCallback
	switch {
	case cfg.KnownHosts != "":
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, errors.Wrap(err, "load known hosts")
		}
		hostKey = cb
	case cfg.InsecureIgnoreHostKey:
		hostKey = ssh.InsecureIgnoreHostKey()
	default:
		return nil, ErrNoHostKeyCheck
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func (s *SFTP) String() string { return "sftp:" + s.addr }

func (s *SFTP) Close() error {
	err := s.client.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *SFTP) dir(location string) string {
	return path.Join(s.root, location)
}

func (s *SFTP) CreateContainer(ctx context.Context, code string) (string, error) {
	loc, err := NewLocation(code)
	if err != nil {
		return "", err
	}
	if err := s.client.Mkdir(s.dir(loc)); err != nil {
		if _, serr := s.client.Stat(s.dir(loc)); serr == nil {
			return "", errors.Wrapf(ErrExists, "%s", loc)
		}
		return "", errors.Wrapf(err, "create container %s", loc)
	}
	return loc, nil
}

func (s *SFTP) WriteItem(ctx context.Context, location, name string, r io.Reader) (int64, error) {
	name, err := checkRef(location, name)
	if err != nil {
		return 0, err
	}
	if _, err := s.client.Stat(s.dir(location)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, errors.Wrapf(ErrNotFound, "container %s", location)
		}
		return 0, errors.Wrapf(err, "stat container %s", location)
	}
	target := path.Join(s.dir(location), name)
	f, err := s.client.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, errors.Wrapf(ErrNotFound, "container %s", location)
		}
		return 0, errors.Wrapf(err, "create %s", target)
	}
	n, err := f.ReadFrom(r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrapf(err, "write %s", target)
	}
	return n, nil
}

func (s *SFTP) ReadItem(ctx context.Context, location, name string) (io.ReadCloser, error) {
	name, err := checkRef(location, name)
	if err != nil {
		return nil, err
	}
	f, err := s.client.Open(path.Join(s.dir(location), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", location, name)
		}
		return nil, errors.Wrapf(err, "open %s/%s", location, name)
	}
	return f, nil
}

func (s *SFTP) DeleteContainer(ctx context.Context, location string) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	if err := s.client.RemoveAll(s.dir(location)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "remove container %s", location)
	}
	return nil
}

func (s *SFTP) Containers(ctx context.Context) ([]string, error) {
	infos, err := s.client.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list containers")
	}
	var out []string
	for _, fi := range infos {
		if fi.IsDir() && validSegment(fi.Name()) {
			out = append(out, fi.Name())
		}
	}
	return out, nil
}
