package registry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"github.com/tgdrive/qdrop/pkg/models"
)

var (
	sharesBucket = []byte("shares")
	fpBucket     = []byte("fingerprints")
)

// Bolt keeps shares in a bbolt file. Both buckets change inside one
// transaction.
type Bolt struct {
	db *bbolt.DB
}

var _ Backend = (*Bolt)(nil)

func NewBolt(path string, timeout time.Duration) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrapf(err, "create registry dir %s", dir)
		}
	}
	if timeout == 0 {
		timeout = time.Second
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt registry")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sharesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(fpBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(_ context.Context, code string) (*models.Share, error) {
	var s *models.Share
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(sharesBucket).Get([]byte(code))
		if data == nil {
			return ErrNotFound
		}
		var err error
		s, err = models.UnmarshalShare(data)
		return err
	})
	return s, err
}

func (b *Bolt) CodeFor(_ context.Context, fingerprint string) (string, error) {
	var code string
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(fpBucket).Get([]byte(fingerprint))
		if v == nil {
			return ErrNotFound
		}
		code = string(v)
		return nil
	})
	return code, err
}

func (b *Bolt) Insert(_ context.Context, s *models.Share, liveAfter time.Time) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		shares, fps := tx.Bucket(sharesBucket), tx.Bucket(fpBucket)
		if shares.Get([]byte(s.Code)) != nil {
			return ErrCodeTaken
		}
		if s.Fingerprint != "" {
			if owner := fps.Get([]byte(s.Fingerprint)); owner != nil {
				if raw := shares.Get(owner); raw != nil {
					cur, err := models.UnmarshalShare(raw)
					if err != nil {
						return err
					}
					if cur.CreatedAt.After(liveAfter) {
						return &DuplicateError{Code: cur.Code}
					}
				}
			}
			if err := fps.Put([]byte(s.Fingerprint), []byte(s.Code)); err != nil {
				return err
			}
		}
		return shares.Put([]byte(s.Code), data)
	})
}

func (b *Bolt) Delete(_ context.Context, code, location string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		shares, fps := tx.Bucket(sharesBucket), tx.Bucket(fpBucket)
		raw := shares.Get([]byte(code))
		if raw == nil {
			return nil
		}
		s, err := models.UnmarshalShare(raw)
		if err == nil && location != "" && s.StorageLocation != location {
			return nil
		}
		if err == nil && s.Fingerprint != "" {
			if owner := fps.Get([]byte(s.Fingerprint)); bytes.Equal(owner, []byte(code)) {
				if err := fps.Delete([]byte(s.Fingerprint)); err != nil {
					return err
				}
			}
		}
		return shares.Delete([]byte(code))
	})
}

func (b *Bolt) List(_ context.Context) ([]*models.Share, error) {
	var out []*models.Share
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(sharesBucket).ForEach(func(_, v []byte) error {
			s, err := models.UnmarshalShare(v)
			if err != nil {
				return err
			}
			out = append(out, s)
			return nil
		})
	})
	return out, err
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
