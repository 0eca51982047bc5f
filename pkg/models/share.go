package models

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Share is the metadata record of one upload. Bytes live in the blob store
// under StorageLocation; the registry only ever holds this record.
type Share struct {
	Code            string    `msgpack:"code"`
	CreatedAt       time.Time `msgpack:"created_at"`
	Fingerprint     string    `msgpack:"fingerprint,omitempty"`
	Items           []Item    `msgpack:"items"`
	StorageLocation string    `msgpack:"storage_location"`
	ShareURL        string    `msgpack:"share_url,omitempty"`
	QRRef           string    `msgpack:"qr_ref,omitempty"`
}

type Item struct {
	Name       string `msgpack:"name"`
	Size       int64  `msgpack:"size"`
	StorageRef string `msgpack:"storage_ref"`
}

func (s *Share) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// Expired reports whether the share is past its TTL at now. A share is
// readable strictly before CreatedAt+ttl.
func (s *Share) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(s.ExpiresAt(ttl))
}

func (s *Share) TotalSize() int64 {
	var n int64
	for _, it := range s.Items {
		n += it.Size
	}
	return n
}

func (s *Share) Item(name string) (Item, bool) {
	for _, it := range s.Items {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

func (s *Share) Validate() error {
	switch {
	case s.Code == "":
		return errors.New("share: empty code")
	case s.StorageLocation == "":
		return errors.New("share: empty storage location")
	case len(s.Items) == 0:
		return errors.New("share: no items")
	case s.CreatedAt.IsZero():
		return errors.New("share: zero creation time")
	}
	for _, it := range s.Items {
		if it.Name == "" || it.StorageRef == "" {
			return errors.Errorf("share %s: item with empty name or ref", s.Code)
		}
	}
	return nil
}

func (s *Share) Marshal() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(s)
}

func UnmarshalShare(data []byte) (*Share, error) {
	var s Share
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode share")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
