package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tgdrive/qdrop/pkg/models"
)

// Memory keeps shares in process. One lock guards both maps so readers
// never see a share without its index row or the other way round.
type Memory struct {
	mu     sync.RWMutex
	shares map[string]*models.Share
	byFP   map[string]string
}

var _ Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		shares: make(map[string]*models.Share),
		byFP:   make(map[string]string),
	}
}

func (m *Memory) Get(_ context.Context, code string) (*models.Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shares[code]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Memory) CodeFor(_ context.Context, fingerprint string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.byFP[fingerprint]
	if !ok {
		return "", ErrNotFound
	}
	return code, nil
}

func (m *Memory) Insert(_ context.Context, s *models.Share, liveAfter time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shares[s.Code]; ok {
		return ErrCodeTaken
	}
	if s.Fingerprint != "" {
		if owner, ok := m.byFP[s.Fingerprint]; ok {
			if cur, ok := m.shares[owner]; ok && cur.CreatedAt.After(liveAfter) {
				return &DuplicateError{Code: owner}
			}
		}
		m.byFP[s.Fingerprint] = s.Code
	}
	m.shares[s.Code] = clone(s)
	return nil
}

func (m *Memory) Delete(_ context.Context, code, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shares[code]
	if !ok || location != "" && s.StorageLocation != location {
		return nil
	}
	if s.Fingerprint != "" && m.byFP[s.Fingerprint] == code {
		delete(m.byFP, s.Fingerprint)
	}
	delete(m.shares, code)
	return nil
}

func (m *Memory) List(_ context.Context) ([]*models.Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Share, 0, len(m.shares))
	for _, s := range m.shares {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// IndexSize returns the number of fingerprint rows.
func (m *Memory) IndexSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byFP)
}

func (m *Memory) Close() error { return nil }

func clone(s *models.Share) *models.Share {
	c := *s
	c.Items = append([]models.Item(nil), s.Items...)
	return &c
}
