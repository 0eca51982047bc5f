package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/tgdrive/qdrop/internal/blobstore"
	"github.com/tgdrive/qdrop/internal/bundle"
	"github.com/tgdrive/qdrop/internal/cache"
	"github.com/tgdrive/qdrop/internal/hash"
	"github.com/tgdrive/qdrop/internal/linkcodec"
	"github.com/tgdrive/qdrop/internal/registry"
	"github.com/tgdrive/qdrop/pkg/models"
)

const (
	// TextItemName is the item synthesized from pasted text.
	TextItemName = "text.txt"
	// QRRef is the storage ref of the QR artifact kept next to the items.
	QRRef = "qr.png"

	putAttempts = 3
)

type Upload struct {
	Name    string
	Content io.Reader
}

type UploadRequest struct {
	Items   []Upload
	Text    string
	BaseURL string
}

type UploadResult struct {
	Code        string
	ShareURL    string
	DownloadURL string
	QR          []byte
	ExpiresIn   time.Duration
	CreatedAt   time.Time
	Reused      bool
}

type ItemInfo struct {
	Name string
	Size int64
}

type Resolved struct {
	Code      string
	Items     []ItemInfo
	TotalSize int64
	CreatedAt time.Time
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

type Item struct {
	Name string
	Size int64
	Body io.ReadCloser
}

// Download is what the download endpoints stream. Size is -1 for bundles
// assembled on the fly.
type Download struct {
	Name string
	Size int64
	Body io.ReadCloser
}

type Options struct {
	// MaxSize caps the total bytes of one upload. Zero means no limit.
	MaxSize int64
	Cache   cache.Cacher
	Logger  *zap.Logger
}

type ShareService struct {
	registry *registry.Registry
	store    blobstore.Store
	cache    cache.Cacher
	maxSize  int64
	logger   *zap.Logger
}

func NewShareService(reg *registry.Registry, store blobstore.Store, opts Options) *ShareService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShareService{
		registry: reg,
		store:    store,
		cache:    opts.Cache,
		maxSize:  opts.MaxSize,
		logger:   logger.Named("share"),
	}
}

func (s *ShareService) TTL() time.Duration { return s.registry.TTL() }

func (s *ShareService) MaxSize() int64 { return s.maxSize }

type staged struct {
	name    string
	content io.Reader
}

func prepare(req *UploadRequest) ([]staged, error) {
	uploads := req.Items
	if req.Text != "" {
		uploads = append(uploads[:len(uploads):len(uploads)], Upload{Name: TextItemName, Content: strings.NewReader(req.Text)})
	}
	if len(uploads) == 0 {
		return nil, invalid("nothing to share")
	}

	names := bundle.NewNamer()
	out := make([]staged, 0, len(uploads))
	for _, u := range uploads {
		if u.Content == nil {
			return nil, invalid("item %q has no content", u.Name)
		}
		name, err := blobstore.SanitizeName(u.Name)
		if err != nil {
			return nil, invalid("item name %q", u.Name)
		}
		out = append(out, staged{name: names.Unique(name), content: u.Content})
	}
	return out, nil
}

// sourceReader remembers the first error of the caller's reader so it can
// be told apart from storage errors.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

// Upload stores the request as a new share, or returns the live share that
// already holds the same content.
func (s *ShareService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if _, err := linkcodec.ShareURL(req.BaseURL, "x"); err != nil {
		return nil, invalid("base url %q", req.BaseURL)
	}
	items, err := prepare(req)
	if err != nil {
		return nil, err
	}

	code, err := s.registry.ReserveCode(ctx)
	if err != nil {
		if errors.Is(err, registry.ErrExhaustedRetries) {
			return nil, errors.Wrap(err, "reserve code")
		}
		return nil, storage("reserve code", err)
	}
	reserved := []string{code}
	defer func() {
		for _, c := range reserved {
			s.registry.Release(c)
		}
	}()

	loc, err := s.store.CreateContainer(ctx, code)
	if err != nil {
		return nil, storage("create container", err)
	}
	committed := false
	defer func() {
		if !committed {
			s.discard(ctx, loc)
		}
	}()

	share := &models.Share{Code: code, StorageLocation: loc}
	var fp *hash.Fingerprinter
	if len(items) == 1 {
		fp = hash.New()
	}

	remaining := s.maxSize
	for i, it := range items {
		src := &sourceReader{r: it.content}
		var r io.Reader = src
		if fp != nil {
			r = io.TeeReader(r, fp)
		}
		if s.maxSize > 0 {
			r = io.LimitReader(r, remaining+1)
		}

		// Refs are positional; display names only live in the metadata.
		ref := fmt.Sprintf("item-%03d", i)
		n, err := s.store.WriteItem(ctx, loc, ref, r)
		switch {
		case src.err != nil:
			return nil, sourceFailed(it.name, src.err)
		case err != nil:
			return nil, storage("write item", err)
		case s.maxSize > 0 && n > remaining:
			uploadsTotal.WithLabelValues("too_large").Inc()
			return nil, errors.Wrapf(ErrPayloadTooLarge, "limit %d bytes", s.maxSize)
		}
		remaining -= n
		uploadBytes.Add(float64(n))
		share.Items = append(share.Items, models.Item{Name: it.name, Size: n, StorageRef: ref})
	}

	if fp != nil {
		share.Fingerprint = fp.Sum()
		if winner, err := s.registry.LookupByFingerprint(ctx, share.Fingerprint); err == nil {
			if res, err := s.reuse(ctx, winner, req.BaseURL); err == nil {
				return res, nil
			}
		}
	}

	shareURL, _ := linkcodec.ShareURL(req.BaseURL, code)
	qr, err := linkcodec.QR(shareURL)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.WriteItem(ctx, loc, QRRef, bytes.NewReader(qr)); err != nil {
		return nil, storage("write qr", err)
	}
	share.ShareURL = shareURL
	share.QRRef = QRRef

	for range putAttempts {
		share.CreatedAt = s.registry.Now()
		err = s.registry.Put(ctx, share)

		var dup *registry.DuplicateError
		switch {
		case err == nil:
			committed = true
			uploadsTotal.WithLabelValues("created").Inc()
			s.logger.Info("share.created",
				zap.String("code", share.Code),
				zap.Int("items", len(share.Items)),
				zap.Int64("bytes", share.TotalSize()))
			return s.result(share, req.BaseURL, qr, false)
		case errors.As(err, &dup):
			res, rerr := s.reuse(ctx, dup.Code, req.BaseURL)
			if rerr == nil {
				return res, nil
			}
			if !errors.Is(rerr, ErrNotFoundOrExpired) {
				return nil, rerr
			}
			// The winner expired in between; its index row is stale now.
		case errors.Is(err, registry.ErrCodeTaken):
			next, rerr := s.registry.ReserveCode(ctx)
			if rerr != nil {
				return nil, storage("reserve code", rerr)
			}
			reserved = append(reserved, next)
			share.Code = next
			share.ShareURL, _ = linkcodec.ShareURL(req.BaseURL, next)
			if qr, err = linkcodec.QR(share.ShareURL); err != nil {
				return nil, err
			}
			if _, err := s.store.WriteItem(ctx, loc, QRRef, bytes.NewReader(qr)); err != nil {
				return nil, storage("write qr", err)
			}
		default:
			return nil, storage("register share", err)
		}
	}
	return nil, storage("register share", err)
}

// discard removes a staged container that never became a share.
func (s *ShareService) discard(ctx context.Context, loc string) {
	if err := s.store.DeleteContainer(context.WithoutCancel(ctx), loc); err != nil {
		s.logger.Warn("share.discard_failed", zap.String("location", loc), zap.Error(err))
	}
}

func (s *ShareService) reuse(ctx context.Context, code, baseURL string) (*UploadResult, error) {
	share, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	qr, err := s.qr(ctx, share, baseURL)
	if err != nil {
		return nil, err
	}
	uploadsTotal.WithLabelValues("reused").Inc()
	s.logger.Info("share.dedup_hit", zap.String("code", code))
	return s.result(share, baseURL, qr, true)
}

func (s *ShareService) result(share *models.Share, baseURL string, qr []byte, reused bool) (*UploadResult, error) {
	shareURL, err := linkcodec.ShareURL(baseURL, share.Code)
	if err != nil {
		return nil, invalid("base url %q", baseURL)
	}
	downloadURL, err := linkcodec.DownloadURL(baseURL, share.Code)
	if err != nil {
		return nil, invalid("base url %q", baseURL)
	}
	expiresIn := share.ExpiresAt(s.registry.TTL()).Sub(s.registry.Now())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &UploadResult{
		Code:        share.Code,
		ShareURL:    shareURL,
		DownloadURL: downloadURL,
		QR:          qr,
		ExpiresIn:   expiresIn,
		CreatedAt:   share.CreatedAt,
		Reused:      reused,
	}, nil
}

func (s *ShareService) lookup(ctx context.Context, code string) (*models.Share, error) {
	share, err := s.registry.LookupByCode(ctx, code)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return nil, errors.Wrapf(ErrNotFoundOrExpired, "code %q", code)
	case err != nil:
		return nil, storage("lookup share", err)
	}
	return share, nil
}

// Resolve describes a live share without touching its bytes.
func (s *ShareService) Resolve(ctx context.Context, code string) (*Resolved, error) {
	share, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	res := &Resolved{
		Code:      share.Code,
		Items:     make([]ItemInfo, len(share.Items)),
		TotalSize: share.TotalSize(),
		CreatedAt: share.CreatedAt,
		ExpiresAt: share.ExpiresAt(s.registry.TTL()),
	}
	res.ExpiresIn = max(res.ExpiresAt.Sub(s.registry.Now()), 0)
	for i, it := range share.Items {
		res.Items[i] = ItemInfo{Name: it.Name, Size: it.Size}
	}
	return res, nil
}

func (s *ShareService) open(ctx context.Context, share *models.Share, it models.Item) (io.ReadCloser, error) {
	rc, err := s.store.ReadItem(ctx, share.StorageLocation, it.StorageRef)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		// bytes go first on deletion, the metadata follows shortly
		return nil, errors.Wrapf(ErrNotFoundOrExpired, "code %q", share.Code)
	case err != nil:
		return nil, storage("read item", err)
	}
	return rc, nil
}

// FetchItem opens one item of a share by its display name.
func (s *ShareService) FetchItem(ctx context.Context, code, name string) (*Item, error) {
	share, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	it, ok := share.Item(name)
	if !ok {
		return nil, errors.Wrapf(ErrItemNotFound, "%q", name)
	}
	rc, err := s.open(ctx, share, it)
	if err != nil {
		return nil, err
	}
	return &Item{Name: it.Name, Size: it.Size, Body: rc}, nil
}

// FetchBundle returns the single item of a share as is, or every item
// zipped into <code>.zip.
func (s *ShareService) FetchBundle(ctx context.Context, code string) (*Download, error) {
	share, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(share.Items) == 1 {
		it := share.Items[0]
		rc, err := s.open(ctx, share, it)
		if err != nil {
			return nil, err
		}
		return &Download{Name: it.Name, Size: it.Size, Body: rc}, nil
	}

	// Open everything up front so a share deleted mid-request fails before
	// any byte of the archive is sent.
	sources := make([]bundle.Source, 0, len(share.Items))
	closers := make([]io.Closer, 0, len(share.Items))
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}
	for _, it := range share.Items {
		rc, err := s.open(ctx, share, it)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, rc)
		sources = append(sources, bundle.Source{Name: it.Name, Modified: share.CreatedAt, Body: rc})
	}

	pr, pw := io.Pipe()
	go func() {
		defer closeAll()
		if err := bundle.Write(pw, sources); err != nil {
			s.logger.Debug("share.bundle_aborted", zap.String("code", code), zap.Error(err))
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return &Download{Name: bundle.Name(share.Code), Size: -1, Body: pr}, nil
}

// FetchQR returns the PNG QR code of the share link for baseURL.
func (s *ShareService) FetchQR(ctx context.Context, code, baseURL string) ([]byte, error) {
	share, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.qr(ctx, share, baseURL)
}

func (s *ShareService) qr(ctx context.Context, share *models.Share, baseURL string) ([]byte, error) {
	link, err := linkcodec.ShareURL(baseURL, share.Code)
	if err != nil {
		return nil, invalid("base url %q", baseURL)
	}

	if link == share.ShareURL && share.QRRef != "" {
		rc, err := s.store.ReadItem(ctx, share.StorageLocation, share.QRRef)
		if err == nil {
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return nil, storage("read qr", err)
			}
			return data, nil
		}
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFoundOrExpired, "code %q", share.Code)
		}
		s.logger.Warn("share.qr_artifact_unreadable", zap.String("code", share.Code), zap.Error(err))
	}

	if s.cache == nil {
		return linkcodec.QR(link)
	}
	ttl := share.ExpiresAt(s.registry.TTL()).Sub(s.registry.Now())
	return cache.Fetch(s.cache, cache.KeyQR(link), ttl, func() ([]byte, error) {
		return linkcodec.QR(link)
	})
}
