package controller

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tgdrive/qdrop/internal/middleware"
	"github.com/tgdrive/qdrop/pkg/httputil"
	"github.com/tgdrive/qdrop/pkg/services"
)

const msgNotFound = "Invalid or expired code. Content not found."

type Options struct {
	// BaseURL overrides the scheme and host taken from requests when
	// building share links.
	BaseURL string
	Limiter *middleware.RateLimiter
}

type Controller struct {
	shares  *services.ShareService
	baseURL string
	limiter *middleware.RateLimiter
}

func New(shares *services.ShareService, opts Options) *Controller {
	return &Controller{
		shares:  shares,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		limiter: opts.Limiter,
	}
}

func (c *Controller) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(c.limiter.Handler).Post("/api/upload", c.Upload)
	r.Get("/api/download", c.Download)
	r.Route("/api/shares/{code}", func(r chi.Router) {
		r.Get("/", c.GetShare)
		r.Get("/bundle", c.GetBundle)
		r.Get("/qr", c.GetQR)
		r.Get("/items/{name}", c.GetItem)
	})
	r.Get("/qr/{code}", c.GetQR)
	r.Get("/s/{code}", c.Open)
	r.Get("/healthz", c.Health)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// base returns the configured public base URL or rebuilds it from the
// request, honouring X-Forwarded-Proto.
func (c *Controller) base(r *http.Request) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath != "" {
		if u, err := url.PathUnescape(v); err == nil {
			return u
		}
	}
	return v
}

func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPayloadTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrSourceRead):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFoundOrExpired), errors.Is(err, services.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrStorageFailure), errors.Is(err, services.ErrExhaustedRetries):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail maps service errors to responses. Unknown and expired codes share
// one message so responses do not reveal whether a code ever existed.
func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if errors.Is(err, services.ErrNotFoundOrExpired) {
		httputil.NewMessage(w, r, status, msgNotFound)
		return
	}
	httputil.NewError(w, r, status, err)
}
