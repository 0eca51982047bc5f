package controller

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/tgdrive/qdrop/internal/category"
	"github.com/tgdrive/qdrop/internal/logging"
	"github.com/tgdrive/qdrop/internal/version"
	"github.com/tgdrive/qdrop/pkg/httputil"
	"github.com/tgdrive/qdrop/pkg/schemas"
)

func qrPath(code string) string {
	return "/qr/" + url.PathEscape(code)
}

func sharePath(code string) string {
	return "/api/shares/" + url.PathEscape(code)
}

// GetShare describes a live share.
func (c *Controller) GetShare(w http.ResponseWriter, r *http.Request) {
	res, err := c.shares.Resolve(r.Context(), shareCode(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	out := &schemas.ShareOut{
		Code:      res.Code,
		Items:     make([]schemas.ShareItem, len(res.Items)),
		TotalSize: res.TotalSize,
		BundleURL: sharePath(res.Code) + "/bundle",
		QRCode:    qrPath(res.Code),
		CreatedAt: res.CreatedAt.UTC(),
		ExpiresAt: res.ExpiresAt.UTC(),
		ExpiresIn: int64(res.ExpiresIn.Seconds()),
	}
	for i, it := range res.Items {
		out.Items[i] = schemas.ShareItem{
			Name:     it.Name,
			Size:     it.Size,
			Category: string(category.GetCategory(it.Name)),
			URL:      sharePath(res.Code) + "/items/" + url.PathEscape(it.Name),
		}
	}
	httputil.JSON(w, http.StatusOK, out)
}

// Download serves the share named by the code query parameter: the item
// itself for single-item shares, a zip otherwise.
func (c *Controller) Download(w http.ResponseWriter, r *http.Request) {
	c.bundle(w, r, r.URL.Query().Get("code"))
}

func (c *Controller) GetBundle(w http.ResponseWriter, r *http.Request) {
	c.bundle(w, r, shareCode(r))
}

func (c *Controller) bundle(w http.ResponseWriter, r *http.Request, code string) {
	d, err := c.shares.FetchBundle(r.Context(), code)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	stream(w, r, d.Name, d.Size, d.Body)
}

func (c *Controller) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := c.shares.FetchItem(r.Context(), shareCode(r), pathParam(r, "name"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	stream(w, r, it.Name, it.Size, it.Body)
}

func (c *Controller) GetQR(w http.ResponseWriter, r *http.Request) {
	png, err := c.shares.FetchQR(r.Context(), shareCode(r), c.base(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Open is the target of scanned QR codes. It sends the browser to the
// download of a live share.
func (c *Controller) Open(w http.ResponseWriter, r *http.Request) {
	res, err := c.shares.Resolve(r.Context(), shareCode(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/api/download?code="+url.QueryEscape(res.Code), http.StatusFound)
}

func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, &schemas.HealthOut{Status: "ok", Version: version.Version})
}

func shareCode(r *http.Request) string {
	return pathParam(r, "code")
}

// stream copies body to the client as an attachment. A negative size means
// the length is unknown and the response is chunked.
func stream(w http.ResponseWriter, r *http.Request, name string, size int64, body io.ReadCloser) {
	defer body.Close()
	h := w.Header()
	h.Set("Content-Type", category.ContentType(name))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if n, err := io.Copy(w, body); err != nil {
		logging.FromContext(r.Context()).Debug("http.stream_aborted",
			zap.String("name", name), zap.Int64("written", n), zap.Error(err))
	}
}
