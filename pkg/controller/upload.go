package controller

import (
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/tgdrive/qdrop/pkg/httputil"
	"github.com/tgdrive/qdrop/pkg/schemas"
	"github.com/tgdrive/qdrop/pkg/services"
)

const (
	// formMemory is how much of a multipart body is kept in memory before
	// parts spill to temporary files.
	formMemory = 32 << 20
	// formOverhead leaves room for multipart framing above the byte limit.
	formOverhead = 1 << 20
)

// Upload accepts a multipart form with any number of "file" parts and an
// optional "text" (or "links") field.
func (c *Controller) Upload(w http.ResponseWriter, r *http.Request) {
	if limit := c.shares.MaxSize(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	}
	err := r.ParseMultipartForm(formMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.NewError(w, r, http.StatusRequestEntityTooLarge,
				errors.Wrap(services.ErrPayloadTooLarge, "request body"))
			return
		}
		httputil.NewError(w, r, http.StatusBadRequest, errors.Wrap(err, "invalid form"))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	text := r.FormValue("text")
	if text == "" {
		text = r.FormValue("links")
	}

	var items []services.Upload
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["file"] {
			if fh.Filename == "" {
				continue
			}
			f, err := fh.Open()
			if err != nil {
				httputil.NewError(w, r, http.StatusBadRequest, errors.Wrapf(err, "open part %q", fh.Filename))
				return
			}
			defer func(f multipart.File) { f.Close() }(f)
			items = append(items, services.Upload{Name: fh.Filename, Content: f})
		}
	}

	res, err := c.shares.Upload(r.Context(), &services.UploadRequest{
		Items:   items,
		Text:    strings.TrimSpace(text),
		BaseURL: c.base(r),
	})
	if err != nil {
		c.fail(w, r, err)
		return
	}

	message := schemas.MessageUploaded
	if res.Reused {
		message = schemas.MessageReused
	}
	httputil.JSON(w, http.StatusOK, &schemas.UploadOut{
		Message:     message,
		Code:        res.Code,
		ShareURL:    res.ShareURL,
		DownloadURL: res.DownloadURL,
		QRCode:      qrPath(res.Code),
		Timestamp:   float64(res.CreatedAt.UnixNano()) / 1e9,
		ExpiresIn:   int64(res.ExpiresIn.Seconds()),
		Reused:      res.Reused,
	})
}
