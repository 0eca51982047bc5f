// Package linkcodec turns share codes into public links and renders those
// links as QR images.
package linkcodec

import (
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"rsc.io/qr"
)

var ErrInvalidBase = errors.New("invalid base url")

// QRScale is the pixel size of one QR module.
const QRScale = 8

func base(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidBase, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.Wrapf(ErrInvalidBase, "%q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// ShareURL returns <base>/s/<code>.
func ShareURL(baseURL, code string) (string, error) {
	u, err := base(baseURL)
	if err != nil {
		return "", err
	}
	return u.JoinPath("s", code).String(), nil
}

// DownloadURL returns <base>/api/download?code=<code>.
func DownloadURL(baseURL, code string) (string, error) {
	u, err := base(baseURL)
	if err != nil {
		return "", err
	}
	u = u.JoinPath("api", "download")
	u.RawQuery = url.Values{"code": {code}}.Encode()
	return u.String(), nil
}

// QR renders link as a PNG at error correction level M.
func QR(link string) ([]byte, error) {
	if link == "" {
		return nil, errors.New("qr: empty link")
	}
	c, err := qr.Encode(link, qr.M)
	if err != nil {
		return nil, errors.Wrap(err, "qr encode")
	}
	c.Scale = QRScale
	return c.PNG(), nil
}
