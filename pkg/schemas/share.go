package schemas

import "time"

const (
	MessageUploaded = "Content uploaded successfully."
	MessageReused   = "Content already uploaded. Reusing code."
)

type UploadOut struct {
	Message     string `json:"message"`
	Code        string `json:"code"`
	ShareURL    string `json:"share_url"`
	DownloadURL string `json:"download_url"`
	QRCode      string `json:"qr_code"`
	// Timestamp is the creation time in unix seconds.
	Timestamp float64 `json:"timestamp"`
	// ExpiresIn is the remaining lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
	Reused    bool  `json:"reused"`
}

type ShareItem struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Category string `json:"category"`
	URL      string `json:"url"`
}

type ShareOut struct {
	Code      string      `json:"code"`
	Items     []ShareItem `json:"items"`
	TotalSize int64       `json:"total_size"`
	BundleURL string      `json:"bundle_url"`
	QRCode    string      `json:"qr_code"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	ExpiresIn int64       `json:"expires_in"`
}

type HealthOut struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
