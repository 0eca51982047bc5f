package cache

// KeyQR is the rendered QR image of a share link.
func KeyQR(link string) string {
	return Key("qr", link)
}
