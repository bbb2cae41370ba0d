package media

import "bytes"

// Accepted raster input types. The generation provider works on PNG
// internally; other types are re-encoded during normalization when the
// decoder supports them, and passed through unchanged otherwise.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMEWebP = "image/webp"
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

// Sniff inspects the leading bytes of an upload and returns the detected
// MIME type. It trusts file content over the declared Content-Type header.
func Sniff(head []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(head, pngMagic):
		return MIMEPNG, true
	case bytes.HasPrefix(head, jpegMagic):
		return MIMEJPEG, true
	case len(head) >= 12 && bytes.HasPrefix(head, riffMagic) && bytes.Equal(head[8:12], webpMagic):
		return MIMEWebP, true
	}
	return "", false
}
