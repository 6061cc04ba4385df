package imagepipeline

import (
	"bytes"
	"strings"
)

// sniffLimit is how many leading bytes are needed to classify any supported
// format. SVG detection scans this whole window for the opening tag.
const sniffLimit = 512

// SniffContentType identifies the true media type of an image payload from
// its leading bytes. The result overrides any server-declared content type;
// origins are not trusted to label payloads correctly. Returns "" when the
// payload matches no supported format.
func SniffContentType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case isWebP(data):
		return "image/webp"
	case isAVIF(data):
		return "image/avif"
	case isSVG(data):
		return "image/svg+xml"
	}
	return ""
}

// IsImageContentType reports whether a declared content type names an image.
// Used as the fallback check when sniffing cannot classify the payload.
func IsImageContentType(declared string) bool {
	mediaType := strings.TrimSpace(strings.ToLower(declared))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return strings.HasPrefix(mediaType, "image/")
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		bytes.HasPrefix(data, []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP"))
}

// isAVIF matches the ISO-BMFF ftyp box with an AVIF brand.
func isAVIF(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	brand := string(data[8:12])
	return brand == "avif" || brand == "avis"
}

// isSVG is a textual sniff: an XML or svg opening tag within the sniff
// window, tolerating a leading UTF-8 BOM, declarations and comments.
func isSVG(data []byte) bool {
	window := data
	if len(window) > sniffLimit {
		window = window[:sniffLimit]
	}
	text := strings.TrimLeft(string(bytes.TrimPrefix(window, []byte{0xEF, 0xBB, 0xBF})), " \t\r\n")
	if strings.HasPrefix(text, "<svg") {
		return true
	}
	return strings.HasPrefix(text, "<?xml") && strings.Contains(text, "<svg")
}
