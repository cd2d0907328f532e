// Package imaging checks uploaded image bytes before they enter the pipeline.
package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	_ "golang.org/x/image/webp"

	"photoenhance/internal/domain"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
)

// Limits bounds accepted upload sizes.
type Limits struct {
	MinBytes int64
	MaxBytes int64
}

// DefaultLimits accepts files between 1 KiB and 10 MiB.
var DefaultLimits = Limits{MinBytes: 1 << 10, MaxBytes: 10 << 20}

// Info describes a validated image.
type Info struct {
	MIME     string
	Ext      string
	Width    int
	Height   int
	Bytes    int64
	Checksum string
}

var extensions = map[string]string{
	MIMEJPEG: ".jpg",
	MIMEPNG:  ".png",
	MIMEWebP: ".webp",
}

var formats = map[string]string{
	"jpeg": MIMEJPEG,
	"png":  MIMEPNG,
	"webp": MIMEWebP,
}

// Validate sniffs and decodes the header of data. Only JPEG, PNG and WebP
// within limits are accepted; everything else is an INVALID_FILE error.
func Validate(data []byte, limits Limits) (Info, error) {
	size := int64(len(data))
	if limits.MinBytes > 0 && size < limits.MinBytes {
		return Info{}, domain.Errorf(domain.CodeInvalidFile, "file is too small (%d bytes, minimum %d)", size, limits.MinBytes)
	}
	if limits.MaxBytes > 0 && size > limits.MaxBytes {
		return Info{}, domain.Errorf(domain.CodeInvalidFile, "file is too large (%d bytes, maximum %d)", size, limits.MaxBytes)
	}
	sniffed := http.DetectContentType(data)
	ext, ok := extensions[sniffed]
	if !ok {
		return Info{}, domain.Errorf(domain.CodeInvalidFile, "unsupported file type %s", sniffed)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, domain.NewError(domain.CodeInvalidFile, "file is not a readable image", err)
	}
	if formats[format] != sniffed {
		return Info{}, domain.Errorf(domain.CodeInvalidFile, "image content %s does not match type %s", format, sniffed)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, domain.Errorf(domain.CodeInvalidFile, "image has no pixels")
	}
	return Info{
		MIME:     sniffed,
		Ext:      ext,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Bytes:    size,
		Checksum: Checksum(data),
	}, nil
}

// Checksum returns the hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ExtensionFor maps a MIME type to a file extension.
func ExtensionFor(mime string) string {
	if ext, ok := extensions[mime]; ok {
		return ext
	}
	return ".bin"
}

// Describe renders dimensions for logs.
func (i Info) Describe() string {
	return fmt.Sprintf("%s %dx%d %dB", i.MIME, i.Width, i.Height, i.Bytes)
}
