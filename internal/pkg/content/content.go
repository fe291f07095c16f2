// Package content understands the message body format: plain text, or an
// inline image data URI on the first line optionally followed by a newline
// and caption text.
package content

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const imagePrefix = "data:image/"

var (
	ErrEmpty    = errors.New("message content is empty")
	ErrTooLarge = errors.New("message content is too large")
	ErrBadImage = errors.New("embedded image is invalid")
)

type Limits struct {
	MaxContentBytes int
	MaxImageBytes   int
	MaxImagePixels  int
}

func DefaultLimits() Limits {
	return Limits{
		MaxContentBytes: 8 << 20,
		MaxImageBytes:   5 << 20,
		MaxImagePixels:  40_000_000,
	}
}

type Parts struct {
	ImageDataURI string
	Text         string
}

func (p Parts) HasImage() bool {
	return p.ImageDataURI != ""
}

// Parse splits raw into an image and caption when its first line is a
// well-formed base64 image data URI. Anything else, including text that
// merely starts with "data:image/", is plain text.
func Parse(raw string) Parts {
	if !strings.HasPrefix(raw, imagePrefix) {
		return Parts{Text: raw}
	}
	uri, text, _ := strings.Cut(raw, "\n")
	uri = strings.TrimRight(uri, "\r")
	if _, _, ok := splitDataURI(uri); !ok {
		return Parts{Text: raw}
	}
	return Parts{ImageDataURI: uri, Text: text}
}

// Validate accepts content that has non-blank text or an image payload.
// Image formats the server can decode are checked further; other image
// subtypes (svg+xml, avif, tiff, ...) are accepted as uploaded.
func Validate(raw string, limits Limits) error {
	if limits.MaxContentBytes > 0 && len(raw) > limits.MaxContentBytes {
		return ErrTooLarge
	}
	parts := Parse(raw)
	if !parts.HasImage() {
		if strings.TrimSpace(parts.Text) == "" {
			return ErrEmpty
		}
		return nil
	}
	return validateImage(parts.ImageDataURI, limits)
}

func validateImage(uri string, limits Limits) error {
	subtype, payload, ok := splitDataURI(uri)
	if !ok {
		return fmt.Errorf("%w: expected base64 data uri", ErrBadImage)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if limits.MaxImageBytes > 0 && len(data) > limits.MaxImageBytes {
		return ErrTooLarge
	}

	format, decodable := decodableFormat(subtype)
	if !decodable {
		return nil
	}
	cfg, decoded, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if decoded != format {
		return fmt.Errorf("%w: declared %s but decoded %s", ErrBadImage, subtype, decoded)
	}
	if limits.MaxImagePixels > 0 && cfg.Width*cfg.Height > limits.MaxImagePixels {
		return ErrTooLarge
	}
	return nil
}

// splitDataURI matches data:image/<subtype>;base64,<payload> with a
// non-empty payload drawn from the standard base64 alphabet.
func splitDataURI(uri string) (subtype, payload string, ok bool) {
	header, payload, found := strings.Cut(uri, ",")
	if !found || payload == "" || len(payload)%4 != 0 {
		return "", "", false
	}
	subtype, found = strings.CutSuffix(strings.TrimPrefix(header, imagePrefix), ";base64")
	if !found || !validSubtype(subtype) {
		return "", "", false
	}
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/' || c == '=') {
			return "", "", false
		}
	}
	return subtype, payload, true
}

func validSubtype(subtype string) bool {
	if subtype == "" {
		return false
	}
	for i := 0; i < len(subtype); i++ {
		c := subtype[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.IndexByte("+-.", c) >= 0) {
			return false
		}
	}
	return true
}

// decodableFormat maps a declared subtype to the image package format name
// for the decoders registered above.
func decodableFormat(subtype string) (string, bool) {
	switch strings.ToLower(subtype) {
	case "png":
		return "png", true
	case "jpeg", "jpg", "pjpeg":
		return "jpeg", true
	case "gif":
		return "gif", true
	case "webp":
		return "webp", true
	case "bmp", "x-ms-bmp":
		return "bmp", true
	}
	return "", false
}
