package media

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/hrygo/crewmux/chat"
)

// MaxImageDimension is the longest side an uploaded image may have.
// Chat clients downscale anyway; shrinking before upload keeps transfers
// fast on big screenshots.
const MaxImageDimension = 2560

// PrepareImage reads an outbound image and downscales it when oversized.
// GIFs and undecodable files pass through untouched; the platform is the
// final judge of what it accepts.
func PrepareImage(path string) (chat.OutgoingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.OutgoingFile{}, errors.Wrapf(err, "read image %s", path)
	}
	name := filepath.Base(path)

	if strings.EqualFold(filepath.Ext(path), ".gif") {
		// Re-encoding would drop animation frames.
		return chat.OutgoingFile{Name: name, Data: data}, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		slog.Debug("media: image not decodable, sending as-is", "path", path, "error", err)
		return chat.OutgoingFile{Name: name, Data: data}, nil
	}

	bounds := img.Bounds()
	if bounds.Dx() <= MaxImageDimension && bounds.Dy() <= MaxImageDimension {
		return chat.OutgoingFile{Name: name, Data: data}, nil
	}

	resized := imaging.Fit(img, MaxImageDimension, MaxImageDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		slog.Warn("media: downscale encode failed, sending original", "path", path, "error", err)
		return chat.OutgoingFile{Name: name, Data: data}, nil
	}

	slog.Debug("media: image downscaled",
		"path", path,
		"from", bounds.Size(),
		"bytes_before", len(data),
		"bytes_after", buf.Len(),
	)
	jpegName := strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	return chat.OutgoingFile{Name: jpegName, Data: buf.Bytes()}, nil
}

// ReadDocument loads an outbound document from disk.
func ReadDocument(path string) (chat.OutgoingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.OutgoingFile{}, errors.Wrapf(err, "read document %s", path)
	}
	return chat.OutgoingFile{Name: filepath.Base(path), Data: data}, nil
}

// ExtensionForMime returns a filename extension for a MIME type, used to
// name inbound files that arrive without one.
func ExtensionForMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mimeType, "image/png"):
		return ".png"
	case strings.HasPrefix(mimeType, "image/gif"):
		return ".gif"
	case strings.HasPrefix(mimeType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(mimeType, "text/plain"):
		return ".txt"
	case strings.HasPrefix(mimeType, "application/pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}
