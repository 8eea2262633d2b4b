// Package media enforces what the bridge may pull from disk and push into
// a chat. Workers name arbitrary paths in their output; this package is
// the only gate between those paths and an upload.
package media

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrBadExtension = errors.New("extension not allowed for images")
	ErrOutsideRoots = errors.New("path outside the allowed directories")
	ErrDeniedFile   = errors.New("file type is not shareable")
	ErrTooLarge     = errors.New("file exceeds the size limit")
)

// imageExts is the allowlist for image uploads.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// Policy validates worker-named paths before upload.
type Policy struct {
	// ImageRoots are directories images may be read from. Worker working
	// directories are appended per call.
	ImageRoots []string
	// MaxBytes caps any single upload. Zero means 20 MB.
	MaxBytes int64
}

// NewPolicy creates a policy with defaults filled in.
func NewPolicy(imageRoots []string, maxBytes int64) *Policy {
	if maxBytes == 0 {
		maxBytes = 20 * 1024 * 1024
	}
	return &Policy{
		ImageRoots: imageRoots,
		MaxBytes:   maxBytes,
	}
}

// IsImagePath reports whether the path has an allowed image extension.
func IsImagePath(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// ValidateImage checks an outbound image path: allowed extension, resolves
// inside a permitted root, exists, and fits the size cap. extraRoots lets
// the caller admit the owning worker's working directory.
func (p *Policy) ValidateImage(path string, extraRoots ...string) error {
	if !IsImagePath(path) {
		return errors.Wrap(ErrBadExtension, filepath.Ext(path))
	}

	real, info, err := resolve(path)
	if err != nil {
		return err
	}
	if err := p.checkSize(info.Size()); err != nil {
		return err
	}

	roots := make([]string, 0, len(p.ImageRoots)+len(extraRoots))
	roots = append(roots, p.ImageRoots...)
	roots = append(roots, extraRoots...)
	for _, root := range roots {
		if root == "" {
			continue
		}
		// Resolve the root too; tmp is a symlink on some systems.
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		if real == realRoot || strings.HasPrefix(real, realRoot+string(filepath.Separator)) {
			return nil
		}
	}
	return errors.Wrap(ErrOutsideRoots, path)
}

// ValidateDocument checks an outbound document path: exists, not on the
// sensitive-file denylist, and fits the size cap. Documents are not root
// restricted; the denylist is the guard.
func (p *Policy) ValidateDocument(path string) error {
	if deniedDocument(filepath.Base(path)) {
		return errors.Wrap(ErrDeniedFile, filepath.Base(path))
	}
	_, info, err := resolve(path)
	if err != nil {
		return err
	}
	if deniedDocument(filepath.Base(info.Name())) {
		return errors.Wrap(ErrDeniedFile, info.Name())
	}
	return p.checkSize(info.Size())
}

func (p *Policy) checkSize(size int64) error {
	if size > p.MaxBytes {
		return errors.Wrapf(ErrTooLarge, "%d bytes, cap %d", size, p.MaxBytes)
	}
	return nil
}

// resolve follows symlinks and stats the target, rejecting directories.
func resolve(path string) (string, os.FileInfo, error) {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", nil, errors.Wrapf(err, "resolve %s", path)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return "", nil, errors.Wrap(ErrDeniedFile, "path is a directory")
	}
	return real, info, nil
}

// deniedDocument blocks files that routinely hold credentials.
func deniedDocument(name string) bool {
	base := strings.ToLower(name)
	switch {
	case strings.HasPrefix(base, ".env"):
		return true
	case base == ".npmrc" || base == ".netrc":
		return true
	case strings.HasSuffix(base, ".pem") || strings.HasSuffix(base, ".key"):
		return true
	case strings.HasPrefix(base, "id_rsa"),
		strings.HasPrefix(base, "id_dsa"),
		strings.HasPrefix(base, "id_ecdsa"),
		strings.HasPrefix(base, "id_ed25519"):
		return true
	}
	return false
}
