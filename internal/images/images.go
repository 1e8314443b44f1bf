// Package images loads and checks bill images.
package images

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotImage is returned for content that doesn't sniff as an image.
	ErrNotImage = errors.New("not an image")

	// ErrInvalidPath is returned for paths that escape the bucket.
	ErrInvalidPath = errors.New("invalid file path")

	// ErrTooLarge is returned for images over the size limit.
	ErrTooLarge = errors.New("image too large")
)

// DetectType returns the MIME type of an image from its first bytes.
func DetectType(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrNotImage)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mimeType)
	}
	return mimeType, nil
}

// ReadLimited reads r fully, failing once more than maxBytes are seen.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// Bucket serves stored bill images from a directory.
// Object paths look like "<userId>/receipts/<file>.jpg".
type Bucket struct {
	dir      string
	maxBytes int64
}

// NewBucket creates a Bucket rooted at dir.
func NewBucket(dir string, maxBytes int64) *Bucket {
	return &Bucket{dir: dir, maxBytes: maxBytes}
}

// Load reads the object at path and returns its bytes and MIME type.
func (b *Bucket) Load(path string) ([]byte, string, error) {
	name := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	if name == "" || !filepath.IsLocal(name) {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	root, err := os.OpenRoot(b.dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open bucket: %w", err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	data, err := ReadLimited(f, b.maxBytes)
	if err != nil {
		return nil, "", err
	}
	mimeType, err := DetectType(data)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}
