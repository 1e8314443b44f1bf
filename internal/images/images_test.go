package images

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jpeg = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	png  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

func TestDetectType(t *testing.T) {
	mimeType, err := DetectType(jpeg)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mimeType)

	mimeType, err = DetectType(png)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)

	_, err = DetectType([]byte("total: $25.00"))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = DetectType(nil)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestReadLimited(t *testing.T) {
	data, err := ReadLimited(bytes.NewReader(jpeg), int64(len(jpeg)))
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)

	_, err = ReadLimited(bytes.NewReader(jpeg), int64(len(jpeg)-1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestBucket_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "u1", "receipts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u1", "receipts", "dinner.jpg"), jpeg, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u1", "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(dir), "outside.jpg"), jpeg, 0o644))

	bucket := NewBucket(dir, 1<<20)

	t.Run("stored image", func(t *testing.T) {
		data, mimeType, err := bucket.Load("u1/receipts/dinner.jpg")
		require.NoError(t, err)
		assert.Equal(t, jpeg, data)
		assert.Equal(t, "image/jpeg", mimeType)
	})

	t.Run("leading slash", func(t *testing.T) {
		_, _, err := bucket.Load("/u1/receipts/dinner.jpg")
		assert.NoError(t, err)
	})

	t.Run("traversal", func(t *testing.T) {
		for _, p := range []string{"../outside.jpg", "u1/../../outside.jpg", ""} {
			_, _, err := bucket.Load(p)
			assert.ErrorIs(t, err, ErrInvalidPath, p)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := bucket.Load("u1/receipts/lunch.jpg")
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("not an image", func(t *testing.T) {
		_, _, err := bucket.Load("u1/notes.txt")
		assert.ErrorIs(t, err, ErrNotImage)
	})
}
