package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.ReadCloser) string {
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

// testStorage 本地与MinIO共用的行为测试
func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()

	info, err := s.Save(ctx, "katalog/katalog_page1_img1.png", bytes.NewBufferString("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "katalog/katalog_page1_img1.png", info.Name)
	assert.Equal(t, int64(9), info.Size)
	assert.Equal(t, "image/png", info.MimeType)

	_, err = s.Save(ctx, "katalog/katalog_page2_rendered.png", bytes.NewBufferString("render"))
	require.NoError(t, err)
	_, err = s.Save(ctx, "other/x.jpg", bytes.NewBufferString("jpg"))
	require.NoError(t, err)

	// 同名覆盖
	_, err = s.Save(ctx, "other/x.jpg", bytes.NewBufferString("jpg-2"))
	require.NoError(t, err)

	rc, err := s.Get(ctx, "other/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpg-2", readAll(t, rc))

	files, err := s.List(ctx, "katalog/")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "katalog/katalog_page1_img1.png", files[0].Name)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ok, err := s.Exists(ctx, "other/x.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "other/x.jpg"))
	ok, err = s.Exists(ctx, "other/x.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "other/x.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "other/x.jpg"), ErrNotFound)

	_, err = s.Save(ctx, "../escape.png", bytes.NewBufferString("x"))
	assert.Error(t, err)
}

func TestLocalStorage(t *testing.T) {
	s, err := New(Config{Type: "local", Local: LocalConfig{Path: t.TempDir()}})
	require.NoError(t, err)
	testStorage(t, s)
}

// TestMinioStorage 需要设置MINIO_TEST_ENDPOINT等环境变量
func TestMinioStorage(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}

	s, err := NewMinioStorage(MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_TEST_SECRET_KEY"),
		Bucket:    "pdfqa-test",
		Prefix:    "storage-test",
	})
	require.NoError(t, err)

	ctx := context.Background()
	files, _ := s.List(ctx, "")
	for _, f := range files {
		_ = s.Delete(ctx, f.Name)
	}
	testStorage(t, s)
}

func TestCleanName(t *testing.T) {
	for _, bad := range []string{"", "/abs.png", "..", "../x", "a/../../x"} {
		_, err := CleanName(bad)
		assert.Error(t, err, bad)
	}
	name, err := CleanName("a\\b/./c.png")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.png", name)

	assert.True(t, IsImage("x.JPEG"))
	assert.False(t, IsImage("x.pdf"))
	assert.Equal(t, "application/pdf", MimeType("a.pdf"))
}
