package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/pdf-QA-system/internal/database"
	"github.com/fyerfyer/pdf-QA-system/internal/document"
	"github.com/fyerfyer/pdf-QA-system/internal/embedding"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/fyerfyer/pdf-QA-system/pkg/storage"
)

const testDim = 64

// stubExtractor 返回固定内容，不解析文件
type stubExtractor struct {
	pages []document.Page
	err   error
}

func (e *stubExtractor) Extract(_ context.Context, filePath string) (*document.Document, error) {
	if e.err != nil {
		return nil, e.err
	}
	hash, err := document.HashFile(filePath)
	if err != nil {
		return nil, err
	}
	return &document.Document{
		Name:  document.BaseName(filePath),
		Path:  filePath,
		Hash:  hash,
		Pages: e.pages,
	}, nil
}

type stubRenderer struct {
	calls int
	err   error
}

func (r *stubRenderer) RenderPage(_ context.Context, _ string, _ int) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("\x89PNG rendered"), nil
}

type upload struct {
	folder string
	name   string
	size   int
}

// recordingUploader 记录上传调用
type recordingUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, folder, name string, data io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, data)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, upload{folder: folder, name: name, size: buf.Len()})
	return fmt.Sprintf("drive-%d", len(u.uploads)), nil
}

// failingEmbedder 总是返回错误
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, embedding.NewEmbeddingError(embedding.ErrCodeServerError, "embedding service down")
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, embedding.NewEmbeddingError(embedding.ErrCodeServerError, "embedding service down")
}

func (failingEmbedder) Name() string { return "failing" }

func samplePages() []document.Page {
	return []document.Page{
		{Number: 1, Text: "Inner thread diameter is 8 mm."},
		{Number: 2, Text: "Technical drawing", Images: []document.Image{
			{Index: 1, Ext: "jpg", Data: []byte("jpeg-bytes")},
		}},
		{Number: 3},
	}
}

func writePDF(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func newTestEmbedder(t *testing.T) embedding.Client {
	c, err := embedding.NewLocalClient(embedding.WithDimensions(testDim))
	require.NoError(t, err)
	return c
}

func newTestVectors(t *testing.T) *vectordb.MemoryRepository {
	repo, err := vectordb.NewMemoryRepository(vectordb.Config{Dimension: testDim})
	require.NoError(t, err)
	return repo.(*vectordb.MemoryRepository)
}

func newTestStorage(t *testing.T) *storage.LocalStorage {
	st, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	return st
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
