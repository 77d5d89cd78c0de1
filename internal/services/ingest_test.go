package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/pdf-QA-system/internal/document"
	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/fyerfyer/pdf-QA-system/pkg/taskqueue"
)

type ingestFixture struct {
	service  *IngestService
	vectors  *vectordb.MemoryRepository
	uploader *recordingUploader
	renderer *stubRenderer
	files    repository.FileRepository
	images   repository.ImageRepository
	dir      string
}

func newIngestFixture(t *testing.T, pages []document.Page, opts ...IngestOption) *ingestFixture {
	db := setupTestDB(t)
	f := &ingestFixture{
		vectors:  newTestVectors(t),
		uploader: &recordingUploader{},
		renderer: &stubRenderer{},
		files:    repository.NewFileRepositoryWithDB(db),
		images:   repository.NewImageRepositoryWithDB(db),
		dir:      t.TempDir(),
	}
	base := []IngestOption{
		WithIngestLogger(quietLogger()),
		WithRenderer(f.renderer),
		WithImageStorage(newTestStorage(t)),
		WithDriveUploader(f.uploader),
		WithImageRepository(f.images),
		WithLedger(NewFileStatusManager(f.files, quietLogger())),
	}
	f.service = NewIngestService(&stubExtractor{pages: pages}, newTestEmbedder(t), f.vectors, append(base, opts...)...)
	return f
}

func TestIngestFile_WritesAllRecordTypes(t *testing.T) {
	f := newIngestFixture(t, samplePages())
	path := writePDF(t, f.dir, "manual.pdf", "pdf-bytes")
	hash, err := document.HashFile(path)
	require.NoError(t, err)

	report, err := f.service.IngestFile(context.Background(), Input{Path: path}, nil)
	require.NoError(t, err)

	assert.Equal(t, hash, report.FileID)
	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, 5, report.Inserted)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Equal(t, "✅ manual işlendi ve yüklendi.", report.Summary)

	assert.Equal(t, []string{
		"✅ " + hash + "_p1_text - metin yüklendi.",
		"✅ " + hash + "_p1_rendered - render kaydedildi.",
		"✅ " + hash + "_p2_text - metin yüklendi.",
		"✅ " + hash + "_p2_img1 - görsel yüklendi.",
		"✅ " + hash + "_p3_rendered - render kaydedildi.",
		"✅ manual işlendi ve yüklendi.",
	}, report.Messages())

	// 没有图片的第1页和第3页都会整页渲染，5条页面记录加1条文件记录
	assert.Equal(t, 6, f.vectors.Count())

	ctx := context.Background()
	img, err := f.vectors.Get(ctx, hash+"_p2_img1")
	require.NoError(t, err)
	assert.Equal(t, vectordb.TypeImage, img.Type)
	assert.Equal(t, "manual_page2_img1.jpg", img.File)
	assert.Equal(t, ImageContent, img.Content)
	assert.Equal(t, "drive-1", img.DriveFileID)
	assert.Len(t, img.Vector, testDim)

	rendered, err := f.vectors.Get(ctx, hash+"_p3_rendered")
	require.NoError(t, err)
	assert.Equal(t, RenderedContent, rendered.Content)
	assert.Equal(t, "manual_page3_rendered.png", rendered.File)

	fileRec, err := f.vectors.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, vectordb.TypeFile, fileRec.Type)
	assert.Equal(t, "manual", fileRec.Name)
	assert.Empty(t, fileRec.Vector)

	require.Len(t, f.uploader.uploads, 3)
	assert.Equal(t, "manual", f.uploader.uploads[0].folder)
	assert.Equal(t, "manual_page1_rendered.png", f.uploader.uploads[0].name)
	assert.Equal(t, "manual_page2_img1.jpg", f.uploader.uploads[1].name)

	assets, err := f.images.ListByFile(hash)
	require.NoError(t, err)
	assert.Len(t, assets, 3)

	ledger, err := f.files.GetByID(hash)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, ledger.Status)
	assert.Equal(t, 2, ledger.TextRecords)
	assert.Equal(t, 1, ledger.ImageRecords)
	assert.Equal(t, 2, ledger.RenderedRecords)
	assert.Equal(t, 3, ledger.Pages)
}

func TestIngestFile_SkipsProcessedFile(t *testing.T) {
	f := newIngestFixture(t, samplePages())
	path := writePDF(t, f.dir, "manual.pdf", "pdf-bytes")
	ctx := context.Background()

	_, err := f.service.IngestFile(ctx, Input{Path: path}, nil)
	require.NoError(t, err)

	report, err := f.service.IngestFile(ctx, Input{Path: path, Name: "manual.pdf"}, nil)
	require.NoError(t, err)
	assert.True(t, report.Duplicate)
	assert.Empty(t, report.Lines)
	assert.Equal(t, "⏭️ manual.pdf zaten işlenmiş.", report.Summary)
	assert.Equal(t, 6, f.vectors.Count())
	assert.Len(t, f.uploader.uploads, 3, "duplicates are not uploaded again")

	// 本地已完成的记录保持completed
	ledger, err := f.files.GetByID(report.FileID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, ledger.Status)
}

func TestIngestFile_DuplicateFromVectorStore(t *testing.T) {
	f := newIngestFixture(t, samplePages())
	path := writePDF(t, f.dir, "manual.pdf", "pdf-bytes")
	hash, err := document.HashFile(path)
	require.NoError(t, err)

	// 向量库中已有文件记录，但本地台账没有
	ctx := context.Background()
	require.NoError(t, f.vectors.Insert(ctx, vectordb.Record{ID: hash, Type: vectordb.TypeFile, Name: "manual"}))

	report, err := f.service.IngestFile(ctx, Input{Path: path}, nil)
	require.NoError(t, err)
	assert.True(t, report.Duplicate)

	ledger, err := f.files.GetByID(hash)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusDuplicate, ledger.Status)
	assert.Zero(t, f.renderer.calls)
}

func TestIngestFile_NameSchemeSkipsRecords(t *testing.T) {
	f := newIngestFixture(t, samplePages(), WithIDScheme(SchemeName))
	path := writePDF(t, f.dir, "katalog.pdf", "pdf-bytes")
	ctx := context.Background()

	first, err := f.service.IngestFile(ctx, Input{Path: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Inserted)
	// 名称方案没有文件记录
	assert.Equal(t, 5, f.vectors.Count())

	second, err := f.service.IngestFile(ctx, Input{Path: path}, nil)
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
	assert.Equal(t, 5, second.Skipped)
	assert.Equal(t, []string{
		"⏭️ katalog_page1_text - zaten yüklü.",
		"⏭️ katalog_page1_rendered - render zaten var.",
		"⏭️ katalog_page2_text - zaten yüklü.",
		"⏭️ katalog_page2_img1 - görsel zaten var.",
		"⏭️ katalog_page3_rendered - render zaten var.",
		"✅ katalog işlendi ve yüklendi.",
	}, second.Messages())
	assert.Equal(t, 2, f.renderer.calls, "existing rendered pages are not rendered again")
}

func TestIngestFile_UUIDSchemeIsDeterministic(t *testing.T) {
	f := newIngestFixture(t, samplePages(), WithIDScheme(SchemeUUID))
	path := writePDF(t, f.dir, "manual.pdf", "pdf-bytes")

	a, err := f.service.FileID(Input{Path: path})
	require.NoError(t, err)
	b, err := f.service.FileID(Input{Path: path})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 36)

	report, err := f.service.IngestFile(context.Background(), Input{Path: path}, nil)
	require.NoError(t, err)
	for _, l := range report.Lines {
		assert.Len(t, l.RecordID, 36)
	}
}

func TestIngestFile_EmbeddingFailure(t *testing.T) {
	db := setupTestDB(t)
	files := repository.NewFileRepositoryWithDB(db)
	vectors := newTestVectors(t)
	svc := NewIngestService(
		&stubExtractor{pages: samplePages()[:1]},
		failingEmbedder{},
		vectors,
		WithIngestLogger(quietLogger()),
		WithLedger(NewFileStatusManager(files, quietLogger())),
	)
	path := writePDF(t, t.TempDir(), "manual.pdf", "pdf-bytes")

	report, err := svc.IngestFile(context.Background(), Input{Path: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Lines, 1)
	assert.True(t, strings.HasPrefix(report.Lines[0].Message, "❌ "))
	assert.Contains(t, report.Lines[0].Message, "- hata: ")
	assert.Contains(t, report.Summary, "❌ manual - hata:")
	assert.Zero(t, vectors.Count(), "no file record after failures")

	ledger, err := files.GetByID(report.FileID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusFailed, ledger.Status)
}

func TestIngestFile_RendererUnavailable(t *testing.T) {
	pages := []document.Page{{Number: 1}, {Number: 2}, {Number: 3, Text: "last page"}}
	f := newIngestFixture(t, pages)
	f.renderer.err = document.ErrRendererUnavailable
	path := writePDF(t, f.dir, "scan.pdf", "pdf-bytes")

	report, err := f.service.IngestFile(context.Background(), Input{Path: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, f.renderer.calls, "renderer is not retried once unavailable")
}

func TestIngestFile_TruncatesText(t *testing.T) {
	long := strings.Repeat("ç", 1500)
	f := newIngestFixture(t, []document.Page{{Number: 1, Text: long}}, WithTextLimit(1000))
	path := writePDF(t, f.dir, "long.pdf", "pdf-bytes")

	report, err := f.service.IngestFile(context.Background(), Input{Path: path}, nil)
	require.NoError(t, err)
	rec, err := f.vectors.Get(context.Background(), report.Lines[0].RecordID)
	require.NoError(t, err)
	assert.Equal(t, 1000, len([]rune(rec.Content)))
}

func TestIngestFile_RejectsNonPDF(t *testing.T) {
	f := newIngestFixture(t, samplePages())
	path := writePDF(t, f.dir, "notes.txt", "hello")

	report, err := f.service.IngestFile(context.Background(), Input{Path: path}, nil)
	assert.ErrorIs(t, err, document.ErrUnsupportedType)
	assert.Contains(t, report.Summary, "❌ notes.txt - hata:")
}

func TestIngest_ReportsProgress(t *testing.T) {
	f := newIngestFixture(t, samplePages())
	a := writePDF(t, f.dir, "a.pdf", "first")
	b := writePDF(t, f.dir, "b.pdf", "second")

	var calls []int
	report, err := f.service.Ingest(context.Background(), []Input{{Path: a}, {Path: b}}, func(_ string, page, total int) {
		assert.Equal(t, 3, total)
		calls = append(calls, page)
	})
	require.NoError(t, err)
	assert.Len(t, report.Files, 2)
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, calls)

	inserted, skipped, failed := report.Totals()
	assert.Equal(t, 10, inserted)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)
	assert.Contains(t, report.String(), "✅ a işlendi ve yüklendi.\n")
}

func TestReport_Empty(t *testing.T) {
	assert.Equal(t, MsgNoFiles, (&Report{}).String())
	var r *Report
	assert.Equal(t, MsgNoFiles, r.String())
}

func TestIngestTaskHandler(t *testing.T) {
	f := newIngestFixture(t, samplePages())
	q := taskqueue.NewMemoryQueue(&taskqueue.Config{Logger: quietLogger(), RetryDelay: 10 * time.Millisecond})
	q.RegisterHandler(taskqueue.TaskPDFIngest, NewIngestTaskHandler(f.service, q, quietLogger()))
	require.NoError(t, q.Start())
	defer q.Close()

	path := writePDF(t, f.dir, "upload-1.pdf", "queued-bytes")
	ctx := context.Background()

	taskID, fileID, err := f.service.EnqueueIngest(ctx, q, Input{Path: path, Name: "manual.pdf"}, true)
	require.NoError(t, err)

	task, err := q.WaitForTask(ctx, taskID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, task.Status)
	assert.Equal(t, fileID, task.FileID)

	var result taskqueue.IngestResult
	require.NoError(t, taskqueue.UnmarshalPayload(task.Result, &result))
	assert.Equal(t, 5, result.Inserted)
	assert.Contains(t, result.Lines, "✅ manual işlendi ve yüklendi.")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "uploaded file removed after ingestion")

	ledger, err := f.files.GetByID(fileID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, ledger.Status)
	assert.Equal(t, "manual.pdf", ledger.FileName)
	assert.Equal(t, taskID, ledger.TaskID)
}

// statExtractor 每次调用记录暂存文件是否还在，然后返回错误
type statExtractor struct {
	mu   sync.Mutex
	seen []bool
}

func (e *statExtractor) Extract(_ context.Context, filePath string) (*document.Document, error) {
	_, err := os.Stat(filePath)
	e.mu.Lock()
	e.seen = append(e.seen, err == nil)
	e.mu.Unlock()
	return nil, errors.New("corrupt pdf")
}

func TestIngestTaskHandler_RemovesStagedFileAfterFinalFailure(t *testing.T) {
	files := repository.NewFileRepositoryWithDB(setupTestDB(t))
	extractor := &statExtractor{}
	svc := NewIngestService(extractor, newTestEmbedder(t), newTestVectors(t),
		WithIngestLogger(quietLogger()),
		WithLedger(NewFileStatusManager(files, quietLogger())),
	)

	q := taskqueue.NewMemoryQueue(&taskqueue.Config{Logger: quietLogger(), RetryLimit: 1, RetryDelay: 5 * time.Millisecond})
	q.RegisterHandler(taskqueue.TaskPDFIngest, NewIngestTaskHandler(svc, q, quietLogger()))
	require.NoError(t, q.Start())
	defer q.Close()

	path := writePDF(t, t.TempDir(), "upload-2.pdf", "broken-bytes")
	ctx := context.Background()

	taskID, fileID, err := svc.EnqueueIngest(ctx, q, Input{Path: path, Name: "broken.pdf"}, true)
	require.NoError(t, err)

	task, err := q.WaitForTask(ctx, taskID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "corrupt pdf")

	extractor.mu.Lock()
	assert.Equal(t, []bool{true, true}, extractor.seen, "staged file kept for the retry")
	extractor.mu.Unlock()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "staged file removed after the last attempt")

	ledger, err := files.GetByID(fileID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusFailed, ledger.Status)
	assert.Equal(t, taskID, ledger.TaskID)
}
