package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/pdf-QA-system/api/handler"
	"github.com/fyerfyer/pdf-QA-system/api/middleware"
	"github.com/fyerfyer/pdf-QA-system/internal/database"
	"github.com/fyerfyer/pdf-QA-system/internal/document"
	"github.com/fyerfyer/pdf-QA-system/internal/embedding"
	"github.com/fyerfyer/pdf-QA-system/internal/llm"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/services"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/fyerfyer/pdf-QA-system/pkg/storage"
	"github.com/fyerfyer/pdf-QA-system/pkg/taskqueue"
)

// pageExtractor 不解析PDF，返回固定的页面
type pageExtractor struct {
	pages []document.Page
}

func (e *pageExtractor) Extract(_ context.Context, filePath string) (*document.Document, error) {
	hash, err := document.HashFile(filePath)
	if err != nil {
		return nil, err
	}
	return &document.Document{Name: document.BaseName(filePath), Path: filePath, Hash: hash, Pages: e.pages}, nil
}

// 测试环境配置
type testEnv struct {
	Router  *gin.Engine
	LLM     *llm.MockClient
	Vectors vectordb.Repository
	Images  storage.Storage
	Queue   *taskqueue.MemoryQueue
}

func setupTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	middleware.GetLogger().SetOutput(io.Discard)
	logger := middleware.GetLogger()

	dsn := fmt.Sprintf("file:api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	images, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	vectors, err := vectordb.NewRepository(vectordb.Config{Type: "memory", Dimension: 64, DistanceType: vectordb.Cosine})
	require.NoError(t, err)

	embedder, err := embedding.NewLocalClient(embedding.WithDimensions(64))
	require.NoError(t, err)

	files := repository.NewFileRepositoryWithDB(db)
	imageRepo := repository.NewImageRepositoryWithDB(db)
	extractor := &pageExtractor{pages: []document.Page{
		{Number: 1, Text: "Inner thread diameter is 8 mm."},
		{Number: 2, Text: "Technical drawing", Images: []document.Image{{Index: 1, Ext: "jpg", Data: []byte("jpeg-bytes")}}},
	}}

	ingest := services.NewIngestService(extractor, embedder, vectors,
		services.WithIngestLogger(logger),
		services.WithImageStorage(images),
		services.WithImageRepository(imageRepo),
		services.WithLedger(services.NewFileStatusManager(files, logger)),
	)

	queue := taskqueue.NewMemoryQueue(&taskqueue.Config{Logger: logger, RetryDelay: 10 * time.Millisecond})
	queue.RegisterHandler(taskqueue.TaskPDFIngest, services.NewIngestTaskHandler(ingest, queue, logger))
	require.NoError(t, queue.Start())
	t.Cleanup(func() { _ = queue.Close() })

	mockLLM := llm.NewMockClient(t)
	qa := services.NewQAService(embedder, vectors, llm.NewRAG(mockLLM),
		services.WithQALogger(logger),
		services.WithQueryLog(repository.NewQueryLogRepositoryWithDB(db)),
	)
	tags := services.NewTagService(images, vectors, imageRepo, logger)

	router := SetupRouter(Handlers{
		UI:   handler.NewUIHandler(map[string]string{"vectordb": "memory"}),
		PDF:  handler.NewPDFHandler(ingest, queue, files, t.TempDir()),
		QA:   handler.NewQAHandler(qa),
		Tag:  handler.NewTagHandler(tags),
		Task: handler.NewTaskHandler(queue),
	}, Options{})

	return &testEnv{Router: router, LLM: mockLLM, Vectors: vectors, Images: images, Queue: queue}
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, apiResponse) {
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	var resp apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (e *testEnv) upload(t *testing.T, async bool, files map[string]string) (*httptest.ResponseRecorder, apiResponse) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.WriteField("async", fmt.Sprintf("%t", async)))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/pdfs", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.do(t, req)
}

func jsonRequest(method, url string, payload interface{}) *http.Request {
	b, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestStatusAndIndex(t *testing.T) {
	env := setupTestEnv(t)

	w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"PDF QA app is running"}`, w.Body.String())

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "PDF Yükle")
	assert.Contains(t, w.Body.String(), "Soru Sor")
	assert.Contains(t, w.Body.String(), "Görsel Etiketle")
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestUploadSync(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.upload(t, false, map[string]string{
		"manual.pdf": "pdf-bytes",
		"notes.txt":  "plain text",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, resp.Code)

	var data struct {
		Log      string `json:"log"`
		Inserted int    `json:"inserted"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 3, data.Inserted)
	assert.Contains(t, data.Log, "✅ manual işlendi ve yüklendi.")
	assert.Contains(t, data.Log, "❌ notes.txt - hata: ")

	// 同一文件再次上传时整体跳过
	_, resp = env.upload(t, false, map[string]string{"manual.pdf": "pdf-bytes"})
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "⏭️ manual.pdf zaten işlenmiş.", data.Log)

	w, resp = env.do(t, httptest.NewRequest(http.MethodGet, "/api/pdfs?status=completed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Total int64 `json:"total"`
		Files []struct {
			FileName     string `json:"file_name"`
			TextRecords  int    `json:"text_records"`
			ImageRecords int    `json:"image_records"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, "manual.pdf", list.Files[0].FileName)
	assert.Equal(t, 2, list.Files[0].TextRecords)
	assert.Equal(t, 1, list.Files[0].ImageRecords)
}

func TestUploadNoFiles(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.upload(t, false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Log string `json:"log"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, services.MsgNoFiles, data.Log)
}

func TestUploadAsync(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.upload(t, true, map[string]string{"manual.pdf": "async-bytes"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var data struct {
		Log   string `json:"log"`
		Tasks []struct {
			TaskID string `json:"task_id"`
			FileID string `json:"file_id"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data.Tasks, 1)
	assert.Equal(t, "⏳ manual.pdf sıraya alındı.", data.Log)

	_, err := env.Queue.WaitForTask(context.Background(), data.Tasks[0].TaskID, 5*time.Second)
	require.NoError(t, err)

	w, resp = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks/"+data.Tasks[0].TaskID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var task struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
		Result   struct {
			Lines []string `json:"lines"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &task))
	assert.Equal(t, "completed", task.Status)
	assert.Equal(t, float64(100), task.Progress)
	assert.Contains(t, task.Result.Lines, "✅ manual işlendi ve yüklendi.")

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/pdfs/"+data.Tasks[0].FileID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTaskNotFound(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotEmpty(t, resp.TraceID)
}

func TestAnswerQuestion(t *testing.T) {
	env := setupTestEnv(t)
	env.LLM.On("Chat", mock.Anything, mock.Anything).Return(&llm.Response{Text: "İç vida çapı **8 mm**."}, nil).Once()

	_, _ = env.upload(t, false, map[string]string{"manual.pdf": "pdf-bytes"})

	w, resp := env.do(t, jsonRequest(http.MethodPost, "/api/qa", map[string]string{"question": "Inner thread diameter?"}))
	require.Equal(t, http.StatusOK, w.Code)
	var ans services.Answer
	require.NoError(t, json.Unmarshal(resp.Data, &ans))
	assert.Equal(t, "İç vida çapı **8 mm**.", ans.Answer)
	assert.Contains(t, ans.HTML, "<strong>8 mm</strong>")
	assert.Len(t, ans.Sources, 3)

	w, resp = env.do(t, httptest.NewRequest(http.MethodGet, "/api/qa/history?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Items []struct {
			Question string `json:"question"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	require.Len(t, history.Items, 1)
	assert.Equal(t, "Inner thread diameter?", history.Items[0].Question)
}

func TestAnswerQuestion_NoMatchAndValidation(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.do(t, jsonRequest(http.MethodPost, "/api/qa", map[string]string{"question": "malzeme nedir?"}))
	require.Equal(t, http.StatusOK, w.Code)
	var ans services.Answer
	require.NoError(t, json.Unmarshal(resp.Data, &ans))
	assert.True(t, ans.NoMatch)
	assert.Equal(t, services.MsgNoMatch, ans.Answer)

	w, _ = env.do(t, jsonRequest(http.MethodPost, "/api/qa", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 只有空白的问题由服务层拒绝
	w, resp = env.do(t, jsonRequest(http.MethodPost, "/api/qa", map[string]string{"question": "   "}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestImagesAndLabels(t *testing.T) {
	env := setupTestEnv(t)
	_, _ = env.upload(t, false, map[string]string{"manual.pdf": "pdf-bytes"})

	w, resp := env.do(t, httptest.NewRequest(http.MethodGet, "/api/images", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Images []services.ImageInfo `json:"images"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Images, 1)
	img := list.Images[0]
	assert.Equal(t, "manual_page2_img1.jpg", img.Name)
	assert.Equal(t, 2, img.Page)

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/images/file/"+img.Name, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", w.Body.String())

	w, resp = env.do(t, jsonRequest(http.MethodPost, "/api/images/labels", map[string]string{
		"image": img.Name,
		"label": "teknik çizim, ölçü",
	}))
	require.Equal(t, http.StatusOK, w.Code)
	var label struct {
		Message string `json:"message"`
		Updated bool   `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &label))
	assert.True(t, label.Updated)
	assert.Equal(t, services.MsgLabelUpdated, label.Message)

	rec, err := env.Vectors.Get(context.Background(), img.RecordID)
	require.NoError(t, err)
	assert.Equal(t, []string{"teknik çizim", "ölçü"}, rec.Labels)

	w, resp = env.do(t, jsonRequest(http.MethodPost, "/api/images/labels", map[string]string{
		"image": "missing.png",
		"label": "x",
	}))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &label))
	assert.False(t, label.Updated)
	assert.Equal(t, services.MsgLabelFailed, label.Message)

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/images/file/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	middleware.GetLogger().SetOutput(io.Discard)

	r := gin.New()
	r.Use(middleware.RateLimit(1, 2))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "limits are per client")
}

func TestConfigureLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := middleware.ConfigureLogger(middleware.LogOptions{
		Level:  "debug",
		Format: "text",
		File:   dir + "/app.log",
	})
	require.NoError(t, err)
	logger.Info("hello")

	data, err := os.ReadFile(dir + "/app.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	_, err = middleware.ConfigureLogger(middleware.LogOptions{Level: "loud"})
	assert.Error(t, err)

	_, err = middleware.ConfigureLogger(middleware.LogOptions{Level: "info"})
	require.NoError(t, err)
	middleware.GetLogger().SetOutput(io.Discard)
}
