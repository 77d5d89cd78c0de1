package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepository 各实现共用的行为测试
func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()

	records := []Record{
		{ID: "h_p1_text", Type: TypeText, Page: 1, Content: "vida", Vector: []float32{1, 0, 0, 0}},
		{ID: "h_p1_img1", Type: TypeImage, Page: 1, File: "doc_p1_img1.png", Content: "image saved", Vector: []float32{0.9, 0.1, 0, 0}},
		{ID: "h_p2_text", Type: TypeText, Page: 2, Content: "somun", Vector: []float32{0, 1, 0, 0}},
		{ID: "h", Type: TypeFile, Name: "doc"},
	}
	for _, rec := range records {
		require.NoError(t, repo.Insert(ctx, rec))
	}

	exists, err := repo.Exists(ctx, "h_p1_text")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, repo.Insert(ctx, records[0]), ErrAlreadyExists)

	results, err := repo.Search(ctx, []float32{1, 0, 0, 0}, SearchFilter{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "h_p1_text", results[0].Record.ID)
	assert.Equal(t, "h_p1_img1", results[1].Record.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)

	results, err = repo.Search(ctx, []float32{1, 0, 0, 0}, SearchFilter{MaxResults: 3, Types: []RecordType{TypeText}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, TypeText, r.Record.Type)
	}

	require.NoError(t, repo.UpdateLabels(ctx, "h_p1_img1", []string{"teknik çizim"}))
	rec, err := repo.Get(ctx, "h_p1_img1")
	require.NoError(t, err)
	assert.Equal(t, []string{"teknik çizim"}, rec.Labels)
	assert.ErrorIs(t, repo.UpdateLabels(ctx, "missing", []string{"x"}), ErrRecordNotFound)

	require.NoError(t, repo.Delete(ctx, "h_p2_text"))
	_, err = repo.Get(ctx, "h_p2_text")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryRepository(t *testing.T) {
	repo, err := NewRepository(Config{Type: "memory", Dimension: 4, DistanceType: Cosine})
	require.NoError(t, err)
	defer repo.Close()

	testRepository(t, repo)

	_, err = repo.Search(context.Background(), []float32{1, 0}, DefaultSearchFilter())
	assert.ErrorIs(t, err, ErrInvalidDimension)
	assert.ErrorIs(t, repo.Insert(context.Background(), Record{Type: TypeText}), ErrInvalidID)
}

func TestMemorySearchSkipsRecordsWithoutVector(t *testing.T) {
	repo, _ := NewMemoryRepository(Config{})
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, Record{ID: "file", Type: TypeFile, Name: "x"}))
	require.NoError(t, repo.Insert(ctx, Record{ID: "t", Type: TypeText, Vector: []float32{1, 1}}))

	results, err := repo.Search(ctx, []float32{1, 1}, SearchFilter{MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t", results[0].Record.ID)
}

// fakeAstra 模拟Astra REST接口的最小实现
type fakeAstra struct {
	mu   sync.Mutex
	docs map[string]map[string]interface{}
	t    *testing.T
}

func (f *fakeAstra) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "AstraCS:test", r.Header.Get("x-cassandra-token"))
	f.mu.Lock()
	defer f.mu.Unlock()

	const docPrefix = "/api/json/v1/default_keyspace/pdf_data"
	switch {
	case r.URL.Path == "/api/vectordb/v1/default_keyspace/pdf_data/query" && r.Method == http.MethodPost:
		var q astraQueryRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&q))
		var hits []map[string]interface{}
		for _, d := range f.docs {
			if _, ok := d["$vector"]; ok {
				hits = append(hits, map[string]interface{}{"document": d})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": hits})

	case r.URL.Path == docPrefix && r.Method == http.MethodPost:
		var doc map[string]interface{}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&doc))
		id := doc["_id"].(string)
		if _, ok := f.docs[id]; ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.docs[id] = doc
		w.WriteHeader(http.StatusCreated)

	case strings.HasPrefix(r.URL.Path, docPrefix+"/"):
		id := strings.TrimPrefix(r.URL.Path, docPrefix+"/")
		doc, ok := f.docs[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": doc})
		case http.MethodPut:
			var patch map[string]interface{}
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&patch))
			for k, v := range patch {
				doc[k] = v
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(f.docs, id)
			w.WriteHeader(http.StatusNoContent)
		}

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestAstraRepository(t *testing.T) {
	srv := httptest.NewServer(&fakeAstra{docs: map[string]map[string]interface{}{}, t: t})
	defer srv.Close()

	repo, err := NewRepository(Config{
		Type:      "astra",
		Endpoint:  srv.URL + "/",
		Token:     "AstraCS:test",
		Dimension: 4,
	})
	require.NoError(t, err)
	defer repo.Close()

	testRepository(t, repo)
}

func TestAstraRepositoryUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	repo, err := NewAstraRepository(Config{Endpoint: srv.URL, Token: "t"})
	require.NoError(t, err)

	_, err = repo.Exists(context.Background(), "x")
	var astraErr *AstraError
	require.ErrorAs(t, err, &astraErr)
	assert.Equal(t, http.StatusInternalServerError, astraErr.StatusCode)

	_, err = NewAstraRepository(Config{})
	assert.Error(t, err)
}

// TestPgVectorRepository 需要设置PGVECTOR_TEST_DSN指向带pgvector扩展的数据库
func TestPgVectorRepository(t *testing.T) {
	dsn := os.Getenv("PGVECTOR_TEST_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_TEST_DSN not set")
	}

	repo, err := NewRepository(Config{
		Type:       "pgvector",
		DSN:        dsn,
		Collection: "pdfqa_test_records",
		Dimension:  4,
	})
	require.NoError(t, err)
	defer func() {
		pg := repo.(*PgVectorRepository)
		_, _ = pg.pool.Exec(context.Background(), "DROP TABLE IF EXISTS pdfqa_test_records")
		repo.Close()
	}()

	testRepository(t, repo)
}

func TestDistanceHelpers(t *testing.T) {
	d, err := ComputeDistance([]float32{1, 0}, []float32{0, 1}, Cosine)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-6)
	assert.InDelta(t, 0.0, DistanceToScore(d, Cosine), 1e-6)

	d, err = ComputeDistance([]float32{3, 4}, []float32{0, 0}, Euclidean)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-6)

	_, err = ComputeDistance([]float32{1}, []float32{1, 2}, Cosine)
	assert.ErrorIs(t, err, ErrInvalidDimension)

	assert.Equal(t, []string{"a", "b", "c"}, MergeLabels([]string{"a", "b"}, "b", "", "c"))
}
