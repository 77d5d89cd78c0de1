package services

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/pdf-QA-system/internal/models"
	"github.com/fyerfyer/pdf-QA-system/internal/repository"
	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
	"github.com/fyerfyer/pdf-QA-system/pkg/storage"
)

func saveFile(t *testing.T, st storage.Storage, name, content string) {
	_, err := st.Save(context.Background(), name, bytes.NewReader([]byte(content)))
	require.NoError(t, err)
}

func TestTagService_ListImages(t *testing.T) {
	st := newTestStorage(t)
	saveFile(t, st, "manual_page2_img1.jpg", "jpg")
	saveFile(t, st, "manual_page3_rendered.png", "png")
	saveFile(t, st, "notes.txt", "txt")

	images := repository.NewImageRepositoryWithDB(setupTestDB(t))
	asset := &models.ImageAsset{
		RecordID:    "hash_p2_img1",
		FileID:      "hash",
		SourceFile:  "manual",
		Page:        2,
		ImageIndex:  1,
		StorageName: "manual_page2_img1.jpg",
	}
	asset.SetLabels([]string{"vida ucu"})
	require.NoError(t, images.Save(asset))

	svc := NewTagService(st, newTestVectors(t), images, quietLogger())
	list, err := svc.ListImages(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "manual_page2_img1.jpg", list[0].Name)
	assert.Equal(t, "hash_p2_img1", list[0].RecordID)
	assert.Equal(t, []string{"vida ucu"}, list[0].Labels)
	assert.Equal(t, 2, list[0].Page)

	// 没有登记的图片按文件名推断
	assert.Equal(t, "manual_page3_rendered_png", list[1].RecordID)
	assert.Empty(t, list[1].Labels)
}

func TestTagService_UpdateLabel(t *testing.T) {
	ctx := context.Background()
	vectors := newTestVectors(t)
	embedder := newTestEmbedder(t)
	seedRecords(t, embedder, vectors, vectordb.Record{
		ID: "hash_p2_img1", Type: vectordb.TypeImage, Page: 2, Content: ImageContent, Labels: []string{"vida ucu"},
	})

	images := repository.NewImageRepositoryWithDB(setupTestDB(t))
	require.NoError(t, images.Save(&models.ImageAsset{
		RecordID:    "hash_p2_img1",
		FileID:      "hash",
		SourceFile:  "manual",
		Page:        2,
		ImageIndex:  1,
		StorageName: "manual_page2_img1.jpg",
	}))

	svc := NewTagService(newTestStorage(t), vectors, images, quietLogger())
	msg, err := svc.UpdateLabel(ctx, "pdf_images/manual_page2_img1.jpg", "teknik çizim, vida ucu")
	require.NoError(t, err)
	assert.Equal(t, MsgLabelUpdated, msg)

	rec, err := vectors.Get(ctx, "hash_p2_img1")
	require.NoError(t, err)
	assert.Equal(t, []string{"vida ucu", "teknik çizim"}, rec.Labels)

	asset, err := images.GetByRecordID("hash_p2_img1")
	require.NoError(t, err)
	assert.Equal(t, []string{"vida ucu", "teknik çizim"}, asset.GetLabels())
}

func TestTagService_UpdateLabelLegacyID(t *testing.T) {
	ctx := context.Background()
	vectors := newTestVectors(t)
	seedRecords(t, newTestEmbedder(t), vectors, vectordb.Record{
		ID: "katalog_page1_img1_png", Type: vectordb.TypeImage, Page: 1, Content: ImageContent,
	})

	svc := NewTagService(newTestStorage(t), vectors, nil, quietLogger())
	msg, err := svc.UpdateLabel(ctx, "katalog_page1_img1.png", "somun")
	require.NoError(t, err)
	assert.Equal(t, MsgLabelUpdated, msg)

	rec, err := vectors.Get(ctx, "katalog_page1_img1_png")
	require.NoError(t, err)
	assert.Equal(t, []string{"somun"}, rec.Labels)
}

func TestTagService_UpdateLabelFailures(t *testing.T) {
	svc := NewTagService(newTestStorage(t), newTestVectors(t), nil, quietLogger())

	msg, err := svc.UpdateLabel(context.Background(), "missing.png", "etiket")
	assert.ErrorIs(t, err, vectordb.ErrRecordNotFound)
	assert.Equal(t, MsgLabelFailed, msg)

	msg, err = svc.UpdateLabel(context.Background(), "missing.png", " , ")
	assert.ErrorIs(t, err, ErrEmptyLabel)
	assert.Equal(t, MsgLabelFailed, msg)
}

func TestTagService_OpenImage(t *testing.T) {
	st := newTestStorage(t)
	saveFile(t, st, "a.png", "png-data")
	saveFile(t, st, "b.txt", "text")
	svc := NewTagService(st, newTestVectors(t), nil, quietLogger())

	rc, mimeType, err := svc.OpenImage(context.Background(), "a.png")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-data", string(data))
	assert.Equal(t, "image/png", mimeType)

	_, _, err = svc.OpenImage(context.Background(), "b.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestParseLabels(t *testing.T) {
	assert.Equal(t, []string{"teknik çizim", "vida ucu"}, ParseLabels(" teknik çizim ,vida ucu,, teknik çizim"))
	assert.Empty(t, ParseLabels(""))
}
