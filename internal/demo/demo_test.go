package demo

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/apilens/internal/extractor"
	"github.com/raysh454/apilens/internal/reference"
)

func TestWrite_ProducesExtractableBatch(t *testing.T) {
	dir := t.TempDir()
	batch, err := Write(dir)
	require.NoError(t, err)
	require.Len(t, batch.Projects, 2)
	require.Len(t, batch.References, 2)

	for _, p := range append(append([]string{}, batch.Projects...), batch.References...) {
		_, err := os.Stat(p)
		require.NoError(t, err, p)
	}

	ctx := context.Background()
	ext := extractor.NewInventoryExtractor(extractor.Config{}, nil)

	orders, err := ext.Extract(ctx, batch.Projects[0])
	require.NoError(t, err)
	assert.Equal(t, "orders", orders.Name())
	assert.Len(t, orders.Endpoints(), 2)
	assert.Len(t, orders.Calls(), 2)
	assert.Equal(t, "http://shipping:9090", orders.ServiceURLs()["shipping"])

	shipping, err := ext.Extract(ctx, batch.Projects[1])
	require.NoError(t, err)
	assert.Equal(t, "shipping", shipping.Name())
	assert.Len(t, shipping.Endpoints(), 2)

	parser := reference.NewFileParser()
	doc, err := parser.Parse(ctx, batch.References[0])
	require.NoError(t, err)
	assert.Equal(t, "orders", doc.Service())
	assert.Len(t, doc.APIEntries(), 2)
	assert.Len(t, doc.SequenceSteps(), 2)
	assert.Len(t, doc.ExternalAPIs(), 2)

	doc, err = parser.Parse(ctx, batch.References[1])
	require.NoError(t, err)
	assert.Equal(t, "shipping", doc.Service())
	assert.Equal(t, []string{"POST /shipments", "GET /shipments/{id}", "DELETE /shipments/{id}"}, doc.ExposedAPIs())
}

func TestWrite_IsRepeatable(t *testing.T) {
	dir := t.TempDir()
	first, err := Write(dir)
	require.NoError(t, err)
	second, err := Write(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetAllFiles_Described(t *testing.T) {
	for _, f := range GetAllFiles() {
		assert.NotEmpty(t, f.Path)
		assert.NotEmpty(t, f.Description, f.Path)
		assert.NotEmpty(t, f.Content, f.Path)
	}
}
