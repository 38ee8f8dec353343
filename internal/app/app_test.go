package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgaf/gaf-engine/internal/model"
	"github.com/cgaf/gaf-engine/internal/store"
)

func TestSeedProducts(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.Seed(ctx, model.ProductConfig{Product: "BTC-USD", MaxSize: 10}))

	err := SeedProducts(ctx, ms, []model.ProductConfig{
		{Product: "BTC-USD", MaxSize: 60},
		{Product: "ETH-USD", MaxSize: 30},
	})
	require.NoError(t, err)

	tx, err := ms.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	products, err := tx.ListProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.ProductConfig{
		{Product: "BTC-USD", MaxSize: 60},
		{Product: "ETH-USD", MaxSize: 30},
	}, products)
}

func TestSeedProducts_NothingConfigured(t *testing.T) {
	assert.NoError(t, SeedProducts(context.Background(), store.NewMemoryStore(), nil))
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler("calculate")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","service":"calculate"}`, rec.Body.String())
}
