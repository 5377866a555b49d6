package assets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/klear-options/internal/cache"
	"github.com/ksred/klear-options/internal/config"
	"github.com/ksred/klear-options/internal/database"
	"github.com/ksred/klear-options/internal/types"
)

type memShared struct {
	assets map[string]types.Asset
	getErr error
	gets   int
}

func (m *memShared) Get(_ context.Context, id string) (*types.Asset, error) {
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	a, ok := m.assets[id]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return &a, nil
}

func (m *memShared) Set(_ context.Context, a *types.Asset) error {
	m.assets[a.AssetID] = *a
	return nil
}

func (m *memShared) Delete(_ context.Context, id string) error {
	delete(m.assets, id)
	return nil
}

var seeds = []config.AssetSeed{
	{ID: "btc-usd", Symbol: "BTCUSD", Name: "Bitcoin", ProfitRate: 85, Active: true},
	{ID: "eur-usd", Symbol: "EURUSD", Name: "Euro", ProfitRate: 80, Active: true},
	{ID: "xau-usd", Symbol: "XAUUSD", Name: "Gold", ProfitRate: 78, Active: false},
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newDirectory(t *testing.T, shared SharedCache) (*Directory, *clock) {
	t.Helper()
	db, err := database.NewDatabase(":memory:")
	require.NoError(t, err)

	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	d := NewDirectory(db, cache.NewAssetCache(30*time.Second, clk.Now), shared)
	require.NoError(t, d.Seed(context.Background(), seeds))
	return d, clk
}

func TestGetAssetByID(t *testing.T) {
	d, _ := newDirectory(t, nil)

	a, err := d.GetAssetByID(context.Background(), "btc-usd")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD", a.Symbol)
	assert.True(t, a.ProfitRate.Equal(decimal.NewFromInt(85)))
	assert.True(t, a.IsActive)

	_, err = d.GetAssetByID(context.Background(), "doge-usd")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestCachedRateMayLagAdminEdits(t *testing.T) {
	d, clk := newDirectory(t, nil)
	ctx := context.Background()

	_, err := d.GetAssetByID(ctx, "btc-usd")
	require.NoError(t, err)

	// edit the row behind the directory's back
	require.NoError(t, d.db.Model(&types.Asset{}).Where("asset_id = ?", "btc-usd").Update("profit_rate", "70").Error)

	a, err := d.GetAssetByID(ctx, "btc-usd")
	require.NoError(t, err)
	assert.True(t, a.ProfitRate.Equal(decimal.NewFromInt(85)), "served from cache")

	clk.now = clk.now.Add(31 * time.Second)
	a, err = d.GetAssetByID(ctx, "btc-usd")
	require.NoError(t, err)
	assert.True(t, a.ProfitRate.Equal(decimal.NewFromInt(70)))
}

func TestUpsertEvictsCaches(t *testing.T) {
	shared := &memShared{assets: map[string]types.Asset{}}
	d, _ := newDirectory(t, shared)
	ctx := context.Background()

	_, err := d.GetAssetByID(ctx, "btc-usd")
	require.NoError(t, err)
	assert.Contains(t, shared.assets, "btc-usd")

	require.NoError(t, d.Upsert(ctx, &types.Asset{
		AssetID:    "btc-usd",
		Symbol:     "BTCUSD",
		Name:       "Bitcoin",
		ProfitRate: decimal.NewFromInt(90),
		IsActive:   false,
	}))
	assert.NotContains(t, shared.assets, "btc-usd")

	a, err := d.GetAssetByID(ctx, "btc-usd")
	require.NoError(t, err)
	assert.True(t, a.ProfitRate.Equal(decimal.NewFromInt(90)))
	assert.False(t, a.IsActive)
}

func TestSharedCacheServesAndDegrades(t *testing.T) {
	shared := &memShared{assets: map[string]types.Asset{
		"sol-usd": {AssetID: "sol-usd", Symbol: "SOLUSD", ProfitRate: decimal.NewFromInt(75), IsActive: true},
	}}
	d, _ := newDirectory(t, shared)
	ctx := context.Background()

	a, err := d.GetAssetByID(ctx, "sol-usd")
	require.NoError(t, err)
	assert.Equal(t, "SOLUSD", a.Symbol)

	// an unreachable shared cache falls through to the database
	shared.getErr = errors.New("redis: connection refused")
	a, err = d.GetAssetByID(ctx, "eur-usd")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", a.Symbol)
}

func TestListAssetsHandler(t *testing.T) {
	d, _ := newDirectory(t, nil)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/v1/assets", NewGinHandlers(d).ListAssetsHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BTCUSD")
	assert.Contains(t, w.Body.String(), "EURUSD")
	assert.NotContains(t, w.Body.String(), "XAUUSD")
}
