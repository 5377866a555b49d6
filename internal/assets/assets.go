package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/klear-options/internal/cache"
	"github.com/ksred/klear-options/internal/config"
	"github.com/ksred/klear-options/internal/types"
	"github.com/ksred/klear-options/pkg/response"
)

var ErrAssetNotFound = errors.New("asset not found")

// SharedCache is a cross-process asset cache consulted after the local one
type SharedCache interface {
	Get(ctx context.Context, assetID string) (*types.Asset, error)
	Set(ctx context.Context, asset *types.Asset) error
	Delete(ctx context.Context, assetID string) error
}

// Directory resolves asset ids to trading metadata. Lookups may serve a profit
// rate a few seconds older than the latest admin edit; orders copy the rate by
// value so open orders never change.
type Directory struct {
	db     *gorm.DB
	local  *cache.TTL[string, types.Asset]
	shared SharedCache
}

// NewDirectory creates the directory. shared may be nil.
func NewDirectory(db *gorm.DB, local *cache.TTL[string, types.Asset], shared SharedCache) *Directory {
	return &Directory{
		db:     db,
		local:  local,
		shared: shared,
	}
}

// GetAssetByID returns the asset or ErrAssetNotFound
func (d *Directory) GetAssetByID(ctx context.Context, assetID string) (*types.Asset, error) {
	if asset, ok := d.local.Get(assetID); ok {
		return &asset, nil
	}

	if d.shared != nil {
		asset, err := d.shared.Get(ctx, assetID)
		switch {
		case err == nil:
			d.local.Set(assetID, *asset)
			return asset, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			log.Warn().Err(err).Str("asset_id", assetID).Msg("shared asset cache unavailable")
		}
	}

	var asset types.Asset
	if err := d.db.WithContext(ctx).Where("asset_id = ?", assetID).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}

	d.local.Set(assetID, asset)
	if d.shared != nil {
		if err := d.shared.Set(ctx, &asset); err != nil {
			log.Warn().Err(err).Str("asset_id", assetID).Msg("failed to populate shared asset cache")
		}
	}
	return &asset, nil
}

// ListActive returns every tradable asset
func (d *Directory) ListActive(ctx context.Context) ([]types.Asset, error) {
	var assets []types.Asset
	if err := d.db.WithContext(ctx).Where("is_active = ?", true).Order("symbol").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// Upsert creates or replaces an asset and drops it from the caches
func (d *Directory) Upsert(ctx context.Context, asset *types.Asset) error {
	asset.UpdatedAt = time.Now()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = asset.UpdatedAt
	}

	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "name", "profit_rate", "is_active", "updated_at"}),
	}).Create(asset).Error
	if err != nil {
		return fmt.Errorf("failed to upsert asset: %w", err)
	}

	d.local.Delete(asset.AssetID)
	if d.shared != nil {
		if err := d.shared.Delete(ctx, asset.AssetID); err != nil {
			log.Warn().Err(err).Str("asset_id", asset.AssetID).Msg("failed to evict shared asset cache")
		}
	}
	return nil
}

// Seed loads configured assets into the directory
func (d *Directory) Seed(ctx context.Context, seeds []config.AssetSeed) error {
	for _, s := range seeds {
		asset := &types.Asset{
			AssetID:    s.ID,
			Symbol:     s.Symbol,
			Name:       s.Name,
			ProfitRate: decimal.NewFromFloat(s.ProfitRate),
			IsActive:   s.Active,
		}
		if err := d.Upsert(ctx, asset); err != nil {
			return err
		}
	}

	log.Info().Int("assets", len(seeds)).Msg("asset directory seeded")
	return nil
}

// GinHandlers contains HTTP handlers for asset endpoints
type GinHandlers struct {
	directory *Directory
}

func NewGinHandlers(directory *Directory) *GinHandlers {
	return &GinHandlers{directory: directory}
}

// ListAssetsHandler handles GET requests listing tradable assets
func (h *GinHandlers) ListAssetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		assets, err := h.directory.ListActive(c.Request.Context())
		response.Handle(c, assets, err)
	}
}
