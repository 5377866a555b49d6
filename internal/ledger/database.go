package ledger

import (
	"context"

	"github.com/ksred/klear-options/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) InsertEntry(ctx context.Context, entry *types.BalanceEntry) error {
	return d.db.WithContext(ctx).Create(entry).Error
}

// SumBalance folds every entry of the account into its current balance
func (d *Database) SumBalance(ctx context.Context, userID string, accountType types.AccountType) (int64, error) {
	var total int64
	err := d.db.WithContext(ctx).
		Model(&types.BalanceEntry{}).
		Where("user_id = ? AND account_type = ?", userID, accountType).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (d *Database) ListEntries(ctx context.Context, userID string, accountType types.AccountType, limit int) ([]types.BalanceEntry, error) {
	var entries []types.BalanceEntry
	if err := d.db.WithContext(ctx).
		Where("user_id = ? AND account_type = ?", userID, accountType).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *Database) FindByReference(ctx context.Context, kind types.EntryKind, reference string) ([]types.BalanceEntry, error) {
	var entries []types.BalanceEntry
	if err := d.db.WithContext(ctx).
		Where("kind = ? AND reference = ?", kind, reference).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
