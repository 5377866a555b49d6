package migrations

import "gorm.io/gorm"

// AddLedgerIndexes makes gateway deposits idempotent and speeds up balance folds
func AddLedgerIndexes(db *gorm.DB) error {
	indexes := []string{
		// A gateway reference can be credited once per account
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_balance_entries_deposit_ref
		 ON balance_entries(user_id, account_type, reference)
		 WHERE kind = 'DEPOSIT'`,

		// Settlement credit is written at most once per order
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_balance_entries_profit_ref
		 ON balance_entries(reference)
		 WHERE kind = 'ORDER_PROFIT'`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
