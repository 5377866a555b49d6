package migrations

import "gorm.io/gorm"

// AddOrderIndexes creates the indexes used by the settlement sweep and order listings
func AddOrderIndexes(db *gorm.DB) error {
	indexes := []string{
		// Sweep query: active orders per account type, earliest expiry first
		`CREATE INDEX IF NOT EXISTS idx_orders_active_exit
		 ON orders(account_type, exit_time)
		 WHERE status = 'ACTIVE'`,

		// Order history per user, newest first
		`CREATE INDEX IF NOT EXISTS idx_orders_user_created
		 ON orders(user_id, created_at DESC)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
