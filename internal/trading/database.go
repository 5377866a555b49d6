package trading

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/klear-options/internal/types"
)

// Database is the gorm-backed order store
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(ctx context.Context, order *types.Order) error {
	return d.db.WithContext(ctx).Create(order).Error
}

// GetOrder returns nil without error when the order does not exist
func (d *Database) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders returns one page of a user's orders, newest first, and the total match count
func (d *Database) ListOrders(ctx context.Context, userID string, q ListOrdersQuery) ([]types.Order, int64, error) {
	query := d.db.WithContext(ctx).Model(&types.Order{}).Where("user_id = ?", userID)
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.AccountType != "" {
		query = query.Where("account_type = ?", q.AccountType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []types.Order
	err := query.Order("created_at DESC").Order("id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// FindActive returns up to limit active orders of an account type, earliest expiry first
func (d *Database) FindActive(ctx context.Context, accountType types.AccountType, limit int) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.WithContext(ctx).
		Where("status = ? AND account_type = ?", types.StatusActive, accountType).
		Order("exit_time ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) FindActiveByUser(ctx context.Context, userID string, accountType types.AccountType) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND account_type = ? AND status = ?", userID, accountType, types.StatusActive).
		Order("exit_time ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ResolveOrder writes the outcome of an order in a single update guarded on the
// order still being ACTIVE. It reports false when the order was already closed.
func (d *Database) ResolveOrder(ctx context.Context, order *types.Order) (bool, error) {
	result := d.db.WithContext(ctx).Model(&types.Order{}).
		Where("order_id = ? AND status = ?", order.OrderID, types.StatusActive).
		Updates(map[string]interface{}{
			"exit_price": order.ExitPrice,
			"status":     order.Status,
			"profit":     order.Profit,
			"settled_at": order.SettledAt,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
