package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountType separates the two independent balances every user holds
type AccountType string

const (
	AccountReal AccountType = "real"
	AccountDemo AccountType = "demo"
)

// AccountTypes lists every account type in settlement order
var AccountTypes = []AccountType{AccountReal, AccountDemo}

// Valid reports whether the account type is exactly real or demo
func (a AccountType) Valid() bool {
	return a == AccountReal || a == AccountDemo
}

// Direction is the side of a bet: CALL wins on a rising price, PUT on a falling one
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

type OrderStatus string

const (
	StatusPending OrderStatus = "PENDING" // reserved
	StatusActive  OrderStatus = "ACTIVE"
	StatusWon     OrderStatus = "WON"
	StatusLost    OrderStatus = "LOST"
	StatusExpired OrderStatus = "EXPIRED" // reserved
)

// Closed reports whether the order has been resolved
func (s OrderStatus) Closed() bool {
	return s == StatusWon || s == StatusLost
}

// Order is a single timed CALL/PUT bet against a reference price
type Order struct {
	gorm.Model      `json:"-"`
	OrderID         string              `gorm:"uniqueIndex" json:"order_id"`
	UserID          string              `gorm:"index:idx_orders_user_account" json:"user_id"`
	AccountType     AccountType         `gorm:"index:idx_orders_user_account;index:idx_orders_status_account" json:"account_type"`
	AssetID         string              `json:"asset_id"`
	AssetName       string              `json:"asset_name"`
	Direction       Direction           `json:"direction"`
	Amount          int64               `json:"amount"` // minor units
	DurationSeconds int                 `json:"duration_seconds"`
	ProfitRate      decimal.Decimal     `gorm:"type:decimal(10,4)" json:"profit_rate"` // percent, copied from the asset
	EntryPrice      decimal.Decimal     `gorm:"type:decimal(24,8)" json:"entry_price"`
	EntryTime       time.Time           `json:"entry_time"`
	ExitPrice       decimal.NullDecimal `gorm:"type:decimal(24,8)" json:"exit_price"`
	ExitTime        time.Time           `gorm:"index" json:"exit_time"` // scheduled expiry
	Status          OrderStatus         `gorm:"index:idx_orders_status_account" json:"status"`
	Profit          *int64              `json:"profit"`
	SettledAt       *time.Time          `json:"settled_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// DurationMinutes returns the order duration in whole minutes, 0 for sub-minute test orders
func (o *Order) DurationMinutes() int {
	return o.DurationSeconds / 60
}

// MarshalJSON adds duration_minutes next to duration_seconds
func (o Order) MarshalJSON() ([]byte, error) {
	type order Order
	return json.Marshal(struct {
		order
		DurationMinutes int `json:"duration_minutes"`
	}{order(o), o.DurationMinutes()})
}

// Asset is the trading metadata for a priced instrument
type Asset struct {
	gorm.Model `json:"-"`
	AssetID    string          `gorm:"uniqueIndex" json:"asset_id"`
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	ProfitRate decimal.Decimal `gorm:"type:decimal(10,4)" json:"profit_rate"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type EntryKind string

const (
	EntryDeposit      EntryKind = "DEPOSIT"
	EntryOrderDebit   EntryKind = "ORDER_DEBIT"
	EntryOrderProfit  EntryKind = "ORDER_PROFIT"
	EntryVoucherBonus EntryKind = "VOUCHER_BONUS"
	EntryWithdrawal   EntryKind = "WITHDRAWAL"
)

// BalanceEntry is an immutable, signed balance-effect row
type BalanceEntry struct {
	gorm.Model  `json:"-"`
	EntryID     string      `gorm:"uniqueIndex" json:"entry_id"`
	UserID      string      `gorm:"index:idx_balance_entries_owner" json:"user_id"`
	AccountType AccountType `gorm:"index:idx_balance_entries_owner" json:"account_type"`
	Kind        EntryKind   `json:"kind"`
	Amount      int64       `json:"amount"`
	Reference   string      `gorm:"index" json:"reference,omitempty"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}
