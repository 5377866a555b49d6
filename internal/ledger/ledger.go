package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/klear-options/internal/metrics"
	"github.com/ksred/klear-options/internal/types"
)

var (
	ErrInvalidEntry   = errors.New("invalid ledger entry")
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
)

// EntryRequest describes a balance effect to append
type EntryRequest struct {
	AccountType types.AccountType
	Kind        types.EntryKind
	Amount      int64
	Reference   string
	Description string
}

// AppendOptions controls how an entry is written.
// Wait blocks until the entry is stored; Critical additionally marks the entry as
// one whose loss would create money out of thin air. Both surface write errors.
// With neither set the entry is written in the background.
type AppendOptions struct {
	Wait     bool
	Critical bool
}

// Service is the append-only balance ledger. Balances are never stored; they are
// the sum of every entry of a (user, account type) pair.
type Service struct {
	db   *Database
	sink *AsyncSink
	now  func() time.Time
}

// NewService creates the ledger and starts its background writer
func NewService(gormDB *gorm.DB, m *metrics.Metrics, queueSize int) *Service {
	s := &Service{
		db:  NewDatabase(gormDB),
		now: time.Now,
	}
	s.sink = NewAsyncSink(s.db.InsertEntry, queueSize, m)
	return s
}

// CurrentBalance returns the folded balance of one account
func (s *Service) CurrentBalance(ctx context.Context, userID string, accountType types.AccountType) (int64, error) {
	balance, err := s.db.SumBalance(ctx, userID, accountType)
	if err != nil {
		return 0, fmt.Errorf("failed to fold balance: %w", err)
	}
	return balance, nil
}

// AppendEntry appends a signed entry to the account
func (s *Service) AppendEntry(ctx context.Context, userID string, req EntryRequest, opts AppendOptions) error {
	if userID == "" || !req.AccountType.Valid() || req.Kind == "" || req.Amount == 0 {
		return ErrInvalidEntry
	}

	entry := &types.BalanceEntry{
		EntryID:     uuid.New().String(),
		UserID:      userID,
		AccountType: req.AccountType,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
		CreatedAt:   s.now(),
	}

	if !opts.Wait && !opts.Critical {
		s.sink.Submit(entry)
		return nil
	}

	if err := s.db.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s %s", ErrDuplicateEntry, req.Kind, req.Reference)
		}
		if opts.Critical {
			log.Error().
				Err(err).
				Str("service", "ledger").
				Str("user_id", userID).
				Str("kind", string(req.Kind)).
				Str("reference", req.Reference).
				Int64("amount", req.Amount).
				Msg("critical ledger write failed")
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Entries returns the newest entries of an account
func (s *Service) Entries(ctx context.Context, userID string, accountType types.AccountType, limit int) ([]types.BalanceEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.db.ListEntries(ctx, userID, accountType, limit)
}

// EntriesByReference returns entries of a kind written for a reference (order id, gateway id)
func (s *Service) EntriesByReference(ctx context.Context, kind types.EntryKind, reference string) ([]types.BalanceEntry, error) {
	return s.db.FindByReference(ctx, kind, reference)
}

// Deposit credits a confirmed gateway payment. Replaying the same reference is
// reported as a duplicate and credits nothing.
func (s *Service) Deposit(ctx context.Context, userID string, accountType types.AccountType, amount int64, reference string) error {
	if amount <= 0 || reference == "" {
		return ErrInvalidEntry
	}
	return s.AppendEntry(ctx, userID, EntryRequest{
		AccountType: accountType,
		Kind:        types.EntryDeposit,
		Amount:      amount,
		Reference:   reference,
		Description: "gateway deposit " + reference,
	}, AppendOptions{Wait: true, Critical: true})
}

// ResetDemo tops the demo account back up to target with a voucher bonus.
// Returns the resulting balance.
func (s *Service) ResetDemo(ctx context.Context, userID string, target int64) (int64, error) {
	current, err := s.CurrentBalance(ctx, userID, types.AccountDemo)
	if err != nil {
		return 0, err
	}
	if current >= target {
		return current, nil
	}

	err = s.AppendEntry(ctx, userID, EntryRequest{
		AccountType: types.AccountDemo,
		Kind:        types.EntryVoucherBonus,
		Amount:      target - current,
		Description: "demo balance reset",
	}, AppendOptions{Wait: true})
	if err != nil {
		return 0, err
	}
	return target, nil
}

// Pending returns the number of background writes still queued
func (s *Service) Pending() int64 {
	return s.sink.Pending()
}

// Close drains the background writer
func (s *Service) Close() {
	s.sink.Close()
}
