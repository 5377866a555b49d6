package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/klear-options/internal/metrics"
	"github.com/ksred/klear-options/internal/types"
)

const asyncWriteTimeout = 5 * time.Second

type writeFunc func(ctx context.Context, entry *types.BalanceEntry) error

// AsyncSink writes ledger entries in the background and records the outcome of
// every write. A failed write is a reconciliation gap: the order that produced the
// entry already exists, so the failure is logged at error severity and counted.
type AsyncSink struct {
	write   writeFunc
	queue   chan *types.BalanceEntry
	metrics *metrics.Metrics
	pending atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts the background writer. Close must be called to drain it.
func NewAsyncSink(write writeFunc, queueSize int, m *metrics.Metrics) *AsyncSink {
	s := &AsyncSink{
		write:   write,
		queue:   make(chan *types.BalanceEntry, queueSize),
		metrics: m,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit queues entry without blocking. When the queue is full or the sink is
// closed the entry is written on the caller's goroutine instead.
func (s *AsyncSink) Submit(entry *types.BalanceEntry) {
	s.pending.Add(1)
	s.metrics.LedgerPendingWrites.Inc()

	s.mu.RLock()
	if !s.closed {
		select {
		case s.queue <- entry:
			s.mu.RUnlock()
			return
		default:
		}
	}
	s.mu.RUnlock()

	log.Warn().
		Str("component", "ledger_sink").
		Str("entry_id", entry.EntryID).
		Msg("ledger queue unavailable, writing entry inline")
	s.process(entry)
}

// Pending returns the number of submitted entries not yet written
func (s *AsyncSink) Pending() int64 {
	return s.pending.Load()
}

// Close stops accepting entries and waits for the queue to drain
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for entry := range s.queue {
		s.process(entry)
	}
}

func (s *AsyncSink) process(entry *types.BalanceEntry) {
	defer func() {
		s.pending.Add(-1)
		s.metrics.LedgerPendingWrites.Dec()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
	defer cancel()

	logger := log.With().
		Str("component", "ledger_sink").
		Str("entry_id", entry.EntryID).
		Str("user_id", entry.UserID).
		Str("account_type", string(entry.AccountType)).
		Str("kind", string(entry.Kind)).
		Str("reference", entry.Reference).
		Int64("amount", entry.Amount).
		Logger()

	if err := s.write(ctx, entry); err != nil {
		s.metrics.ReconciliationGaps.WithLabelValues(string(entry.Kind)).Inc()
		logger.Error().
			Err(err).
			Bool("reconciliation", true).
			Msg("background ledger write failed")
		return
	}

	logger.Debug().Msg("background ledger write completed")
}
