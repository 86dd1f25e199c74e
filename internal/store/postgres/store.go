// Package postgres persists the observable event log. The core ledger stays
// in memory; this journal exists so the event stream survives the process.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/jj902/delayedjobs/internal/domain"
	"github.com/jj902/delayedjobs/internal/journal"
)

// Store implements journal.Store on PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a store using the given database connection. opTimeout bounds
// each statement; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

// EnsureSchema creates the journal table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, queryCreateEventsTable)
	return err
}

// InsertEvent appends one event to the journal.
func (s *Store) InsertEvent(ctx context.Context, event domain.Event) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertEvent,
		event.ID,
		string(event.Type),
		event.JobID,
		event.Target,
		event.Signature,
		event.BiddingWindow.Milliseconds(),
		event.ExecutionWindow.Milliseconds(),
		string(event.Account),
		amountText(event.Amount),
		event.OccurredAt,
	)
	return err
}

// ListEvents returns the journal entries for one job in emission order,
// paginated by limit and offset.
func (s *Store) ListEvents(ctx context.Context, jobID uint64, limit, offset int) ([]domain.Event, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEvents, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		var (
			event       domain.Event
			typ         string
			account     string
			amount      string
			biddingMs   int64
			executionMs int64
		)
		err := rows.Scan(
			&event.ID,
			&typ,
			&event.JobID,
			&event.Target,
			&event.Signature,
			&biddingMs,
			&executionMs,
			&account,
			&amount,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, err
		}
		event.Type = domain.EventType(typ)
		event.Account = domain.Address(account)
		event.BiddingWindow = time.Duration(biddingMs) * time.Millisecond
		event.ExecutionWindow = time.Duration(executionMs) * time.Millisecond
		event.Amount, err = parseAmount(amount)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PingContext reports database health for the /health endpoint.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func amountText(a *big.Int) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	a, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return a, nil
}

// Compile-time interface assertion
var _ journal.Store = (*Store)(nil)
