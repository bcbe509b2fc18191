package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// LedgerStorage keeps per-team credit balances and their charge history.
// The mutex serializes read-modify-write cycles so concurrent debits for one
// process cannot jointly overdraw a balance.
type LedgerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewLedgerStorage creates a credit ledger on the shared Badger DB
func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LedgerStore {
	return &LedgerStorage{
		db:     db,
		logger: logger,
	}
}

// Debit subtracts units from the team's balance and appends the charge event.
// An absent ledger is seeded with seedCredits before the debit. Returns
// ErrInsufficientCredits without changing anything when the balance cannot
// cover the units.
func (s *LedgerStorage) Debit(ctx context.Context, teamID string, units, seedCredits int, event *models.BillingEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.load(teamID, seedCredits)
	if err != nil {
		return 0, err
	}

	if ledger.Credits < units {
		return ledger.Credits, fmt.Errorf("%w: team %s has %d credits, needs %d",
			interfaces.ErrInsufficientCredits, teamID, ledger.Credits, units)
	}

	ledger.Credits -= units
	ledger.Consumed += units
	ledger.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(ledger.TeamID, ledger); err != nil {
		return 0, fmt.Errorf("failed to save ledger: %w", err)
	}

	if event != nil {
		event.TeamID = teamID
		event.Units = units
		event.Remaining = ledger.Credits
		event.CreatedAt = ledger.UpdatedAt
		if err := s.db.Store().Insert(event.ID, event); err != nil {
			// The charge already settled; a lost event is log-worthy only
			s.logger.Warn().Err(err).
				Str("team_id", teamID).
				Msg("Failed to record billing event")
		}
	}

	return ledger.Credits, nil
}

// Credit adds units to the team's balance, seeding an absent ledger first
func (s *LedgerStorage) Credit(ctx context.Context, teamID string, units, seedCredits int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.load(teamID, seedCredits)
	if err != nil {
		return 0, err
	}

	ledger.Credits += units
	ledger.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(ledger.TeamID, ledger); err != nil {
		return 0, fmt.Errorf("failed to save ledger: %w", err)
	}
	return ledger.Credits, nil
}

// Balance returns the team's remaining credits
func (s *LedgerStorage) Balance(ctx context.Context, teamID string) (int, error) {
	var ledger models.TeamLedger
	err := s.db.Store().Get(teamID, &ledger)
	if err == badgerhold.ErrNotFound {
		return 0, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get ledger: %w", err)
	}
	return ledger.Credits, nil
}

// ListEvents returns a team's charges, newest first
func (s *LedgerStorage) ListEvents(ctx context.Context, teamID string, limit int) ([]*models.BillingEvent, error) {
	query := badgerhold.Where("TeamID").Eq(teamID).Index("TeamID").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []*models.BillingEvent
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list billing events: %w", err)
	}
	return events, nil
}

// load fetches a ledger or seeds a new one. Caller holds the mutex.
func (s *LedgerStorage) load(teamID string, seedCredits int) (*models.TeamLedger, error) {
	var ledger models.TeamLedger
	err := s.db.Store().Get(teamID, &ledger)
	if err == nil {
		return &ledger, nil
	}
	if err != badgerhold.ErrNotFound {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}

	now := time.Now()
	ledger = models.TeamLedger{
		TeamID:    teamID,
		Credits:   seedCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.logger.Debug().
		Str("team_id", teamID).
		Int("credits", seedCredits).
		Msg("Seeded team ledger")
	return &ledger, nil
}
