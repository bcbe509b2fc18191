// Package billing settles consumed units against per-team credit ledgers.
// Charges are run-level: a crawl or research run settles once with the count
// of distinct URLs it actually scraped.
package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// Service implements BillingService over the ledger store. When billing is
// disabled every charge is a no-op so self-hosted deployments run unmetered.
type Service struct {
	store  interfaces.LedgerStore
	config *common.BillingConfig
	logger arbor.ILogger
}

// NewService creates the billing service
func NewService(store interfaces.LedgerStore, config *common.BillingConfig, logger arbor.ILogger) interfaces.BillingService {
	return &Service{
		store:  store,
		config: config,
		logger: logger,
	}
}

// BillTeam settles units against the team's balance. Zero units and runs
// without a team settle trivially. Returns ErrInsufficientCredits when the
// balance cannot cover the charge; callers treat that as run-fatal.
func (s *Service) BillTeam(ctx context.Context, teamID, subscriptionID string, units int, metadata map[string]string) error {
	if units <= 0 || teamID == "" {
		return nil
	}
	if !s.config.Enabled {
		s.logger.Debug().
			Str("team_id", teamID).
			Int("units", units).
			Msg("Billing disabled, charge skipped")
		return nil
	}

	event := &models.BillingEvent{
		ID:             uuid.New().String(),
		SubscriptionID: subscriptionID,
		Metadata:       metadata,
	}

	remaining, err := s.store.Debit(ctx, teamID, units, s.config.DefaultCredits, event)
	if err != nil {
		if errors.Is(err, interfaces.ErrInsufficientCredits) {
			s.logger.Warn().
				Str("team_id", teamID).
				Int("units", units).
				Int("balance", remaining).
				Msg("Charge rejected, insufficient credits")
		}
		return err
	}

	s.logger.Info().
		Str("team_id", teamID).
		Int("units", units).
		Int("remaining", remaining).
		Msg("Billed team")
	return nil
}

// Balance reports the team's remaining credits. A team that has never been
// billed reports the seed balance it would start with.
func (s *Service) Balance(ctx context.Context, teamID string) (int, error) {
	balance, err := s.store.Balance(ctx, teamID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return s.config.DefaultCredits, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

var _ interfaces.BillingService = (*Service)(nil)
