package interfaces

import (
	"context"
	"errors"
)

// ErrInsufficientCredits is the billing sentinel for an exhausted balance.
// It is run-fatal: callers abort the whole run rather than retrying.
var ErrInsufficientCredits = errors.New("insufficient credits")

// BillingService settles consumed units against a team's balance.
type BillingService interface {
	// BillTeam records units consumed. Returns ErrInsufficientCredits when
	// the balance cannot cover the units.
	BillTeam(ctx context.Context, teamID, subscriptionID string, units int, metadata map[string]string) error

	// Balance reports the remaining credits for a team.
	Balance(ctx context.Context, teamID string) (int, error)
}
