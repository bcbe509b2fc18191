package models

import "time"

// TeamLedger is one team's credit balance.
type TeamLedger struct {
	TeamID    string    `json:"team_id" badgerhold:"key"`
	Credits   int       `json:"credits"`
	Consumed  int       `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BillingEvent records one settled charge against a team's ledger.
type BillingEvent struct {
	ID             string            `json:"id" badgerhold:"key"`
	TeamID         string            `json:"team_id" badgerhold:"index"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Units          int               `json:"units"`
	Remaining      int               `json:"remaining"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
