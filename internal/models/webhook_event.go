package models

import "time"

// Outcome of processing one webhook delivery.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnknownOrder Outcome = "unknown_order"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeRejected     Outcome = "rejected"
	OutcomeError        Outcome = "error"
)

// WebhookEvent is the audit record of an inbound gateway delivery.
type WebhookEvent struct {
	ID         string    `bson:"_id" json:"id"`
	Provider   string    `bson:"provider" json:"provider"`
	EventID    string    `bson:"event_id,omitempty" json:"event_id,omitempty"`
	Kind       string    `bson:"kind" json:"kind"`
	OrderToken string    `bson:"order_token,omitempty" json:"order_token,omitempty"`
	IntentID   string    `bson:"intent_id,omitempty" json:"intent_id,omitempty"`
	Outcome    Outcome   `bson:"outcome" json:"outcome"`
	Error      string    `bson:"error,omitempty" json:"error,omitempty"`
	Payload    string    `bson:"payload" json:"payload"`
	ReceivedAt time.Time `bson:"received_at" json:"received_at"`
}
