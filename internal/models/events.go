package models

import "time"

// StatusChangedEvent is published after a committed lifecycle transition
type StatusChangedEvent struct {
	EntityType string    `json:"entity_type"` // request, report
	EntityID   string    `json:"entity_id"`
	RequestID  string    `json:"request_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReportSubmittedEvent is published when a finder files a report
type ReportSubmittedEvent struct {
	ReportID          string    `json:"report_id"`
	RequestID         string    `json:"request_id"`
	ReporterID        string    `json:"reporter_id"`
	Status            string    `json:"status"`
	VerificationScore float64   `json:"verification_score"`
	Timestamp         time.Time `json:"timestamp"`
}

// DepositPaidEvent is consumed from the payment webhook relay
type DepositPaidEvent struct {
	RequestID  string    `json:"request_id"`
	PaymentRef string    `json:"payment_ref"`
	Timestamp  time.Time `json:"timestamp"`
}
