package models

import "time"

// TransactionType is the kind of money movement recorded in the ledger
type TransactionType string

const (
	TransactionDeposit TransactionType = "DEPOSIT"
	TransactionReward  TransactionType = "REWARD"
	TransactionRefund  TransactionType = "REFUND"
)

// TransactionStatus is the settlement state of a ledger entry
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionRefunded  TransactionStatus = "REFUNDED"
)

// Transaction is an append-only ledger entry. RequestID and ReportID are
// nulled, never cascaded, when their parents are deleted.
type Transaction struct {
	ID         string            `json:"id"`
	Type       TransactionType   `json:"type"`
	Amount     int64             `json:"amount"`
	Status     TransactionStatus `json:"status"`
	UserID     string            `json:"user_id"`
	RequestID  *string           `json:"request_id,omitempty"`
	ReportID   *string           `json:"report_id,omitempty"`
	PaymentRef *string           `json:"payment_ref,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TransactionFilter narrows a ledger listing
type TransactionFilter struct {
	RequestID string
	UserID    string
	Type      *TransactionType
	Status    *TransactionStatus
	Limit     int
}

// Payment is the gateway's view of a client-side payment
type Payment struct {
	Ref    string `json:"ref"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// PaymentPaid is the only gateway status accepted as a settled payment
const PaymentPaid = "paid"
