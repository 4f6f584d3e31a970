package models

import "time"

// Audit action kinds
const (
	AuditApproveRequest      = "request.approve"
	AuditBulkApproveRequests = "request.bulk_approve"
	AuditBulkDeleteRequests  = "request.bulk_delete"
	AuditBulkDeleteReports   = "report.bulk_delete"
	AuditReviewReport        = "report.review"
	AuditRefundTransaction   = "transaction.refund"
)

// AuditLogEntry is a write-once record of a privileged action
type AuditLogEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Detail     map[string]any `json:"detail"`
	CreatedAt  time.Time      `json:"created_at"`
}
