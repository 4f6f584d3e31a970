package models

import (
	"time"
)

// ReportStatus is the lifecycle state of a found-item report
type ReportStatus string

const (
	ReportPending   ReportStatus = "PENDING"
	ReportAccepted  ReportStatus = "ACCEPTED"
	ReportRejected  ReportStatus = "REJECTED"
	ReportDelivered ReportStatus = "DELIVERED"
)

// Report represents a finder's claim against exactly one request
type Report struct {
	ID                string       `json:"id"`
	RequestID         string       `json:"request_id"`
	ReporterID        string       `json:"reporter_id"`
	Description       string       `json:"description"`
	Photos            []string     `json:"photos"`
	CaptureLatitude   *float64     `json:"capture_latitude,omitempty"`
	CaptureLongitude  *float64     `json:"capture_longitude,omitempty"`
	CapturedAt        *time.Time   `json:"captured_at,omitempty"`
	VerificationScore float64      `json:"verification_score"`
	SimilarityScore   float64      `json:"similarity_score"`
	Status            ReportStatus `json:"status"`
	DeliverySecret    *string      `json:"-"`
	SecretIssuedAt    *time.Time   `json:"-"`
	DeliveredAt       *time.Time   `json:"delivered_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// HasCapturePosition reports whether the photo carried GPS coordinates
func (r *Report) HasCapturePosition() bool {
	return r.CaptureLatitude != nil && r.CaptureLongitude != nil
}

// CaptureMetadata is the evidence extracted from an uploaded photo
type CaptureMetadata struct {
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	TakenAt   *time.Time `json:"taken_at,omitempty"`
}

// Empty reports whether no evidence was extracted
func (m CaptureMetadata) Empty() bool {
	return m.Latitude == nil && m.Longitude == nil && m.TakenAt == nil
}

// CreateReportInput represents the payload for submitting a report. Capture
// position and time are read from the stored photos, never from the payload.
type CreateReportInput struct {
	Description string   `json:"description"`
	Photos      []string `json:"photos"`
}

// UpdateReportInput carries optional edits; nil fields are left untouched
type UpdateReportInput struct {
	Description *string   `json:"description,omitempty"`
	Photos      *[]string `json:"photos,omitempty"`
}

// ReviewDecision is an owner or administrator verdict on a pending report
type ReviewDecision struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}
