package models

import (
	"time"
)

// RequestCategory classifies a listing
type RequestCategory string

const (
	CategoryLost   RequestCategory = "LOST"
	CategoryFound  RequestCategory = "FOUND"
	CategoryReward RequestCategory = "REWARD"
	CategoryReport RequestCategory = "REPORT"
)

// Categories lists the accepted request categories
var Categories = []RequestCategory{
	CategoryLost,
	CategoryFound,
	CategoryReward,
	CategoryReport,
}

// Valid reports whether c is one of the enumerated categories
func (c RequestCategory) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// RequestStatus is the lifecycle state of a lost-item request
type RequestStatus string

const (
	RequestPending        RequestStatus = "PENDING"
	RequestPendingDeposit RequestStatus = "PENDING_DEPOSIT"
	RequestOpen           RequestStatus = "OPEN"
	RequestInProgress     RequestStatus = "IN_PROGRESS"
	RequestCompleted      RequestStatus = "COMPLETED"
	RequestCanceled       RequestStatus = "CANCELED"
)

// Terminal reports whether no further transition is allowed
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCanceled
}

// Public reports whether requests in this state are visible to everyone
func (s RequestStatus) Public() bool {
	return s == RequestOpen || s == RequestInProgress || s == RequestCompleted
}

// Request represents a lost-item listing with an escrowed reward
type Request struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      RequestCategory `json:"category"`
	RewardAmount  int64           `json:"reward_amount"`
	DepositAmount int64           `json:"deposit_amount"`
	Location      string          `json:"location"`
	Latitude      *float64        `json:"latitude,omitempty"`
	Longitude     *float64        `json:"longitude,omitempty"`
	Photos        []string        `json:"photos"`
	Status        RequestStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HasCoordinates reports whether both latitude and longitude are set
func (r *Request) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// CreateRequestInput represents the payload for creating a request
type CreateRequestInput struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Category     RequestCategory `json:"category"`
	RewardAmount int64           `json:"reward_amount"`
	Location     string          `json:"location"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	Photos       []string        `json:"photos"`
}

// UpdateRequestInput carries optional edits; nil fields are left untouched
type UpdateRequestInput struct {
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	RewardAmount *int64    `json:"reward_amount,omitempty"`
	Location     *string   `json:"location,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Photos       *[]string `json:"photos,omitempty"`
}

// RequestFilter narrows a request listing
type RequestFilter struct {
	Category    *RequestCategory
	Status      *RequestStatus
	Keyword     string
	OwnerID     string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	// VisibleTo restricts results to public states plus the given owner's own requests.
	// Empty means no visibility restriction (administrators).
	VisibleTo string
	Limit     int
	Offset    int
}
