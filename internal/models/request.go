package models

import "time"

type Request struct {
	RequestID   int64      `json:"id"`
	LocationID  string     `json:"location_id"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	TokenNumber *int64     `json:"token_number,omitempty"`
}

const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)
