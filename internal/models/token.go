package models

import "time"

type Token struct {
	TokenID     int64      `json:"id"`
	LocationID  string     `json:"location_id"`
	TokenNumber int64      `json:"token_number"`
	RequestID   *int64     `json:"request_id,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
	ServedAt    *time.Time `json:"served_at"`
}
