package models

import "time"

// VerificationRecord is the pending one-time code for a phone number. The
// code itself is stored argon2-hashed; Redis enforces the TTL. One record
// per phone, last write wins.
type VerificationRecord struct {
	CodeHash  string    `json:"code_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshSession is a persisted single-use refresh token grant. The token
// string itself is the lookup key (hashed); only the owner survives at rest.
type RefreshSession struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
