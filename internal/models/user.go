package models

import "time"

// Role is the closed set of roles a user can hold.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdmin
}

// User is the long-lived identity record. The phone number is stored as a
// lookup hash plus an encrypted value; Phone carries the plaintext only in
// memory, populated by the repository on read.
type User struct {
	UserBucket     int        `db:"user_bucket" json:"-"`
	UserID         string     `db:"user_id" json:"id"`
	Phone          string     `db:"-" json:"phone"`
	PhoneHash      string     `db:"phone_hash" json:"-"`
	PhoneEncrypted []byte     `db:"phone_encrypted" json:"-"`
	PhoneKeyID     string     `db:"phone_key_id" json:"-"`
	Verified       bool       `db:"verified" json:"verified"`
	Role           Role       `db:"role" json:"role"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	LastLogin      *time.Time `db:"last_login" json:"last_login,omitempty"`
}
