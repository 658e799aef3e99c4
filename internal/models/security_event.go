package models

import "time"

// Security event types emitted by the auth flows.
const (
	EventCodeSent            = "code_sent"
	EventCodeSendFailed      = "code_send_failed"
	EventCodeVerified        = "code_verified"
	EventCodeRejected        = "code_rejected"
	EventLoginSucceeded      = "login_succeeded"
	EventLoginRejected       = "login_rejected"
	EventTokenRefreshed      = "token_refreshed"
	EventRefreshRejected     = "refresh_rejected"
	EventMasterAccessGranted = "master_access_granted"
	EventMasterAccessDenied  = "master_access_denied"
	EventLogout              = "logout"
	EventUserCreated         = "user_created"
)

// SecurityEvent is the audit record fanned out to Kafka, ClickHouse and
// Elasticsearch. UserID and PhoneHash may be empty for pre-identity events.
type SecurityEvent struct {
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	EventID     string    `db:"event_id" json:"event_id"`
	EventType   string    `db:"event_type" json:"event_type"`
	EventTime   time.Time `db:"event_time" json:"event_time"`
	UserID      string    `db:"user_id" json:"user_id,omitempty"`
	PhoneHash   string    `db:"phone_hash" json:"phone_hash,omitempty"`
	IPAddress   string    `db:"ip_address" json:"ip_address,omitempty"`
	Details     string    `db:"details" json:"details,omitempty"`
}
