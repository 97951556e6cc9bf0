package database

import "time"

// SessionAuditLog is one lifecycle event of a bridged terminal session.
type SessionAuditLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"index;size:36" json:"session_id"`
	EventType  string    `gorm:"index;not null" json:"event_type"`
	Protocol   string    `gorm:"index" json:"protocol"`
	Address    string    `json:"address"`
	Username   string    `json:"username"`
	SourceIP   string    `json:"source_ip"`
	Details    string    `gorm:"type:text" json:"details"`
	BytesIn    int64     `gorm:"not null;default:0" json:"bytes_in"`  // client -> remote
	BytesOut   int64     `gorm:"not null;default:0" json:"bytes_out"` // remote -> client
	DurationMs int64     `gorm:"not null;default:0" json:"duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
