// Package audit records the lifecycle of bridged terminal sessions in the
// database and mirrors every event to the standard logger.
//
// # Log Prefixes
//
//   - [audit] - one line per recorded event, write and purge failures
package audit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/1314ysys/WebTerminalTool/internal/database"
	"github.com/1314ysys/WebTerminalTool/internal/logutil"
	"gorm.io/gorm"
)

type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventConnectionFailed EventType = "connection_failed"
	EventClientAttached   EventType = "client_attached"
	EventAttachRejected   EventType = "attach_rejected"
	EventSessionClosed    EventType = "session_closed"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// Entry holds the fields of one audit event.
type Entry struct {
	SessionID  string
	Protocol   string
	Address    string
	Username   string
	SourceIP   string
	Details    string
	BytesIn    int64
	BytesOut   int64
	DurationMs int64
}

type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor migrates the audit table and returns an Auditor writing to db.
// If retentionDays is 0, DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) (*Auditor, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if err := db.AutoMigrate(&database.SessionAuditLog{}); err != nil {
		return nil, fmt.Errorf("migrate audit table: %w", err)
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}, nil
}

// Log records an event to the database and standard logger.
func (a *Auditor) Log(event EventType, e Entry) error {
	a.mu.RLock()
	now := a.nowFn()
	a.mu.RUnlock()

	record := database.SessionAuditLog{
		SessionID:  e.SessionID,
		EventType:  string(event),
		Protocol:   e.Protocol,
		Address:    e.Address,
		Username:   e.Username,
		SourceIP:   e.SourceIP,
		Details:    e.Details,
		BytesIn:    e.BytesIn,
		BytesOut:   e.BytesOut,
		DurationMs: e.DurationMs,
		CreatedAt:  now,
	}
	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[audit] %s session=%s protocol=%s addr=%s user=%s ip=%s details=%s",
		event,
		e.SessionID,
		e.Protocol,
		logutil.SanitizeForLog(e.Address),
		logutil.SanitizeForLog(e.Username),
		e.SourceIP,
		logutil.SanitizeForLog(e.Details),
	)
	return nil
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	SessionID string
	EventType string
	Protocol  string
	Username  string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// Query returns matching entries, newest first, and the total match count.
func (a *Auditor) Query(opts QueryOptions) ([]database.SessionAuditLog, int64, error) {
	tx := a.db.Model(&database.SessionAuditLog{})

	if opts.SessionID != "" {
		tx = tx.Where("session_id = ?", opts.SessionID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Protocol != "" {
		tx = tx.Where("protocol = ?", opts.Protocol)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.SessionAuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// PurgeOlderThan removes entries older than days, or the retention period
// when days is 0. Returns the number of records deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	a.mu.RLock()
	cutoff := a.nowFn().AddDate(0, 0, -days)
	a.mu.RUnlock()

	result := a.db.Where("created_at < ?", cutoff).Delete(&database.SessionAuditLog{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nowFn = fn
}
