package models

import "time"

// CalendarSync tracks an iCal feed attached to a property after import
type CalendarSync struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID    string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_calendar_property_url,priority:1" json:"property_id"`
	TenantID      string     `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	ICalURL       string     `gorm:"type:varchar(700);not null;uniqueIndex:idx_calendar_property_url,priority:2" json:"ical_url"`
	Source        string     `gorm:"type:varchar(50);not null" json:"source"`
	SyncFrequency int        `gorm:"not null;default:60" json:"sync_frequency"` // minutes
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	EventsFound   int        `gorm:"not null;default:0" json:"events_found"`
	FailureCount  int        `gorm:"not null;default:0" json:"failure_count"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	NextSyncAt    *time.Time `gorm:"index" json:"next_sync_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (CalendarSync) TableName() string {
	return "calendar_syncs"
}

// Sync status constants
const (
	CalendarStatusPending = "pending"
	CalendarStatusSynced  = "synced"
	CalendarStatusError   = "error"
)

// IsDue checks if the feed should be fetched again
func (c *CalendarSync) IsDue(now time.Time) bool {
	if c.NextSyncAt == nil {
		return true
	}
	return !now.Before(*c.NextSyncAt)
}

// RecordSuccess records a successful feed fetch and schedules the next one
func (c *CalendarSync) RecordSuccess(events int, now time.Time) {
	c.Status = CalendarStatusSynced
	c.EventsFound = events
	c.FailureCount = 0
	c.LastError = ""
	c.LastSyncAt = &now
	next := now.Add(c.interval())
	c.NextSyncAt = &next
}

// RecordFailure records a failed fetch; the next attempt backs off with the failure count
func (c *CalendarSync) RecordFailure(err error, now time.Time) {
	c.Status = CalendarStatusError
	c.FailureCount++
	c.LastError = err.Error()
	c.LastSyncAt = &now

	backoff := c.interval() * time.Duration(c.FailureCount)
	if backoff > 24*time.Hour {
		backoff = 24 * time.Hour
	}
	next := now.Add(backoff)
	c.NextSyncAt = &next
}

func (c *CalendarSync) interval() time.Duration {
	if c.SyncFrequency <= 0 {
		return time.Hour
	}
	return time.Duration(c.SyncFrequency) * time.Minute
}
