package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"rental-portal/internal/models"
)

// UpsertCalendarSync attaches a feed to a property, or refreshes the existing attachment
func (gdb *GormDB) UpsertCalendarSync(ctx context.Context, sync *models.CalendarSync) error {
	return gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var property models.Property
		err := tx.Select("id").Where("id = ? AND tenant_id = ?", sync.PropertyID, sync.TenantID).First(&property).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var existing models.CalendarSync
		err = tx.Where("property_id = ? AND ical_url = ?", sync.PropertyID, sync.ICalURL).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if sync.Status == "" {
				sync.Status = models.CalendarStatusPending
			}
			return tx.Create(sync).Error
		}
		if err != nil {
			return err
		}

		// keep sync history, refresh settings and make it due now
		existing.Source = sync.Source
		existing.SyncFrequency = sync.SyncFrequency
		existing.NextSyncAt = nil
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		*sync = existing
		return nil
	})
}

// GetDueCalendarSyncs returns feeds whose next sync time has passed
func (gdb *GormDB) GetDueCalendarSyncs(ctx context.Context, now time.Time, limit int) ([]models.CalendarSync, error) {
	var syncs []models.CalendarSync
	q := gdb.db.WithContext(ctx).
		Where("next_sync_at IS NULL OR next_sync_at <= ?", now).
		Order("next_sync_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&syncs).Error
	return syncs, err
}

// SaveCalendarSync persists the outcome of a sync attempt
func (gdb *GormDB) SaveCalendarSync(ctx context.Context, sync *models.CalendarSync) error {
	return gdb.db.WithContext(ctx).Save(sync).Error
}

// GetCalendarSyncs lists the feeds attached to a tenant's property
func (gdb *GormDB) GetCalendarSyncs(ctx context.Context, tenantID, propertyID string) ([]models.CalendarSync, error) {
	var syncs []models.CalendarSync
	err := gdb.db.WithContext(ctx).
		Where("tenant_id = ? AND property_id = ?", tenantID, propertyID).
		Order("created_at ASC").
		Find(&syncs).Error
	return syncs, err
}
