package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"rental-portal/internal/importer"
	"rental-portal/internal/models"
)

// RecordImport stores the summary of a finished job. Re-recording a job overwrites it.
func (gdb *GormDB) RecordImport(ctx context.Context, job importer.ImportJob) error {
	errs, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode job errors: %w", err)
	}

	finished := time.Now().UTC()
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}

	entry := models.ImportLog{
		JobID:          job.ID,
		TenantID:       job.TenantID,
		Kind:           string(job.Kind),
		Source:         job.Source,
		Stage:          string(job.Stage),
		Total:          job.Total,
		CompletedCount: job.CompletedCount,
		FailedCount:    job.FailedCount,
		SkippedCount:   job.SkippedCount,
		Errors:         errs,
		StartedAt:      job.StartedAt,
		FinishedAt:     finished,
	}

	return gdb.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		UpdateAll: true,
	}).Create(&entry).Error
}

// GetImportLogs returns a tenant's import history, newest first
func (gdb *GormDB) GetImportLogs(ctx context.Context, tenantID string, limit int) ([]models.ImportLog, error) {
	var logs []models.ImportLog
	q := gdb.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("finished_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}

// ImportStats aggregates a tenant's import history
type ImportStats struct {
	Jobs           int64 `json:"jobs"`
	FailedJobs     int64 `json:"failed_jobs"`
	Imported       int64 `json:"imported"`
	FailedEntries  int64 `json:"failed_entries"`
	SkippedEntries int64 `json:"skipped_entries"`
	Properties     int64 `json:"properties"`
}

// GetImportStats returns aggregate counts for the tenant
func (gdb *GormDB) GetImportStats(ctx context.Context, tenantID string) (*ImportStats, error) {
	var stats ImportStats

	row := gdb.db.WithContext(ctx).Model(&models.ImportLog{}).
		Select("COUNT(*), COALESCE(SUM(completed_count), 0), COALESCE(SUM(failed_count), 0), COALESCE(SUM(skipped_count), 0)").
		Where("tenant_id = ?", tenantID).
		Row()
	if err := row.Scan(&stats.Jobs, &stats.Imported, &stats.FailedEntries, &stats.SkippedEntries); err != nil {
		return nil, err
	}

	if err := gdb.db.WithContext(ctx).Model(&models.ImportLog{}).
		Where("tenant_id = ? AND stage = ?", tenantID, string(importer.StageFailed)).
		Count(&stats.FailedJobs).Error; err != nil {
		return nil, err
	}

	count, err := gdb.CountProperties(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	stats.Properties = count

	return &stats, nil
}

// DeleteImportLogsBefore removes history older than cutoff
func (gdb *GormDB) DeleteImportLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := gdb.db.WithContext(ctx).Where("finished_at < ?", cutoff).Delete(&models.ImportLog{})
	return result.RowsAffected, result.Error
}

// CountImportLogsBefore counts history older than cutoff
func (gdb *GormDB) CountImportLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := gdb.db.WithContext(ctx).Model(&models.ImportLog{}).Where("finished_at < ?", cutoff).Count(&count).Error
	return count, err
}
