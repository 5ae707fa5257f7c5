package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"rental-portal/internal/importer"
	"rental-portal/internal/models"
)

// ErrNotFound is returned when a record does not exist for the tenant
var ErrNotFound = errors.New("record not found")

// FindDuplicate looks up an existing property with the same identity for the tenant
func (gdb *GormDB) FindDuplicate(ctx context.Context, tenantID string, identity importer.Identity) (string, bool, error) {
	q := gdb.db.WithContext(ctx).Model(&models.Property{}).Where("tenant_id = ?", tenantID)
	if identity.HasExternal() {
		q = q.Where("external_source = ? AND external_id = ?", identity.ExternalSource, identity.ExternalID)
	} else {
		q = q.Where("dedupe_key = ?", identity.DedupeKey)
	}

	var existing models.Property
	err := q.Select("id").Order("created_at ASC").First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return existing.ID, true, nil
}

// Create inserts a property and its stored media in one transaction
func (gdb *GormDB) Create(ctx context.Context, tenantID string, p *importer.MappedProperty) (string, error) {
	record := toModel(tenantID, p)
	record.ID = uuid.NewString()
	record.Status = models.PropertyStatusActive

	err := gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return saveMedia(tx, record.ID, p.Media)
	})
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// Update merges non-empty fields into an existing property. The id, creation
// time and status of the existing record are kept.
func (gdb *GormDB) Update(ctx context.Context, tenantID, propertyID string, p *importer.MappedProperty) error {
	return gdb.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Property
		err := tx.Where("id = ? AND tenant_id = ?", propertyID, tenantID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("property %s: %w", propertyID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		changes := toModel(tenantID, p)
		// struct Updates skips zero values, which gives merge semantics
		changes.Status = ""
		if err := tx.Model(&existing).Updates(changes).Error; err != nil {
			return err
		}

		if len(p.Media) == 0 {
			return nil
		}
		if err := tx.Where("property_id = ?", propertyID).Delete(&models.PropertyMedia{}).Error; err != nil {
			return err
		}
		return saveMedia(tx, propertyID, p.Media)
	})
}

// GetPropertyByID returns one of the tenant's properties
func (gdb *GormDB) GetPropertyByID(ctx context.Context, tenantID, id string) (*models.Property, error) {
	var property models.Property
	err := gdb.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &property, nil
}

// GetPropertyMedia returns stored media ordered for display
func (gdb *GormDB) GetPropertyMedia(ctx context.Context, propertyID string) ([]models.PropertyMedia, error) {
	var media []models.PropertyMedia
	err := gdb.db.WithContext(ctx).Where("property_id = ?", propertyID).Order("kind ASC, sort_order ASC").Find(&media).Error
	return media, err
}

// CountProperties returns how many properties the tenant has
func (gdb *GormDB) CountProperties(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := gdb.db.WithContext(ctx).Model(&models.Property{}).Where("tenant_id = ?", tenantID).Count(&count).Error
	return count, err
}

// GetAllProperties retrieves a tenant's properties, newest first
func (gdb *GormDB) GetAllProperties(ctx context.Context, tenantID string, limit int) ([]models.Property, error) {
	var properties []models.Property
	q := gdb.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&properties).Error
	return properties, err
}

func saveMedia(tx *gorm.DB, propertyID string, assets []importer.MediaAsset) error {
	if len(assets) == 0 {
		return nil
	}
	rows := lo.Map(assets, func(a importer.MediaAsset, _ int) models.PropertyMedia {
		return models.PropertyMedia{
			PropertyID:   propertyID,
			Kind:         models.MediaKind(a.Kind),
			OriginalURL:  a.OriginalURL,
			StoredKey:    a.StoredKey,
			ThumbnailKey: a.ThumbnailKey,
			ContentType:  a.ContentType,
			SizeBytes:    a.SizeBytes,
			SortOrder:    a.Position,
		}
	})
	return tx.Create(&rows).Error
}

func toModel(tenantID string, p *importer.MappedProperty) *models.Property {
	return &models.Property{
		TenantID:       tenantID,
		Title:          p.Title,
		Description:    p.Description,
		Address:        p.Address,
		City:           p.City,
		Country:        p.Country,
		Category:       p.Category,
		Bedrooms:       p.Bedrooms,
		Bathrooms:      p.Bathrooms,
		MaxGuests:      p.MaxGuests,
		BasePrice:      p.BasePrice,
		CleaningFee:    p.CleaningFee,
		Currency:       p.Currency,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Photos:         datatypes.JSONSlice[string](p.Photos),
		Videos:         datatypes.JSONSlice[string](p.Videos),
		Amenities:      datatypes.JSONSlice[string](p.Amenities),
		ExternalSource: p.ExternalSource,
		ExternalID:     p.ExternalID,
		DedupeKey:      importer.DedupeKey(p.Title, p.Address, p.City),
		SourceURL:      p.SourceURL,
		ImportedAt:     p.ImportedAt,
	}
}
