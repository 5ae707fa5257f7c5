package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Property is the normalized record produced from a batch entry or an external listing.
type Property struct {
	// 基本情報
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID    string `gorm:"type:varchar(64);not null;index:idx_tenant_dedupe,priority:1;index:idx_tenant_external,priority:1" json:"tenant_id"`
	Title       string `gorm:"type:text;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	Address     string `gorm:"type:text" json:"address"`
	City        string `gorm:"type:varchar(255);index" json:"city"`
	Country     string `gorm:"type:varchar(100)" json:"country,omitempty"`
	Category    string `gorm:"type:varchar(50);index" json:"category"`

	Bedrooms  int `gorm:"type:int;not null;default:0" json:"bedrooms"`
	Bathrooms int `gorm:"type:int;not null;default:0" json:"bathrooms"`
	MaxGuests int `gorm:"type:int;not null;default:0" json:"max_guests"`

	// 料金
	BasePrice   decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"base_price"`
	CleaningFee *decimal.Decimal `gorm:"type:decimal(12,2)" json:"cleaning_fee,omitempty"`
	Currency    string           `gorm:"type:varchar(3)" json:"currency,omitempty"`

	Latitude  *float64 `gorm:"type:decimal(10,7)" json:"latitude,omitempty"`
	Longitude *float64 `gorm:"type:decimal(10,7)" json:"longitude,omitempty"`

	Photos    datatypes.JSONSlice[string] `json:"photos"`
	Videos    datatypes.JSONSlice[string] `json:"videos"`
	Amenities datatypes.JSONSlice[string] `json:"amenities"`

	// 重複判定
	ExternalSource string `gorm:"type:varchar(50);index:idx_tenant_external,priority:2" json:"external_source,omitempty"`
	ExternalID     string `gorm:"type:varchar(255);index:idx_tenant_external,priority:3" json:"external_id,omitempty"`
	DedupeKey      string `gorm:"type:varchar(64);not null;index:idx_tenant_dedupe,priority:2" json:"-"`
	SourceURL      string `gorm:"type:text" json:"source_url,omitempty"`

	Status PropertyStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`

	ImportedAt time.Time `gorm:"not null" json:"imported_at"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime;index:idx_created_at,sort:desc" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// PropertyStatus は物件のステータス
type PropertyStatus string

const (
	PropertyStatusActive   PropertyStatus = "active"
	PropertyStatusInactive PropertyStatus = "inactive"
)

// TableName はテーブル名を明示的に指定
func (Property) TableName() string {
	return "properties"
}

// IsActive は物件がアクティブかどうか
func (p *Property) IsActive() bool {
	return p.Status == PropertyStatusActive
}

// HasExternalIdentity reports whether the record carries a (source, id) pair.
func (p *Property) HasExternalIdentity() bool {
	return p.ExternalSource != "" && p.ExternalID != ""
}
