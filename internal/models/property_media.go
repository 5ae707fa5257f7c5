package models

import "time"

// PropertyMedia represents a media file stored for a property
type PropertyMedia struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID   string    `gorm:"type:varchar(36);not null;index" json:"property_id"`
	Kind         MediaKind `gorm:"type:varchar(10);not null" json:"kind"`
	OriginalURL  string    `gorm:"type:text;not null" json:"original_url"`
	StoredKey    string    `gorm:"type:text" json:"stored_key,omitempty"`
	ThumbnailKey string    `gorm:"type:text" json:"thumbnail_key,omitempty"`
	ContentType  string    `gorm:"type:varchar(100)" json:"content_type,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	SortOrder    int       `gorm:"not null;default:0;index" json:"sort_order"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// MediaKind distinguishes photos from videos
type MediaKind string

const (
	MediaKindPhoto MediaKind = "photo"
	MediaKindVideo MediaKind = "video"
)

// TableName specifies the table name for PropertyMedia
func (PropertyMedia) TableName() string {
	return "property_media"
}
