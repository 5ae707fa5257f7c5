// Package importer validates property batches and drives import jobs to completion.
package importer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage is the coarse phase of a job's lifecycle
type Stage string

const (
	StageValidating       Stage = "validating"
	StageProcessingMedia  Stage = "processing_media"
	StageSavingProperties Stage = "saving_properties"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageValidating:       0,
	StageProcessingMedia:  1,
	StageSavingProperties: 2,
	StageCompleted:        3,
	StageFailed:           3,
}

// IsTerminal reports whether the stage ends the job
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Precedes reports whether moving from s to next is a forward transition
func (s Stage) Precedes(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	return stageOrder[next] > stageOrder[s]
}

// ErrorType classifies an import error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeMedia      ErrorType = "media"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeDuplicate  ErrorType = "duplicate"
)

// BatchLevel is the entry index used for errors that concern the whole batch
const BatchLevel = -1

// ImportError is one problem recorded against a job
type ImportError struct {
	EntryIndex int       `json:"entryIndex"`
	EntryTitle string    `json:"entryTitle,omitempty"`
	Field      string    `json:"field,omitempty"`
	Message    string    `json:"message"`
	Type       ErrorType `json:"type"`
}

// JobKind distinguishes batch documents from single external listings
type JobKind string

const (
	JobKindBatch   JobKind = "batch"
	JobKindListing JobKind = "listing"
)

// ImportJob is the polled state of one import. Readers only ever see snapshots.
type ImportJob struct {
	ID                string        `json:"jobId"`
	TenantID          string        `json:"tenantId"`
	Kind              JobKind       `json:"kind"`
	Source            string        `json:"source,omitempty"`
	Total             int           `json:"total"`
	CompletedCount    int           `json:"completedCount"`
	FailedCount       int           `json:"failedCount"`
	SkippedCount      int           `json:"skippedCount"`
	CurrentEntryLabel *string       `json:"currentEntryLabel"`
	Stage             Stage         `json:"stage"`
	Errors            []ImportError `json:"errors"`
	CreatedIDs        []string      `json:"createdIds,omitempty"`
	UpdatedIDs        []string      `json:"updatedIds,omitempty"`
	StartedAt         time.Time     `json:"startedAt"`
	FinishedAt        *time.Time    `json:"finishedAt,omitempty"`
}

// IsComplete reports whether the job reached a terminal stage
func (j ImportJob) IsComplete() bool {
	return j.Stage.IsTerminal()
}

// Clone returns a deep copy safe to hand to concurrent readers
func (j ImportJob) Clone() ImportJob {
	out := j
	if j.CurrentEntryLabel != nil {
		label := *j.CurrentEntryLabel
		out.CurrentEntryLabel = &label
	}
	if j.FinishedAt != nil {
		finished := *j.FinishedAt
		out.FinishedAt = &finished
	}
	out.Errors = append([]ImportError(nil), j.Errors...)
	if out.Errors == nil {
		out.Errors = []ImportError{}
	}
	out.CreatedIDs = append([]string(nil), j.CreatedIDs...)
	out.UpdatedIDs = append([]string(nil), j.UpdatedIDs...)
	return out
}

// Settings are the per-batch import flags
type Settings struct {
	SkipDuplicates   bool `json:"skipDuplicates"`
	UpdateExisting   bool `json:"updateExisting"`
	DownloadMedia    bool `json:"downloadMedia"`
	ValidateMedia    bool `json:"validateMedia"`
	CreateThumbnails bool `json:"createThumbnails"`
}

// ImportBatch is a validated, typed batch document
type ImportBatch struct {
	Source     string          `json:"source"`
	ImportedAt time.Time       `json:"importedAt"`
	Settings   Settings        `json:"settings"`
	Entries    []PropertyEntry `json:"properties"`
}

// PropertyEntry is one property inside a batch document
type PropertyEntry struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Address     string           `json:"address"`
	City        string           `json:"city"`
	Country     string           `json:"country,omitempty"`
	Category    string           `json:"category"`
	Bedrooms    int              `json:"bedrooms"`
	Bathrooms   int              `json:"bathrooms"`
	MaxGuests   int              `json:"maxGuests"`
	BasePrice   decimal.Decimal  `json:"basePrice"`
	CleaningFee *decimal.Decimal `json:"cleaningFee,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Latitude    *float64         `json:"latitude,omitempty"`
	Longitude   *float64         `json:"longitude,omitempty"`
	Photos      []string         `json:"photos,omitempty"`
	Videos      []string         `json:"videos,omitempty"`
	Amenities   []string         `json:"amenities,omitempty"`

	ExternalID     string `json:"externalId,omitempty"`
	ExternalSource string `json:"externalSource,omitempty"`
}

// MediaKind distinguishes photos from videos
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MediaAsset is a media file that was fetched and stored for a property
type MediaAsset struct {
	Kind         MediaKind
	OriginalURL  string
	StoredKey    string
	ThumbnailKey string
	ContentType  string
	SizeBytes    int64
	Position     int
}

// MappedProperty is the normalized record handed to persistence
type MappedProperty struct {
	Title       string
	Description string
	Address     string
	City        string
	Country     string
	Category    string
	Bedrooms    int
	Bathrooms   int
	MaxGuests   int
	BasePrice   decimal.Decimal
	CleaningFee *decimal.Decimal
	Currency    string
	Latitude    *float64
	Longitude   *float64
	Photos      []string
	Videos      []string
	Amenities   []string

	ExternalSource string
	ExternalID     string
	SourceURL      string
	ImportedAt     time.Time

	Media []MediaAsset
}
