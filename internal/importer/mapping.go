package importer

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

const defaultCurrency = "USD"

// MapEntry normalizes a validated entry into the persistence shape
func MapEntry(entry PropertyEntry, batch *ImportBatch) *MappedProperty {
	importedAt := time.Now()
	source := ""
	if batch != nil {
		if !batch.ImportedAt.IsZero() {
			importedAt = batch.ImportedAt
		}
		source = batch.Source
	}

	currency := strings.ToUpper(strings.TrimSpace(entry.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	externalSource := strings.TrimSpace(entry.ExternalSource)
	if externalSource == "" && entry.ExternalID != "" {
		externalSource = source
	}

	return &MappedProperty{
		Title:          strings.TrimSpace(entry.Title),
		Description:    strings.TrimSpace(entry.Description),
		Address:        strings.TrimSpace(entry.Address),
		City:           strings.TrimSpace(entry.City),
		Country:        strings.TrimSpace(entry.Country),
		Category:       strings.ToLower(strings.TrimSpace(entry.Category)),
		Bedrooms:       entry.Bedrooms,
		Bathrooms:      entry.Bathrooms,
		MaxGuests:      entry.MaxGuests,
		BasePrice:      entry.BasePrice,
		CleaningFee:    entry.CleaningFee,
		Currency:       currency,
		Latitude:       entry.Latitude,
		Longitude:      entry.Longitude,
		Photos:         cleanList(entry.Photos),
		Videos:         cleanList(entry.Videos),
		Amenities:      cleanList(entry.Amenities),
		ExternalSource: strings.ToLower(externalSource),
		ExternalID:     strings.TrimSpace(entry.ExternalID),
		ImportedAt:     importedAt,
	}
}

// cleanList trims values, drops blanks and removes repeats while keeping order
func cleanList(values []string) []string {
	trimmed := lo.Map(values, func(v string, _ int) string {
		return strings.TrimSpace(v)
	})
	return lo.Uniq(lo.Compact(trimmed))
}

// entryLabel is what pollers see as the current entry
func entryLabel(index int, title string) string {
	if title != "" {
		return title
	}
	return "Entry #" + strconv.Itoa(index+1)
}
