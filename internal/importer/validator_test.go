package importer

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const validEntry = `{
	"title": "Seaside Loft",
	"description": "Two rooms by the beach",
	"address": "1 Ocean Drive",
	"city": "Lisbon",
	"category": "apartment",
	"bedrooms": 2,
	"bathrooms": 1,
	"maxGuests": 4,
	"basePrice": 120,
	"photos": ["https://cdn.example.com/loft-1.jpg"],
	"amenities": ["wifi", "kitchen"]
}`

func batchOf(entries ...string) []byte {
	return []byte(`{"source":"csv-export","settings":{"skipDuplicates":true},"properties":[` + strings.Join(entries, ",") + `]}`)
}

func TestValidator_Validate(t *testing.T) {
	v := MustValidator()

	tests := []struct {
		name       string
		raw        []byte
		wantValid  bool
		wantSubstr string
	}{
		{
			name:      "valid batch",
			raw:       batchOf(validEntry),
			wantValid: true,
		},
		{
			name:       "malformed json",
			raw:        []byte(`{"properties": [`),
			wantValid:  false,
			wantSubstr: "file is not valid JSON",
		},
		{
			name:       "missing properties array",
			raw:        []byte(`{"source":"x"}`),
			wantValid:  false,
			wantSubstr: "properties: is required",
		},
		{
			name:       "empty properties array",
			raw:        []byte(`{"properties":[]}`),
			wantValid:  false,
			wantSubstr: "properties",
		},
		{
			name:       "negative price",
			raw:        batchOf(strings.Replace(validEntry, `"basePrice": 120`, `"basePrice": -5`, 1)),
			wantValid:  false,
			wantSubstr: "properties[0].basePrice",
		},
		{
			name:       "missing title",
			raw:        batchOf(strings.Replace(validEntry, `"title": "Seaside Loft",`, ``, 1)),
			wantValid:  false,
			wantSubstr: "properties[0].title: is required",
		},
		{
			name:       "fractional bedrooms",
			raw:        batchOf(strings.Replace(validEntry, `"bedrooms": 2`, `"bedrooms": 2.5`, 1)),
			wantValid:  false,
			wantSubstr: "properties[0].bedrooms",
		},
		{
			name:       "integral float bedrooms",
			raw:        batchOf(strings.Replace(validEntry, `"bedrooms": 2`, `"bedrooms": 2.0`, 1)),
			wantValid:  false,
			wantSubstr: "properties[0].bedrooms: must be a whole number",
		},
		{
			name:       "photo is not a url",
			raw:        batchOf(strings.Replace(validEntry, `https://cdn.example.com/loft-1.jpg`, `not a url`, 1)),
			wantValid:  false,
			wantSubstr: "properties[0].photos[0]",
		},
		{
			name:       "settings flag of wrong type",
			raw:        []byte(`{"settings":{"skipDuplicates":"yes"},"properties":[` + validEntry + `]}`),
			wantValid:  false,
			wantSubstr: "settings.skipDuplicates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.raw)
			if result.Valid != tt.wantValid {
				t.Fatalf("expected valid=%v, got %v (errors: %v)", tt.wantValid, result.Valid, result.Errors)
			}
			if tt.wantSubstr == "" {
				if len(result.Errors) != 0 {
					t.Errorf("expected no errors, got %v", result.Errors)
				}
				return
			}
			joined := strings.Join(result.Errors, "\n")
			if !strings.Contains(joined, tt.wantSubstr) {
				t.Errorf("expected errors to contain %q, got %v", tt.wantSubstr, result.Errors)
			}
		})
	}
}

func TestValidator_ValidateIsIdempotent(t *testing.T) {
	v := MustValidator()
	raw := batchOf(
		strings.Replace(validEntry, `"basePrice": 120`, `"basePrice": -5`, 1),
		`{"title": ""}`,
	)

	first := v.Validate(raw)
	second := v.Validate(raw)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical results, got %v and %v", first, second)
	}
	if first.Valid {
		t.Fatal("expected invalid result")
	}
	// entry 0 errors are reported before entry 1 errors
	if !strings.HasPrefix(first.Errors[0], "properties[0]") {
		t.Errorf("expected errors sorted by entry, got %v", first.Errors)
	}
}

func TestValidator_Parse(t *testing.T) {
	v := MustValidator()

	t.Run("decodes entries and settings", func(t *testing.T) {
		batch, issues, err := v.Parse(batchOf(validEntry))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(issues) != 0 {
			t.Fatalf("expected no issues, got %v", issues)
		}
		if !batch.Settings.SkipDuplicates {
			t.Error("expected skipDuplicates to be decoded")
		}
		if len(batch.Entries) != 1 || batch.Entries[0].Title != "Seaside Loft" {
			t.Fatalf("unexpected entries: %+v", batch.Entries)
		}
		if batch.Entries[0].BasePrice.String() != "120" {
			t.Errorf("expected base price 120, got %s", batch.Entries[0].BasePrice)
		}
	})

	t.Run("integral float is reported against its field", func(t *testing.T) {
		bad := strings.Replace(validEntry, `"maxGuests": 4`, `"maxGuests": 4.0`, 1)
		_, issues, err := v.Parse(batchOf(bad))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(issues) != 1 || issues[0].Field != "maxGuests" {
			t.Fatalf("expected one maxGuests issue, got %+v", issues)
		}
		if strings.Contains(issues[0].Message, "json:") {
			t.Errorf("expected a readable message, got %q", issues[0].Message)
		}
	})

	t.Run("entry issues keep the batch usable", func(t *testing.T) {
		bad := strings.Replace(validEntry, `"basePrice": 120`, `"basePrice": -5`, 1)
		batch, issues, err := v.Parse(batchOf(validEntry, bad))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(batch.Entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(batch.Entries))
		}
		if len(issues) != 1 {
			t.Fatalf("expected 1 issue, got %v", issues)
		}
		if issues[0].EntryIndex != 1 || issues[0].Field != "basePrice" || issues[0].EntryTitle != "Seaside Loft" {
			t.Errorf("unexpected issue: %+v", issues[0])
		}
	})

	t.Run("malformed document", func(t *testing.T) {
		_, _, err := v.Parse([]byte("not json"))
		if !errors.Is(err, ErrMalformedDocument) {
			t.Errorf("expected ErrMalformedDocument, got %v", err)
		}
	})

	t.Run("invalid envelope", func(t *testing.T) {
		_, issues, err := v.Parse([]byte(`{"properties":"nope"}`))
		if !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument, got %v", err)
		}
		if len(issues) == 0 || issues[0].EntryIndex != BatchLevel {
			t.Errorf("expected batch-level issues, got %v", issues)
		}
	})
}

func TestFieldPath(t *testing.T) {
	tests := []struct {
		pointer  string
		expected string
	}{
		{"", ""},
		{"/basePrice", "basePrice"},
		{"/photos/2", "photos[2]"},
		{"/settings/skipDuplicates", "settings.skipDuplicates"},
		{"/properties/0/title", "properties[0].title"},
	}

	for _, tt := range tests {
		t.Run(tt.pointer, func(t *testing.T) {
			if got := fieldPath(tt.pointer); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
