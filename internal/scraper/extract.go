package scraper

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"rental-portal/internal/importer"
)

var (
	guestsPattern    = regexp.MustCompile(`(\d+)\s+guests?`)
	bedroomsPattern  = regexp.MustCompile(`(\d+)\s+bedrooms?`)
	bathroomsPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s+(?:private\s+|shared\s+)?baths?`)
	pricePattern     = regexp.MustCompile(`([$€£])\s?([\d,]+(?:\.\d{1,2})?)`)
)

var currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP"}

// ldListing is the subset of schema.org lodging markup that listing pages embed
type ldListing struct {
	Type        interface{} `json:"@type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       interface{} `json:"image"`
	Address     struct {
		StreetAddress   string `json:"streetAddress"`
		AddressLocality string `json:"addressLocality"`
		AddressRegion   string `json:"addressRegion"`
		AddressCountry  string `json:"addressCountry"`
	} `json:"address"`
	Geo struct {
		Latitude  json.Number `json:"latitude"`
		Longitude json.Number `json:"longitude"`
	} `json:"geo"`
	NumberOfRooms    json.Number `json:"numberOfRooms"`
	NumberOfBedrooms json.Number `json:"numberOfBedrooms"`
	NumberOfBaths    json.Number `json:"numberOfBathroomsTotal"`
	Occupancy        struct {
		MaxValue json.Number `json:"maxValue"`
	} `json:"occupancy"`
	AmenityFeature []struct {
		Name  string      `json:"name"`
		Value interface{} `json:"value"`
	} `json:"amenityFeature"`
	Offers struct {
		Price         json.Number `json:"price"`
		PriceCurrency string      `json:"priceCurrency"`
	} `json:"offers"`
}

// ExtractListing maps a listing page to a property. Missing required data is
// reported as problems rather than an error.
func ExtractListing(doc *goquery.Document, listing ListingURL, defaultCity string) (*importer.MappedProperty, []importer.FieldProblem) {
	p := &importer.MappedProperty{
		ExternalSource: listing.Source,
		ExternalID:     listing.ListingID,
		SourceURL:      listing.Canonical,
		Currency:       "USD",
		Category:       "rental",
		ImportedAt:     time.Now(),
	}

	ld := findLodgingData(doc)
	if ld != nil {
		applyStructuredData(p, ld)
	}
	applyMetaTags(doc, p)
	applySummaryText(doc, p)

	if p.City == "" {
		p.City = defaultCity
	}
	if p.Address == "" {
		p.Address = strings.Join(lo.Compact([]string{p.City, p.Country}), ", ")
	}

	var problems []importer.FieldProblem
	if p.Title == "" {
		problems = append(problems, importer.FieldProblem{Field: "title", Message: "listing title not found on page"})
	}
	if p.City == "" {
		problems = append(problems, importer.FieldProblem{Field: "city", Message: "listing location not found on page"})
	}
	if !p.BasePrice.IsPositive() {
		problems = append(problems, importer.FieldProblem{Field: "basePrice", Message: "nightly price not found on page"})
	}

	return p, problems
}

func findLodgingData(doc *goquery.Document) *ldListing {
	var found *ldListing
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}

		// pages embed either one object or an array of them
		var candidates []ldListing
		if strings.HasPrefix(raw, "[") {
			if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
				return true
			}
		} else {
			var single ldListing
			if err := json.Unmarshal([]byte(raw), &single); err != nil {
				return true
			}
			candidates = []ldListing{single}
		}

		for i := range candidates {
			if isLodgingType(candidates[i].Type) {
				found = &candidates[i]
				return false
			}
		}
		return true
	})
	return found
}

func isLodgingType(t interface{}) bool {
	var types []string
	switch v := t.(type) {
	case string:
		types = []string{v}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				types = append(types, s)
			}
		}
	}
	for _, typ := range types {
		switch typ {
		case "LodgingBusiness", "VacationRental", "Accommodation", "House", "Apartment", "Product", "Hotel":
			return true
		}
	}
	return false
}

func applyStructuredData(p *importer.MappedProperty, ld *ldListing) {
	p.Title = strings.TrimSpace(ld.Name)
	p.Description = strings.TrimSpace(ld.Description)
	p.Address = strings.TrimSpace(ld.Address.StreetAddress)
	p.City = strings.TrimSpace(ld.Address.AddressLocality)
	p.Country = strings.TrimSpace(ld.Address.AddressCountry)

	if typ, ok := ld.Type.(string); ok {
		switch typ {
		case "House", "Apartment", "Hotel":
			p.Category = strings.ToLower(typ)
		}
	}

	if lat, err := ld.Geo.Latitude.Float64(); err == nil {
		p.Latitude = &lat
	}
	if lng, err := ld.Geo.Longitude.Float64(); err == nil {
		p.Longitude = &lng
	}

	if n, err := ld.NumberOfBedrooms.Int64(); err == nil {
		p.Bedrooms = int(n)
	} else if n, err := ld.NumberOfRooms.Int64(); err == nil {
		p.Bedrooms = int(n)
	}
	if f, err := ld.NumberOfBaths.Float64(); err == nil {
		p.Bathrooms = int(f)
	}
	if n, err := ld.Occupancy.MaxValue.Int64(); err == nil {
		p.MaxGuests = int(n)
	}

	if price, err := decimal.NewFromString(ld.Offers.Price.String()); err == nil && price.IsPositive() {
		p.BasePrice = price
	}
	if ld.Offers.PriceCurrency != "" {
		p.Currency = strings.ToUpper(ld.Offers.PriceCurrency)
	}

	switch img := ld.Image.(type) {
	case string:
		p.Photos = append(p.Photos, img)
	case []interface{}:
		for _, item := range img {
			if s, ok := item.(string); ok {
				p.Photos = append(p.Photos, s)
			}
		}
	}

	for _, a := range ld.AmenityFeature {
		if v, ok := a.Value.(bool); ok && !v {
			continue
		}
		if name := strings.TrimSpace(a.Name); name != "" {
			p.Amenities = append(p.Amenities, name)
		}
	}
	p.Amenities = lo.Uniq(p.Amenities)
	p.Photos = lo.Uniq(p.Photos)
}

// applyMetaTags fills whatever structured data left empty
func applyMetaTags(doc *goquery.Document, p *importer.MappedProperty) {
	meta := func(selector string) string {
		v, _ := doc.Find(selector).First().Attr("content")
		return strings.TrimSpace(v)
	}

	if p.Title == "" {
		p.Title = firstNonEmpty(
			meta(`meta[property="og:title"]`),
			meta(`meta[name="twitter:title"]`),
			strings.TrimSpace(doc.Find("h1").First().Text()),
			strings.TrimSpace(doc.Find("title").First().Text()),
		)
	}
	if p.Description == "" {
		p.Description = firstNonEmpty(meta(`meta[property="og:description"]`), meta(`meta[name="description"]`))
	}
	if len(p.Photos) == 0 {
		doc.Find(`meta[property="og:image"]`).Each(func(i int, s *goquery.Selection) {
			if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
				p.Photos = append(p.Photos, strings.TrimSpace(v))
			}
		})
	}
	if p.Latitude == nil {
		if lat, err := strconv.ParseFloat(meta(`meta[property="place:location:latitude"]`), 64); err == nil {
			p.Latitude = &lat
		}
	}
	if p.Longitude == nil {
		if lng, err := strconv.ParseFloat(meta(`meta[property="place:location:longitude"]`), 64); err == nil {
			p.Longitude = &lng
		}
	}
}

// applySummaryText reads counts and price from the visible summary line, e.g.
// "4 guests · 2 bedrooms · 1 bath"
func applySummaryText(doc *goquery.Document, p *importer.MappedProperty) {
	text := strings.ToLower(doc.Find("body").Text())

	if p.MaxGuests == 0 {
		p.MaxGuests = firstInt(guestsPattern, text)
	}
	if p.Bedrooms == 0 {
		p.Bedrooms = firstInt(bedroomsPattern, text)
	}
	if p.Bathrooms == 0 {
		if m := bathroomsPattern.FindStringSubmatch(text); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				p.Bathrooms = int(f)
			}
		}
	}

	if !p.BasePrice.IsPositive() {
		priceText := doc.Find(`[data-testid="price"], ._tyxjp1, .price`).First().Text()
		if m := pricePattern.FindStringSubmatch(priceText); m != nil {
			if price, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", "")); err == nil {
				p.BasePrice = price
				p.Currency = currencySymbols[m[1]]
			}
		}
	}
}

func firstInt(re *regexp.Regexp, text string) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func firstNonEmpty(values ...string) string {
	v, _ := lo.Find(values, func(s string) bool { return s != "" })
	return v
}
