package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meilisearch/meilisearch-go"

	"rental-portal/internal/importer"
)

// Document is the searchable projection of a property
type Document struct {
	ID         string   `json:"id"`
	TenantID   string   `json:"tenant_id"`
	Title      string   `json:"title"`
	Address    string   `json:"address"`
	City       string   `json:"city"`
	Country    string   `json:"country,omitempty"`
	Category   string   `json:"category"`
	Bedrooms   int      `json:"bedrooms"`
	Bathrooms  int      `json:"bathrooms"`
	MaxGuests  int      `json:"max_guests"`
	BasePrice  float64  `json:"base_price"`
	Currency   string   `json:"currency"`
	Amenities  []string `json:"amenities"`
	Source     string   `json:"source,omitempty"`
	ImportedAt int64    `json:"imported_at"`
}

type SearchClient struct {
	client *meilisearch.Client
	index  string
}

func NewSearchClient(host, apiKey, index string) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})
	if index == "" {
		index = "properties"
	}

	return &SearchClient{
		client: client,
		index:  index,
	}
}

// InitIndex initializes the Meilisearch index
func (s *SearchClient) InitIndex() error {
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	// Ignore error if index already exists
	if err != nil && !strings.Contains(err.Error(), "index_already_exists") {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"title",
		"address",
		"city",
		"amenities",
	})
	if err != nil {
		return err
	}

	// tenant_id must stay filterable, every query is scoped by it
	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"tenant_id",
		"city",
		"category",
		"bedrooms",
		"max_guests",
		"base_price",
		"source",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"base_price",
		"bedrooms",
		"imported_at",
	})
	return err
}

// Healthy reports whether the search server answers
func (s *SearchClient) Healthy() bool {
	return s.client.IsHealthy()
}

// IndexProperty indexes a single saved property
func (s *SearchClient) IndexProperty(ctx context.Context, tenantID, propertyID string, p *importer.MappedProperty) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := NewDocument(tenantID, propertyID, p)
	if _, err := s.client.Index(s.index).AddDocuments([]Document{doc}, "id"); err != nil {
		return fmt.Errorf("failed to index property %s: %w", propertyID, err)
	}
	return nil
}

// NewDocument projects a mapped property into its search document
func NewDocument(tenantID, propertyID string, p *importer.MappedProperty) Document {
	price, _ := p.BasePrice.Float64()
	amenities := p.Amenities
	if amenities == nil {
		amenities = []string{}
	}
	return Document{
		ID:         propertyID,
		TenantID:   tenantID,
		Title:      p.Title,
		Address:    p.Address,
		City:       p.City,
		Country:    p.Country,
		Category:   p.Category,
		Bedrooms:   p.Bedrooms,
		Bathrooms:  p.Bathrooms,
		MaxGuests:  p.MaxGuests,
		BasePrice:  price,
		Currency:   p.Currency,
		Amenities:  amenities,
		Source:     p.ExternalSource,
		ImportedAt: p.ImportedAt.Unix(),
	}
}

// SearchResult represents search results
type SearchResult struct {
	Hits           []Document `json:"hits"`
	TotalHits      int64      `json:"total_hits"`
	ProcessingTime int64      `json:"processing_time_ms"`
}

// Search runs a filtered query restricted to one tenant's properties
func (s *SearchClient) Search(tenantID string, params FilterParams) (*SearchResult, error) {
	if params.Limit == 0 {
		params.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  params.Limit,
		Offset: params.Offset,
		Filter: BuildFilter(tenantID, params),
	}
	if params.SortBy != "" {
		searchReq.Sort = []string{params.SortBy}
	}

	searchRes, err := s.client.Index(s.index).Search(params.Query, searchReq)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		doc, err := decodeHit(hit)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	return &SearchResult{
		Hits:           docs,
		TotalHits:      searchRes.EstimatedTotalHits,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}

// decodeHit converts a raw hit back into a Document
func decodeHit(hit interface{}) (Document, error) {
	var doc Document
	raw, err := json.Marshal(hit)
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal(raw, &doc)
	return doc, err
}
