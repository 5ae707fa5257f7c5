package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rental-portal/internal/auth"
	"rental-portal/internal/database"
	"rental-portal/internal/models"
	"rental-portal/internal/search"
)

// PropertyReader reads a tenant's imported properties
type PropertyReader interface {
	GetAllProperties(ctx context.Context, tenantID string, limit int) ([]models.Property, error)
	GetPropertyByID(ctx context.Context, tenantID, id string) (*models.Property, error)
	GetPropertyMedia(ctx context.Context, propertyID string) ([]models.PropertyMedia, error)
}

// PropertySearcher runs tenant-scoped search queries
type PropertySearcher interface {
	Search(tenantID string, params search.FilterParams) (*search.SearchResult, error)
}

// PropertyHandler serves imported property listings
type PropertyHandler struct {
	properties PropertyReader
	searcher   PropertySearcher
}

// NewPropertyHandler creates a property handler. searcher may be nil.
func NewPropertyHandler(properties PropertyReader, searcher PropertySearcher) *PropertyHandler {
	return &PropertyHandler{properties: properties, searcher: searcher}
}

// List returns the tenant's properties, newest first
func (h *PropertyHandler) List(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	properties, err := h.properties.GetAllProperties(c.Request.Context(), auth.TenantID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"properties": properties,
		"count":      len(properties),
	})
}

// Get returns one property with its stored media
func (h *PropertyHandler) Get(c *gin.Context) {
	property, err := h.properties.GetPropertyByID(c.Request.Context(), auth.TenantID(c), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	media, err := h.properties.GetPropertyMedia(c.Request.Context(), property.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"property": property, "media": media})
}

// Search queries the search index within the tenant
func (h *PropertyHandler) Search(c *gin.Context) {
	if h.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not enabled"})
		return
	}

	params := search.FilterParams{
		Query:    c.Query("q"),
		City:     c.Query("city"),
		Category: c.Query("category"),
		SortBy:   c.Query("sort"),
		Limit:    int64(queryInt(c, "limit", 20)),
		Offset:   int64(queryInt(c, "offset", 0)),
	}
	if v, err := strconv.ParseFloat(c.Query("min_price"), 64); err == nil {
		params.MinPrice = &v
	}
	if v, err := strconv.ParseFloat(c.Query("max_price"), 64); err == nil {
		params.MaxPrice = &v
	}
	if v, err := strconv.Atoi(c.Query("bedrooms")); err == nil {
		params.MinBedrooms = &v
	}
	if v, err := strconv.Atoi(c.Query("guests")); err == nil {
		params.MinGuests = &v
	}

	result, err := h.searcher.Search(auth.TenantID(c), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// queryInt parses a positive integer query parameter
func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
