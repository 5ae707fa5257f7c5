package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidListingURL is returned for URLs that do not point at a supported listing page
var ErrInvalidListingURL = errors.New("invalid listing URL")

var listingPath = regexp.MustCompile(`^/rooms/(?:plus/)?(\d+)/?$`)

// ListingURL is a classified listing address
type ListingURL struct {
	Host      string // configured host, without www.
	Source    string // platform name used as externalSource
	ListingID string
	Canonical string
}

// Classifier recognizes listing URLs on the configured hosts
type Classifier struct {
	hosts map[string]string
}

// NewClassifier creates a classifier for hosts like "airbnb.com"
func NewClassifier(hosts []string) *Classifier {
	c := &Classifier{hosts: make(map[string]string, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "www."))
		if h == "" {
			continue
		}
		c.hosts[h] = sourceName(h)
	}
	return c
}

// Classify validates rawURL and extracts the listing id. No network access happens here.
func (c *Classifier) Classify(rawURL string) (ListingURL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ListingURL{}, fmt.Errorf("%w: url is empty", ErrInvalidListingURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ListingURL{}, fmt.Errorf("%w: %v", ErrInvalidListingURL, err)
	}
	if u.Scheme != "https" {
		return ListingURL{}, fmt.Errorf("%w: url must use https", ErrInvalidListingURL)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	source, ok := c.hosts[host]
	if !ok {
		return ListingURL{}, fmt.Errorf("%w: host %s is not a supported listing site", ErrInvalidListingURL, u.Hostname())
	}

	m := listingPath.FindStringSubmatch(u.Path)
	if m == nil {
		return ListingURL{}, fmt.Errorf("%w: expected a /rooms/<id> listing path", ErrInvalidListingURL)
	}

	return ListingURL{
		Host:      host,
		Source:    source,
		ListingID: m[1],
		Canonical: fmt.Sprintf("https://www.%s/rooms/%s", host, m[1]),
	}, nil
}

// sourceName turns airbnb.co.uk into airbnb
func sourceName(host string) string {
	if i := strings.Index(host, "."); i > 0 {
		return host[:i]
	}
	return host
}
