// Package scraper reads external rental listing pages into importable properties.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"

	"rental-portal/internal/importer"
	"rental-portal/internal/ratelimit"
)

// ErrListingNotFound means the listing page does not exist or was delisted
var ErrListingNotFound = errors.New("listing not found")

// Config controls how listing pages are fetched
type Config struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	RequestDelay time.Duration
	Headless     bool
	ChromePath   string
	UserAgent    string
	ListingHosts []string
	DefaultCity  string
}

// Scraper fetches listing pages with colly and falls back to headless Chrome
// when the static HTML carries no listing data
type Scraper struct {
	cfg        Config
	classifier *Classifier
	collector  *colly.Collector
	breaker    *CircuitBreaker
	logger     *slog.Logger

	limitersMu sync.Mutex
	limiters   map[string]*ratelimit.HostLimiter

	// pageURL picks the address actually fetched for a classified listing
	pageURL       func(ListingURL) string
	fetchHeadless func(ctx context.Context, pageURL string) (string, error)
}

// NewScraper creates a scraper for the configured listing hosts
func NewScraper(cfg Config, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scraper")

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		RandomDelay: cfg.RequestDelay,
	}); err != nil {
		logger.Warn("failed to set collector limit rule", "error", err)
	}
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	s := &Scraper{
		cfg:        cfg,
		classifier: NewClassifier(cfg.ListingHosts),
		collector:  c,
		breaker:    NewCircuitBreaker(5, 30*time.Minute, logger),
		logger:     logger,
		limiters:   make(map[string]*ratelimit.HostLimiter),
		pageURL:    func(l ListingURL) string { return l.Canonical },
	}
	s.fetchHeadless = s.fetchHTMLWithHeadlessBrowser
	return s
}

// Classify validates a listing URL without fetching it
func (s *Scraper) Classify(rawURL string) (ListingURL, error) {
	return s.classifier.Classify(rawURL)
}

// FetchListing reads one listing page. Missing fields come back as problems;
// an error means the page itself could not be read.
func (s *Scraper) FetchListing(ctx context.Context, rawURL string) (*importer.Listing, error) {
	listing, err := s.classifier.Classify(rawURL)
	if err != nil {
		return nil, err
	}

	if !s.breaker.CanProceed() {
		_, failures, total := s.breaker.GetStatus()
		return nil, fmt.Errorf("listing site is rejecting requests (%d/%d failures), try again later", failures, total)
	}

	limiter := s.limiterFor(listing.Host)
	if err := limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer limiter.Release()

	pageURL := s.pageURL(listing)
	log := s.logger.With("url", pageURL, "listing_id", listing.ListingID)
	log.Info("fetching listing")

	html, err := s.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}

	property, problems := ExtractListing(doc, listing, s.cfg.DefaultCity)

	// static HTML of client-rendered pages lacks the data; retry with a browser
	if len(problems) > 0 && s.cfg.Headless {
		log.Info("static page incomplete, retrying with headless browser", "problems", len(problems))
		rendered, herr := s.fetchHeadless(ctx, pageURL)
		if herr != nil {
			log.Warn("headless fetch failed", "error", herr)
		} else if rdoc, perr := goquery.NewDocumentFromReader(strings.NewReader(rendered)); perr == nil {
			property, problems = ExtractListing(rdoc, listing, s.cfg.DefaultCity)
		}
	}

	log.Info("listing read", "title", property.Title, "problems", len(problems))
	return &importer.Listing{Property: property, Problems: problems}, nil
}

func (s *Scraper) limiterFor(host string) *ratelimit.HostLimiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	l, ok := s.limiters[host]
	if !ok {
		l = ratelimit.NewHostLimiter(1, s.cfg.RequestDelay, s.cfg.RequestDelay/2)
		s.limiters[host] = l
	}
	return l
}

// fetchPage performs the request with exponential backoff retry
func (s *Scraper) fetchPage(ctx context.Context, pageURL string) (string, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// delay * 2^(attempt-1), max 60s
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * s.cfg.RetryDelay
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
			s.logger.Debug("retrying listing fetch", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		body, status, err := s.visit(pageURL)
		if err == nil {
			s.breaker.RecordSuccess()
			return body, nil
		}

		lastErr, lastStatus = err, status
		s.logger.Warn("listing request failed", "attempt", attempt+1, "status", status, "error", err)

		if status == http.StatusNotFound || status == http.StatusGone {
			return "", fmt.Errorf("%w: status %d", ErrListingNotFound, status)
		}
		s.breaker.RecordFailure(status)

		// client errors other than 429 won't change on retry
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			break
		}
	}

	if lastStatus != 0 {
		return "", fmt.Errorf("listing request failed with status %d: %w", lastStatus, lastErr)
	}
	return "", fmt.Errorf("listing request failed after %d retries: %w", s.cfg.MaxRetries, lastErr)
}

func (s *Scraper) visit(pageURL string) (string, int, error) {
	c := s.collector.Clone()

	var body []byte
	var status int
	var respErr error

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		respErr = err
	})

	visitErr := c.Visit(pageURL)
	c.Wait()

	if respErr != nil {
		return "", status, respErr
	}
	if visitErr != nil {
		return "", status, visitErr
	}
	return string(body), status, nil
}

// fetchHTMLWithHeadlessBrowser renders the page in Chrome and returns the final HTML
func (s *Scraper) fetchHTMLWithHeadlessBrowser(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(s.cfg.UserAgent),
	)
	if s.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, s.cfg.Timeout+10*time.Second)
	defer cancel()

	var htmlContent string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
		// let client-side rendering settle
		chromedp.Sleep(3*time.Second),
		chromedp.OuterHTML(`html`, &htmlContent, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp error: %w", err)
	}

	s.logger.Debug("headless fetch complete", "url", pageURL, "bytes", len(htmlContent))
	return htmlContent, nil
}
