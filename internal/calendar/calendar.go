// Package calendar attaches iCal availability feeds to imported properties and
// refreshes them on a schedule.
package calendar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rental-portal/internal/models"
)

const (
	defaultFrequency = 60
	minFrequency     = 5
	maxFeedBytes     = 5 << 20
	dueBatchSize     = 50
)

var (
	ErrInvalidRequest = errors.New("invalid calendar sync request")
	ErrNotCalendar    = errors.New("response is not an iCalendar feed")
)

// Store persists feed attachments
type Store interface {
	UpsertCalendarSync(ctx context.Context, sync *models.CalendarSync) error
	GetDueCalendarSyncs(ctx context.Context, now time.Time, limit int) ([]models.CalendarSync, error)
	SaveCalendarSync(ctx context.Context, sync *models.CalendarSync) error
	GetCalendarSyncs(ctx context.Context, tenantID, propertyID string) ([]models.CalendarSync, error)
}

// Request is the body of a calendar sync configure call
type Request struct {
	PropertyID    string `json:"propertyId"`
	ICalURL       string `json:"icalUrl"`
	Source        string `json:"source"`
	SyncFrequency int    `json:"syncFrequency"`
}

// Service configures and refreshes calendar feeds
type Service struct {
	store  Store
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

// Configure validates req and attaches the feed to the tenant's property.
// The feed is fetched on the next scheduled sync.
func (s *Service) Configure(ctx context.Context, tenantID string, req Request) (*models.CalendarSync, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	sync := &models.CalendarSync{
		PropertyID:    req.PropertyID,
		TenantID:      tenantID,
		ICalURL:       req.ICalURL,
		Source:        req.Source,
		SyncFrequency: req.SyncFrequency,
		Status:        models.CalendarStatusPending,
	}
	if err := s.store.UpsertCalendarSync(ctx, sync); err != nil {
		return nil, err
	}

	s.logger.Info("calendar sync configured", "tenant_id", tenantID, "property_id", req.PropertyID, "source", req.Source)
	return sync, nil
}

// List returns the feeds attached to one of the tenant's properties
func (s *Service) List(ctx context.Context, tenantID, propertyID string) ([]models.CalendarSync, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return nil, fmt.Errorf("%w: propertyId is required", ErrInvalidRequest)
	}
	return s.store.GetCalendarSyncs(ctx, tenantID, propertyID)
}

func validateRequest(req *Request) error {
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	req.ICalURL = strings.TrimSpace(req.ICalURL)
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))

	if req.PropertyID == "" {
		return fmt.Errorf("%w: propertyId is required", ErrInvalidRequest)
	}
	u, err := url.Parse(req.ICalURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: icalUrl must be an http(s) URL", ErrInvalidRequest)
	}
	if req.Source == "" {
		req.Source = "ical"
	}
	if req.SyncFrequency == 0 {
		req.SyncFrequency = defaultFrequency
	}
	if req.SyncFrequency < minFrequency {
		return fmt.Errorf("%w: syncFrequency must be at least %d minutes", ErrInvalidRequest, minFrequency)
	}
	return nil
}

// SyncDue refreshes every feed whose next sync time has passed
func (s *Service) SyncDue(ctx context.Context) (synced, failed int, err error) {
	due, err := s.store.GetDueCalendarSyncs(ctx, s.now().UTC(), dueBatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load due calendar syncs: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		sync := &due[i]
		log := s.logger.With("calendar_sync_id", sync.ID, "property_id", sync.PropertyID)

		events, fetchErr := s.fetchEvents(ctx, sync.ICalURL)
		now := s.now().UTC()
		if fetchErr != nil {
			sync.RecordFailure(fetchErr, now)
			failed++
			log.Warn("calendar sync failed", "error", fetchErr, "failures", sync.FailureCount)
		} else {
			sync.RecordSuccess(events, now)
			synced++
			log.Debug("calendar synced", "events", events)
		}

		if err := s.store.SaveCalendarSync(ctx, sync); err != nil {
			log.Error("failed to save calendar sync", "error", err)
		}
	}
	return synced, failed, nil
}

func (s *Service) fetchEvents(ctx context.Context, feedURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}
	return CountEvents(io.LimitReader(resp.Body, maxFeedBytes))
}

// CountEvents counts VEVENT components in an iCalendar stream
func CountEvents(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	// an unfolded DESCRIPTION line can run as long as the feed itself
	scanner.Buffer(make([]byte, 0, 64*1024), maxFeedBytes)

	sawCalendar := false
	events := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.EqualFold(line, "BEGIN:VCALENDAR"):
			sawCalendar = true
		case strings.EqualFold(line, "BEGIN:VEVENT"):
			events++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if !sawCalendar {
		return 0, ErrNotCalendar
	}
	return events, nil
}
