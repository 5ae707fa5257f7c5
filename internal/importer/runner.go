package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PropertyStore persists mapped properties for a tenant
type PropertyStore interface {
	Ping(ctx context.Context) error
	FindDuplicate(ctx context.Context, tenantID string, identity Identity) (string, bool, error)
	Create(ctx context.Context, tenantID string, p *MappedProperty) (string, error)
	Update(ctx context.Context, tenantID, propertyID string, p *MappedProperty) error
}

// MediaRequest describes one remote media file to fetch
type MediaRequest struct {
	URL      string
	Kind     MediaKind
	Position int
}

// MediaOptions mirrors the media-related batch settings
type MediaOptions struct {
	Validate   bool
	Thumbnails bool
}

// MediaProcessor downloads and stores media for a property
type MediaProcessor interface {
	Process(ctx context.Context, tenantID string, req MediaRequest, opts MediaOptions) (MediaAsset, error)
}

// Indexer makes saved properties searchable. Failures never affect the job.
type Indexer interface {
	IndexProperty(ctx context.Context, tenantID, propertyID string, p *MappedProperty) error
}

// FieldProblem is a mapping problem found while reading an external listing
type FieldProblem struct {
	Field   string
	Message string
}

// Listing is the outcome of reading one external listing
type Listing struct {
	Property *MappedProperty
	Problems []FieldProblem
}

// ListingFetcher reads an external listing page
type ListingFetcher interface {
	FetchListing(ctx context.Context, listingURL string) (*Listing, error)
}

// PublishFunc receives a snapshot after every job mutation
type PublishFunc func(job ImportJob)

// Runner executes import jobs stage by stage
type Runner struct {
	validator *Validator
	store     PropertyStore
	media     MediaProcessor
	indexer   Indexer
	listings  ListingFetcher
	logger    *slog.Logger
	now       func() time.Time
}

// RunnerOption configures optional collaborators
type RunnerOption func(*Runner)

// WithMedia enables media download
func WithMedia(m MediaProcessor) RunnerOption {
	return func(r *Runner) { r.media = m }
}

// WithIndexer enables search indexing of saved properties
func WithIndexer(i Indexer) RunnerOption {
	return func(r *Runner) { r.indexer = i }
}

// WithListings enables single-listing imports
func WithListings(f ListingFetcher) RunnerOption {
	return func(r *Runner) { r.listings = f }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner around a property store
func NewRunner(validator *Validator, store PropertyStore, opts ...RunnerOption) *Runner {
	r := &Runner{
		validator: validator,
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewJob returns a job in its initial validating state
func NewJob(id, tenantID string, kind JobKind, startedAt time.Time) ImportJob {
	return ImportJob{
		ID:        id,
		TenantID:  tenantID,
		Kind:      kind,
		Stage:     StageValidating,
		Errors:    []ImportError{},
		StartedAt: startedAt,
	}
}

// tracker owns the mutable job and publishes a snapshot after each change
type tracker struct {
	job     ImportJob
	publish PublishFunc
	now     func() time.Time
}

func (t *tracker) flush() {
	if t.publish != nil {
		t.publish(t.job.Clone())
	}
}

func (t *tracker) advance(stage Stage) {
	if !t.job.Stage.Precedes(stage) {
		return
	}
	t.job.Stage = stage
	t.flush()
}

func (t *tracker) current(label string) {
	t.job.CurrentEntryLabel = &label
	t.flush()
}

func (t *tracker) record(index int, title, field, message string, typ ErrorType) {
	t.job.Errors = append(t.job.Errors, ImportError{
		EntryIndex: index,
		EntryTitle: title,
		Field:      field,
		Message:    message,
		Type:       typ,
	})
}

// failEntry records the errors and counts the entry once
func (t *tracker) failEntry(skipped bool) {
	t.job.FailedCount++
	if skipped {
		t.job.SkippedCount++
	}
	t.flush()
}

func (t *tracker) finish(stage Stage) ImportJob {
	finished := t.now()
	t.job.FinishedAt = &finished
	t.job.Stage = stage
	t.flush()
	return t.job.Clone()
}

type plannedEntry struct {
	index    int
	title    string
	property *MappedProperty
}

// RunBatch imports a raw batch document. The returned job is terminal.
func (r *Runner) RunBatch(ctx context.Context, job ImportJob, raw []byte, publish PublishFunc) ImportJob {
	t := &tracker{job: job.Clone(), publish: publish, now: r.now}
	t.job.Kind = JobKindBatch
	t.flush()

	log := r.logger.With("job_id", job.ID, "tenant_id", job.TenantID)

	batch, issues, err := r.validator.Parse(raw)
	if err != nil {
		log.Warn("batch rejected", "error", err)
		if len(issues) == 0 {
			t.record(BatchLevel, "", "", ErrMalformedDocument.Error(), ErrorTypeValidation)
		}
		for _, issue := range issues {
			t.record(BatchLevel, "", issue.Field, issue.Message, ErrorTypeValidation)
		}
		return t.finish(StageFailed)
	}

	t.job.Total = len(batch.Entries)
	t.job.Source = batch.Source
	t.flush()

	if err := r.store.Ping(ctx); err != nil {
		log.Error("property store unavailable", "error", err)
		t.record(BatchLevel, "", "", fmt.Sprintf("property store unavailable: %v", err), ErrorTypeDatabase)
		return t.finish(StageFailed)
	}

	byIndex := make(map[int][]Issue)
	for _, issue := range issues {
		byIndex[issue.EntryIndex] = append(byIndex[issue.EntryIndex], issue)
	}

	settings := batch.Settings
	seen := make(map[string]int)
	var plan []plannedEntry

	for i, entry := range batch.Entries {
		if err := ctx.Err(); err != nil {
			return r.abort(t, err)
		}

		title := entry.Title
		if problems, ok := byIndex[i]; ok {
			title = problems[0].EntryTitle
			t.current(entryLabel(i, title))
			for _, p := range problems {
				t.record(i, title, p.Field, p.Message, ErrorTypeValidation)
			}
			t.failEntry(false)
			continue
		}

		t.current(entryLabel(i, title))
		mapped := MapEntry(entry, batch)
		identity := IdentityOf(mapped)

		if settings.SkipDuplicates {
			if first, dup := seen[identity.Key()]; dup {
				t.record(i, title, "", fmt.Sprintf("duplicate of entry %d in this batch", first), ErrorTypeDuplicate)
				t.failEntry(true)
				continue
			}

			existingID, found, err := r.store.FindDuplicate(ctx, job.TenantID, identity)
			if err != nil {
				log.Warn("duplicate lookup failed", "entry", i, "error", err)
				t.record(i, title, "", fmt.Sprintf("duplicate lookup failed: %v", err), ErrorTypeDatabase)
				t.failEntry(false)
				continue
			}
			if found {
				t.record(i, title, "", fmt.Sprintf("matches existing property %s", existingID), ErrorTypeDuplicate)
				t.failEntry(true)
				continue
			}
		}

		seen[identity.Key()] = i
		plan = append(plan, plannedEntry{index: i, title: title, property: mapped})
	}

	if settings.DownloadMedia && len(plan) > 0 {
		t.advance(StageProcessingMedia)
		if r.media == nil {
			t.record(BatchLevel, "", "", "media storage is not configured; remote media URLs were kept", ErrorTypeMedia)
			t.flush()
		} else {
			opts := MediaOptions{Validate: settings.ValidateMedia, Thumbnails: settings.CreateThumbnails}
			for _, p := range plan {
				if err := ctx.Err(); err != nil {
					return r.abort(t, err)
				}
				t.current(entryLabel(p.index, p.title))
				r.processMedia(ctx, t, job.TenantID, p, opts)
			}
		}
	}

	t.advance(StageSavingProperties)
	for _, p := range plan {
		if err := ctx.Err(); err != nil {
			return r.abort(t, err)
		}
		t.current(entryLabel(p.index, p.title))
		r.save(ctx, t, log, job.TenantID, p, settings)
	}

	log.Info("batch import finished",
		"total", t.job.Total,
		"completed", t.job.CompletedCount,
		"failed", t.job.FailedCount,
		"skipped", t.job.SkippedCount)
	return t.finish(StageCompleted)
}

func (r *Runner) processMedia(ctx context.Context, t *tracker, tenantID string, p plannedEntry, opts MediaOptions) {
	fetch := func(urls []string, kind MediaKind, field string) {
		for pos, url := range urls {
			asset, err := r.media.Process(ctx, tenantID, MediaRequest{URL: url, Kind: kind, Position: pos}, opts)
			if err != nil {
				t.record(p.index, p.title, fmt.Sprintf("%s[%d]", field, pos), err.Error(), ErrorTypeMedia)
				t.flush()
				continue
			}
			p.property.Media = append(p.property.Media, asset)
		}
	}
	fetch(p.property.Photos, MediaPhoto, "photos")
	fetch(p.property.Videos, MediaVideo, "videos")
}

func (r *Runner) save(ctx context.Context, t *tracker, log *slog.Logger, tenantID string, p plannedEntry, settings Settings) {
	if settings.UpdateExisting && !settings.SkipDuplicates {
		existingID, found, err := r.store.FindDuplicate(ctx, tenantID, IdentityOf(p.property))
		if err != nil {
			t.record(p.index, p.title, "", fmt.Sprintf("duplicate lookup failed: %v", err), ErrorTypeDatabase)
			t.failEntry(false)
			return
		}
		if found {
			if err := r.store.Update(ctx, tenantID, existingID, p.property); err != nil {
				log.Warn("property update failed", "entry", p.index, "property_id", existingID, "error", err)
				t.record(p.index, p.title, "", fmt.Sprintf("failed to update property: %v", err), ErrorTypeDatabase)
				t.failEntry(false)
				return
			}
			t.job.CompletedCount++
			t.job.UpdatedIDs = append(t.job.UpdatedIDs, existingID)
			t.flush()
			r.index(ctx, log, tenantID, existingID, p.property)
			return
		}
	}

	id, err := r.store.Create(ctx, tenantID, p.property)
	if err != nil {
		log.Warn("property create failed", "entry", p.index, "error", err)
		t.record(p.index, p.title, "", fmt.Sprintf("failed to save property: %v", err), ErrorTypeDatabase)
		t.failEntry(false)
		return
	}
	t.job.CompletedCount++
	t.job.CreatedIDs = append(t.job.CreatedIDs, id)
	t.flush()
	r.index(ctx, log, tenantID, id, p.property)
}

func (r *Runner) index(ctx context.Context, log *slog.Logger, tenantID, id string, p *MappedProperty) {
	if r.indexer == nil {
		return
	}
	if err := r.indexer.IndexProperty(ctx, tenantID, id, p); err != nil {
		log.Warn("search indexing failed", "property_id", id, "error", err)
	}
}

func (r *Runner) abort(t *tracker, err error) ImportJob {
	message := "import was interrupted"
	if errors.Is(err, context.DeadlineExceeded) {
		message = "import exceeded the maximum job duration"
	}
	t.record(BatchLevel, "", "", message, ErrorTypeDatabase)
	return t.finish(StageFailed)
}

// RunListing imports a single external listing. Duplicate detection and media
// download do not apply.
func (r *Runner) RunListing(ctx context.Context, job ImportJob, listingURL string, publish PublishFunc) ImportJob {
	t := &tracker{job: job.Clone(), publish: publish, now: r.now}
	t.job.Kind = JobKindListing
	t.job.Total = 1
	t.flush()

	log := r.logger.With("job_id", job.ID, "tenant_id", job.TenantID, "url", listingURL)

	if r.listings == nil {
		t.record(BatchLevel, "", "url", "listing imports are not enabled", ErrorTypeValidation)
		return t.finish(StageFailed)
	}

	if err := r.store.Ping(ctx); err != nil {
		log.Error("property store unavailable", "error", err)
		t.record(BatchLevel, "", "", fmt.Sprintf("property store unavailable: %v", err), ErrorTypeDatabase)
		return t.finish(StageFailed)
	}

	t.current(listingURL)
	listing, err := r.listings.FetchListing(ctx, listingURL)
	if err != nil {
		log.Warn("listing fetch failed", "error", err)
		t.record(0, "", "url", fmt.Sprintf("listing could not be read: %v", err), ErrorTypeValidation)
		return t.finish(StageFailed)
	}

	title := ""
	if listing.Property != nil {
		title = listing.Property.Title
	}
	if len(listing.Problems) > 0 || listing.Property == nil {
		for _, p := range listing.Problems {
			t.record(0, title, p.Field, p.Message, ErrorTypeValidation)
		}
		if listing.Property == nil && len(listing.Problems) == 0 {
			t.record(0, title, "", "listing page did not contain property data", ErrorTypeValidation)
		}
		t.failEntry(false)
		return t.finish(StageCompleted)
	}

	t.current(entryLabel(0, title))
	t.advance(StageSavingProperties)
	r.save(ctx, t, log, job.TenantID, plannedEntry{index: 0, title: title, property: listing.Property}, Settings{})

	log.Info("listing import finished", "completed", t.job.CompletedCount, "failed", t.job.FailedCount)
	return t.finish(StageCompleted)
}
