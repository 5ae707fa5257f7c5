// Package media downloads property photos and videos into object storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/nfnt/resize"

	"rental-portal/internal/importer"
)

// Processor fetches remote media, checks it and stores it
type Processor struct {
	client     *http.Client
	store      ObjectStore
	maxBytes   int64
	thumbWidth uint
	logger     *slog.Logger
}

// NewProcessor creates a processor writing to store
func NewProcessor(store ObjectStore, maxBytes int64, thumbWidth uint, timeout time.Duration, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		client:     &http.Client{Timeout: timeout},
		store:      store,
		maxBytes:   maxBytes,
		thumbWidth: thumbWidth,
		logger:     logger.With("component", "media"),
	}
}

// Process downloads one media file for a tenant's property
func (p *Processor) Process(ctx context.Context, tenantID string, req importer.MediaRequest, opts importer.MediaOptions) (importer.MediaAsset, error) {
	data, err := p.download(ctx, req.URL)
	if err != nil {
		return importer.MediaAsset{}, err
	}

	mime := mimetype.Detect(data)
	if opts.Validate {
		if err := checkKind(req.Kind, mime); err != nil {
			return importer.MediaAsset{}, err
		}
	}

	base := fmt.Sprintf("properties/%s/%ss/%s", tenantID, req.Kind, uuid.NewString())
	key := base + mime.Extension()
	if err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mime.String()); err != nil {
		return importer.MediaAsset{}, err
	}

	asset := importer.MediaAsset{
		Kind:        req.Kind,
		OriginalURL: req.URL,
		StoredKey:   key,
		ContentType: mime.String(),
		SizeBytes:   int64(len(data)),
		Position:    req.Position,
	}

	if opts.Thumbnails && req.Kind == importer.MediaPhoto {
		thumbKey, err := p.thumbnail(ctx, base, data)
		if err != nil {
			// the original is stored; a missing thumbnail is not worth failing over
			p.logger.Warn("thumbnail failed", "url", req.URL, "error", err)
		} else {
			asset.ThumbnailKey = thumbKey
		}
	}

	return asset, nil
}

func (p *Processor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media URL: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}
	if p.maxBytes > 0 && resp.ContentLength > p.maxBytes {
		return nil, fmt.Errorf("file is %s, larger than the %s limit",
			units.HumanSize(float64(resp.ContentLength)), units.HumanSize(float64(p.maxBytes)))
	}

	reader := io.Reader(resp.Body)
	if p.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, p.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("file is larger than the %s limit", units.HumanSize(float64(p.maxBytes)))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download returned an empty file")
	}
	return data, nil
}

func checkKind(kind importer.MediaKind, mime *mimetype.MIME) error {
	prefix := "image/"
	if kind == importer.MediaVideo {
		prefix = "video/"
	}
	for m := mime; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), prefix) {
			return nil
		}
	}
	return fmt.Errorf("unexpected content type %s for a %s", mime.String(), kind)
}

func (p *Processor) thumbnail(ctx context.Context, base string, data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := img
	if uint(img.Bounds().Dx()) > p.thumbWidth {
		thumb = resize.Resize(p.thumbWidth, 0, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	key := base + "_thumb.jpg"
	if err := p.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/jpeg"); err != nil {
		return "", err
	}
	return key, nil
}
