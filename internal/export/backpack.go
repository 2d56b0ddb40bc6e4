package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"openbackpack.org/internal/badge"
	"openbackpack.org/internal/bakery"
)

// lifecycle is the slice of the badge service the exporter consumes.
// Exports always read through it so documents reflect reconciled
// revocation status, never raw store data.
type lifecycle interface {
	Profile(ctx context.Context, userID string) (string, int, error)
	Collect(ctx context.Context, userID string) ([]badge.BadgeRecord, error)
}

// Exporter compiles a learner's full backpack document.
type Exporter struct {
	svc      lifecycle
	baker    *bakery.Client
	renderer *Renderer
	coverURL string
	http     *http.Client
	now      func() time.Time
}

// Options configures an Exporter.
type Options struct {
	Baker    *bakery.Client
	Renderer *Renderer
	CoverURL string
	Now      func() time.Time
}

// NewExporter wires the exporter to the lifecycle service and its
// document collaborators.
func NewExporter(svc lifecycle, opts Options) *Exporter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Exporter{
		svc:      svc,
		baker:    opts.Baker,
		renderer: opts.Renderer,
		coverURL: opts.CoverURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		now:      now,
	}
}

// Build compiles the multi-badge PDF for one learner. It mutates no
// lifecycle state of its own; a failure here leaves assertions and
// revocation records untouched.
func (e *Exporter) Build(ctx context.Context, userID string) ([]byte, error) {
	username, points, err := e.svc.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, err := e.svc.Collect(ctx, userID)
	if err != nil {
		return nil, err
	}

	attachments := make(map[string][]byte, len(records))
	for _, rec := range records {
		baked, err := e.baker.BakeFromURL(ctx, rec.ImageURL, rec.Assertion)
		if err != nil {
			return nil, fmt.Errorf("bake %s: %w", rec.Assertion.UID, err)
		}
		attachments[rec.Assertion.UID+".png"] = baked
	}

	html, err := GridHTML(records, username, points, e.now())
	if err != nil {
		return nil, err
	}
	grid, err := e.renderer.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}

	var cover []byte
	if e.coverURL != "" {
		cover, err = e.fetchCover(ctx)
		if err != nil {
			return nil, err
		}
	}

	props := map[string]string{
		"Title":    "Academic backpack | " + username,
		"Author":   "Open Backpack",
		"Subject":  "Self-contained export of all earned digital badges.",
		"Keywords": fmt.Sprintf("Name: %s, ID: %s", username, userID),
	}
	return Assemble(cover, grid, props, attachments)
}

func (e *Exporter) fetchCover(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.coverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("export: cover request: %w", err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export: fetch cover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("export: fetch cover: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}
