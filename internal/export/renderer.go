// Package export turns a reconciled backpack into the downloadable
// document: baked badge images, an HTML grid rendered to PDF by an
// external service, and a final merged PDF with the images attached.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrRendererUnavailable reports that the rendering service kept failing
// with gateway/timeout-class errors after all retries.
var ErrRendererUnavailable = errors.New("export: rendering service unavailable")

// Renderer converts HTML to PDF through a Gotenberg-style HTTP service.
type Renderer struct {
	base       string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewRenderer points at the rendering service endpoint.
func NewRenderer(baseURL string, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Renderer{
		base:       strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
}

// RenderPDF submits the HTML document and returns the rendered PDF.
// Gateway/timeout-class failures (502/503/504, network timeouts) are
// retried a bounded number of times; every other failure propagates
// immediately.
func (r *Renderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	backoff := r.backoff
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		pdf, retryable, err := r.renderOnce(ctx, html)
		if err == nil {
			return pdf, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrRendererUnavailable, lastErr)
}

func (r *Renderer) renderOnce(ctx context.Context, html string) ([]byte, bool, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, false, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, false, err
	}
	if err := mw.Close(); err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.base+"/forms/chromium/convert/html", &body)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, isTimeout(err), fmt.Errorf("export: render request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		pdf, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("export: read rendered pdf: %w", err)
		}
		return pdf, false, nil
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, true, fmt.Errorf("export: renderer returned %d", resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, false, fmt.Errorf("export: renderer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
