package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/resumind/resumind/pkg/queue"
)

// DefaultMaxResumeBytes bounds the size of a fetched resume.
const DefaultMaxResumeBytes = 10 << 20

// ErrTooLarge is returned when a resume exceeds the size limit.
var ErrTooLarge = errors.New("resume exceeds size limit")

// Document is a fetched resume file.
type Document struct {
	Name        string
	ContentType string
	Body        []byte
}

// Fetcher downloads the resume behind a (signed) file URL.
type Fetcher interface {
	Fetch(ctx context.Context, url, name string) (*Document, error)
}

// HTTPFetcher fetches documents over HTTP.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPFetcher creates a fetcher with the given request timeout and size limit.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResumeBytes
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, MaxBytes: maxBytes}
}

// Fetch GETs url. Client errors (4xx) and oversized bodies are permanent;
// network failures and 5xx responses are retried by the queue.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, name string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch resume: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("fetch resume: upstream returned %s", resp.Status)
	case resp.StatusCode >= 400:
		return nil, queue.Permanent(fmt.Errorf("fetch resume: %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read resume: %w", err)
	}
	if int64(len(body)) > f.MaxBytes {
		return nil, queue.Permanent(fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.MaxBytes))
	}

	return &Document{
		Name:        name,
		ContentType: contentType(resp.Header.Get("Content-Type"), name),
		Body:        body,
	}, nil
}

// contentType prefers the response header and falls back to the file extension.
func contentType(header, name string) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}
