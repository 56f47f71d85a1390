package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	infraerrors "github.com/jonesrussell/ocrbase/infrastructure/errors"
	"github.com/jonesrussell/ocrbase/infrastructure/retry"
)

// HTTPFetcher downloads source documents over HTTP.
type HTTPFetcher struct {
	client  *http.Client
	maxSize int64
}

func NewHTTPFetcher(client *http.Client, maxSize int64) *HTTPFetcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &HTTPFetcher{client: client, maxSize: maxSize}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build source request: %w", err))
	}
	req.Header.Set("User-Agent", "ocrbase-fetcher/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err = infraerrors.ParseHTTPError(resp); err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	if resp.ContentLength > f.maxSize {
		return nil, retry.Permanent(fmt.Errorf("source is %d bytes, limit is %d", resp.ContentLength, f.maxSize))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, retry.Permanent(fmt.Errorf("source exceeds %d bytes", f.maxSize))
	}
	if len(data) == 0 {
		return nil, retry.Permanent(errors.New("source is empty"))
	}
	return &Source{Data: data, MimeType: resp.Header.Get("Content-Type")}, nil
}
