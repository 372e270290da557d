package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxDownloadBytes caps the size of one image fetched from a result URL.
const MaxDownloadBytes = 32 << 20

// ErrDownloadTooLarge is returned when a result URL serves more than the
// download limit.
var ErrDownloadTooLarge = errors.New("imagegen: downloaded image exceeds size limit")

// download fetches an image from a temporary result URL. Some
// OpenAI-compatible servers ignore response_format and always return URLs.
func download(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	if url == "" {
		return nil, errors.New("imagegen: URL cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("imagegen: creating download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagegen: download failed with status %d", resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrDownloadTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("imagegen: reading image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrDownloadTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyResponse
	}
	return data, nil
}
