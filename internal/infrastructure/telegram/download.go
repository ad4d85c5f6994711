package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/fingerprint"
)

const (
	maxDownloadSize = 10 << 20
	downloadTimeout = 20 * time.Second
)

type downloader struct {
	client *http.Client
}

func newDownloader(client *http.Client) *downloader {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	return &downloader{client: client}
}

func (d *downloader) Download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, redactURL(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, redactURL(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ngerrors.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxDownloadSize)
	}
	return data, nil
}

func decodeImage(data []byte) (fingerprint.Hash, string, error) {
	mime := http.DetectContentType(data)
	hash, err := fingerprint.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, "", fmt.Errorf("decode image: %w", err)
	}
	return hash, mime, nil
}

// redactURL strips the request URL from transport errors. Telegram method and
// file URLs embed the bot token.
func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}
